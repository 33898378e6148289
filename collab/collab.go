// Package collab defines the external collaborators AQSE consumes per
// spec.md §6, plus small in-memory implementations used by tests and by
// the default wiring in the runtime package. None of these are AQSE's
// responsibility to implement for real — the physical operator library,
// the shuffle I/O subsystem, and the cluster scheduler own them — but a
// compiling, testable engine needs concrete stand-ins, just as the
// teacher separates a public interface (e.g. sif.PartitionCache) from an
// internal implementation (internal/pcache.lru).
package collab

import (
	"github.com/quiverdb/aqse/plan"
)

// ShuffleHandle opaquely identifies a shuffle write whose output a reader
// ranges over; AQSE never inspects it, only threads it through to
// ShuffleManager.
type ShuffleHandle string

// MapOutputTracker exposes preferred read locations for a mapper-id
// range, per spec.md §4.1's "Preferred-location contract": for any
// adaptive partition [mapStart, mapEnd), AQSE asks for the hosts where
// those mapper outputs live so the scheduler can place the reduce task.
type MapOutputTracker interface {
	GetMapLocations(dep ShuffleHandle, mapStart, mapEnd int) []string
}

// InMemoryMapOutputTracker is a MapOutputTracker backed by a static
// per-mapper host assignment, sufficient for tests.
type InMemoryMapOutputTracker struct {
	HostsByMapper map[ShuffleHandle][]string
}

// NewInMemoryMapOutputTracker constructs an InMemoryMapOutputTracker.
func NewInMemoryMapOutputTracker() *InMemoryMapOutputTracker {
	return &InMemoryMapOutputTracker{HostsByMapper: make(map[ShuffleHandle][]string)}
}

// GetMapLocations returns the union of hosts for mappers in [mapStart, mapEnd).
func (t *InMemoryMapOutputTracker) GetMapLocations(dep ShuffleHandle, mapStart, mapEnd int) []string {
	all := t.HostsByMapper[dep]
	seen := make(map[string]bool)
	var hosts []string
	for i := mapStart; i < mapEnd && i < len(all); i++ {
		if !seen[all[i]] {
			seen[all[i]] = true
			hosts = append(hosts, all[i])
		}
	}
	return hosts
}

// Row is an opaque row handle read back from a ShuffleManager.Reader;
// AQSE never inspects row contents, only counts and forwards them.
type Row interface{}

// Reader iterates the rows a shuffle read range covers, per
// spec.md §6's `ShuffleManager.getReader` interface.
type Reader interface {
	Next() (int, Row, bool) // (reducerID, row, ok)
	Close() error
}

// ShuffleManager serves reducer reads over a shuffle write, per spec.md
// §6. AQSE's rangemodel package computes the ranges; ShuffleManager
// supplies the bytes behind them.
type ShuffleManager interface {
	GetReader(dep ShuffleHandle, reducerStart, reducerEnd int, mapStart, mapEnd int) (Reader, error)
}

// EnsureRequirements is the external rule named in spec.md §6 that
// inserts exchanges wherever a plan's actual distribution/order doesn't
// satisfy what a parent operator requires. AQSE's OptimizeJoin rewriter
// (spec.md §4.6) depends on a real implementation of this to count
// surviving exchanges after grafting a broadcast-hash join candidate, so
// a minimal but real implementation lives in the rewrite package. The
// runtime calls rewrite.EnsureRequirements directly and only asserts at
// compile time that it has this function type.
type EnsureRequirements func(root plan.Node) plan.Node

// CollapseCodegenStages is the external rule named in spec.md §6 that
// fuses adjacent whole-stage-codegen-eligible operators. Fusion has no
// observable effect on the plan shapes AQSE's rewriters and coordinator
// reason about, so the default implementation is an honest no-op
// passthrough (spec.md's "Out of scope: code generation/whole-stage
// fusion").
func CollapseCodegenStages(root plan.Node) plan.Node { return root }
