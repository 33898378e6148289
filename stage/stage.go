// Package stage implements the QueryStage half of spec.md §3: a plan-tree
// wrapper that owns a mutable child and two single-assignment slots
// (mapOutputStatistics, cachedResult), guarded by its own monitor exactly
// as spec.md §5's concurrency model requires.
package stage

import (
	"fmt"
	"sync"

	"github.com/gofrs/uuid"

	aqerrors "github.com/quiverdb/aqse/errors"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stats"
)

// Kind distinguishes the three QueryStage variants named in spec.md §3.
type Kind int

const (
	// ShuffleStageKind's child must be a plan.Exchange of ShuffleExchangeKind.
	ShuffleStageKind Kind = iota
	// BroadcastStageKind's child must be a plan.Exchange of BroadcastExchangeKind.
	BroadcastStageKind
	// ResultStageKind wraps the plan root; its child may be any plan.Node.
	ResultStageKind
)

func (k Kind) String() string {
	switch k {
	case ShuffleStageKind:
		return "ShuffleStage"
	case BroadcastStageKind:
		return "BroadcastStage"
	case ResultStageKind:
		return "ResultStage"
	default:
		return "UnknownStage"
	}
}

// Artifact stands in for the materialized value a stage produces: a
// shuffled row set for a ShuffleStage, the query result for a
// ResultStage, or the distributed value for a BroadcastStage. AQSE never
// inspects it; executing a stage is someone else's job (spec.md §1's
// "out of scope" operator library) — this package only enforces the
// single-assignment and memoization discipline around it.
type Artifact interface{}

// Executor runs a stage's finalized child plan and returns the artifact
// it produces, the one piece of real work spec.md leaves external
// (§4.4 step 6, §4.5's broadcast side-effect).
type Executor interface {
	// ExecuteShuffle runs child (required to be a ShuffleExchange) end to
	// end and returns the resulting artifact and the MapOutputStatistics
	// the shuffle write produced.
	ExecuteShuffle(child plan.Node) (Artifact, stats.MapOutputStatistics, error)
	// ExecuteResult runs child to completion and returns the query result.
	ExecuteResult(child plan.Node) (Artifact, error)
	// PrepareBroadcast materializes child (required to be a
	// BroadcastExchange) and distributes it, returning the broadcast value.
	PrepareBroadcast(child plan.Node) (Artifact, error)
}

// QueryStage is a plan-tree wrapper owning a mutable child, per spec.md
// §3. Child replacement by a rewriter, the single assignment of
// mapOutputStatistics, and the single assignment of the cached result all
// happen under mu, mirroring the per-stage monitor spec.md §5 requires.
type QueryStage struct {
	mu sync.Mutex

	id   string
	kind Kind

	child plan.Node

	// inFlight is non-nil while a RunOnce call is executing; later callers
	// wait on its done channel instead of redoing the work, giving the
	// "concurrent execute calls serialize; only the first does the work"
	// guarantee of spec.md §4.4 without holding mu across the (possibly
	// long) call.
	inFlight  *runState
	resultSet bool
	result    Artifact
	resultErr error

	statsSet bool
	mapStats stats.MapOutputStatistics
}

// NewShuffleStage constructs a ShuffleStage over child, which must be a
// *plan.Exchange of ShuffleExchangeKind.
func NewShuffleStage(child plan.Node) (*QueryStage, error) {
	if ex, ok := child.(*plan.Exchange); !ok || ex.Kind != plan.ShuffleExchangeKind {
		return nil, aqerrors.PlanInvariantViolation{Reason: "ShuffleStage.child must be a ShuffleExchange"}
	}
	return newStage(ShuffleStageKind, child), nil
}

// NewBroadcastStage constructs a BroadcastStage over child, which must be
// a *plan.Exchange of BroadcastExchangeKind.
func NewBroadcastStage(child plan.Node) (*QueryStage, error) {
	if ex, ok := child.(*plan.Exchange); !ok || ex.Kind != plan.BroadcastExchangeKind {
		return nil, aqerrors.PlanInvariantViolation{Reason: "BroadcastStage.child must be a BroadcastExchange"}
	}
	return newStage(BroadcastStageKind, child), nil
}

// NewResultStage constructs the terminal ResultStage wrapping root.
func NewResultStage(root plan.Node) *QueryStage {
	return newStage(ResultStageKind, root)
}

func newStage(kind Kind, child plan.Node) *QueryStage {
	id, err := uuid.NewV4()
	idStr := ""
	if err == nil {
		idStr = id.String()
	}
	return &QueryStage{id: idStr, kind: kind, child: child}
}

// ID returns this stage's stable identity. Stage inputs use it as the
// shuffle handle they pass to a MapOutputTracker, and the runtime uses it
// in log lines and events; the Stage Planner's reuse table is keyed by
// output schema shape, not by this id.
func (s *QueryStage) ID() string { return s.id }

// Children returns this stage's single child, so a QueryStage satisfies
// plan.Node when it is itself the root handed back by PlanQueryStage
// (spec.md §4.3's ResultStage case).
func (s *QueryStage) Children() []plan.Node { return []plan.Node{s.Child()} }

// WithNewChildren returns a new QueryStage of the same kind over the given
// child, mirroring the shallow-copy contract every other plan.Node honors.
func (s *QueryStage) WithNewChildren(children []plan.Node) plan.Node {
	if len(children) != 1 {
		panic("QueryStage takes exactly one child")
	}
	return newStage(s.Kind(), children[0])
}

// Output delegates to the current child's output schema.
func (s *QueryStage) Output() plan.Schema { return s.Child().Output() }

// OutputPartitioning delegates to the current child's partitioning.
func (s *QueryStage) OutputPartitioning() plan.Partitioning { return s.Child().OutputPartitioning() }

// OutputOrdering delegates to the current child's ordering.
func (s *QueryStage) OutputOrdering() plan.Ordering { return s.Child().OutputOrdering() }

// Stats delegates to the current child's estimated/measured size.
func (s *QueryStage) Stats() plan.Stats { return s.Child().Stats() }

// Canonical renders this stage by its kind and the canonical form of its
// current child, consistent with how QueryStageInput's Canonical renders
// the stage it hides (see ShuffleStageInput.Canonical).
func (s *QueryStage) Canonical() string {
	return fmt.Sprintf("QueryStage[%s](%s)", s.Kind(), s.Child().Canonical())
}

// Kind returns which QueryStage variant this is.
func (s *QueryStage) Kind() Kind { return s.kind }

// Child returns the current child plan under the stage monitor.
func (s *QueryStage) Child() plan.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

// SetChild replaces the child plan, as rewriters do between statistics
// arriving and execution starting (spec.md §4.4 step 2) and as codegen
// collapse does just before execution (step 4). It is an error to call
// this once the stage's artifact has already been produced and cached —
// spec.md §3's "mutated by rewriters until first execute, then frozen".
// The new child is swapped in atomically under mu so a half-applied
// rewrite is never observable, per spec.md §9.
func (s *QueryStage) SetChild(child plan.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultSet {
		return aqerrors.PlanInvariantViolation{Reason: fmt.Sprintf("stage %s: cannot mutate child after its result has been cached", s.id)}
	}
	s.child = child
	return nil
}

// MapOutputStatistics returns the shuffle statistics this stage produced
// and whether they have been set yet. Only meaningful for ShuffleStage.
func (s *QueryStage) MapOutputStatistics() (stats.MapOutputStatistics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapStats, s.statsSet
}

// SetMapOutputStatistics assigns the shuffle statistics this stage's
// ExecuteShuffle call produced. Single-assignment per spec.md §3: a
// second call is a programming error.
func (s *QueryStage) SetMapOutputStatistics(m stats.MapOutputStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsSet {
		return aqerrors.PlanInvariantViolation{Reason: fmt.Sprintf("stage %s: mapOutputStatistics already set", s.id)}
	}
	s.mapStats = m
	s.statsSet = true
	return nil
}

// Result returns the cached artifact and whether it has been memoized yet.
func (s *QueryStage) Result() (Artifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resultSet {
		return nil, false
	}
	return s.result, true
}

// Prepared reports whether this stage's broadcast value (or, equivalently
// for a non-broadcast stage, its execution result) has been produced.
func (s *QueryStage) Prepared() bool {
	_, ok := s.Result()
	return ok
}

// runState is the per-attempt bookkeeping a single RunOnce call owns:
// waiters capture a pointer to it under mu and then read result/err only
// after done has closed, so a failed attempt's outcome never gets
// confused with whatever attempt replaces it.
type runState struct {
	done   chan struct{}
	result Artifact
	err    error
}

// RunOnce runs fn for this stage and memoizes its outcome only on
// success: concurrent callers observe the same (Artifact, error) pair for
// that attempt, and only the first caller's fn actually executes — the
// "concurrent execute calls on the same stage serialize and only the
// first does the work" guarantee of spec.md §4.4/§4.5. Later callers
// block on a channel rather than holding mu, so fn is free to perform its
// own blocking work (the child-stage fan-out) without risking a deadlock
// against this stage's own monitor.
//
// A failing fn leaves the stage uncached (spec.md §5: "no partial state
// is committed"; §7: "do not cache a partial result"): every caller that
// was waiting on that attempt — including ones blocked on it — receives
// the same error, but resultSet stays false, so the very next RunOnce
// call retries the whole protocol from scratch rather than replaying a
// stale failure forever.
func (s *QueryStage) RunOnce(fn func() (Artifact, error)) (Artifact, error) {
	s.mu.Lock()
	if s.resultSet {
		result, err := s.result, s.resultErr
		s.mu.Unlock()
		return result, err
	}
	if s.inFlight != nil {
		rs := s.inFlight
		s.mu.Unlock()
		<-rs.done
		return rs.result, rs.err
	}
	rs := &runState{done: make(chan struct{})}
	s.inFlight = rs
	s.mu.Unlock()

	result, err := fn()
	rs.result, rs.err = result, err

	s.mu.Lock()
	if err == nil {
		s.result, s.resultErr, s.resultSet = result, err, true
	}
	s.inFlight = nil
	s.mu.Unlock()
	close(rs.done)

	return result, err
}
