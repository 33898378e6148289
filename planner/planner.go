// Package planner implements PlanQueryStage from spec.md §4.3: the
// bottom-up transform that fragments a physical plan at every Exchange
// into QueryStages joined by QueryStageInputs, reusing a QueryStage
// across branches whose exchange is semantically equal modulo attribute
// renaming.
package planner

import (
	"log"
	"strings"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
)

// commandNode is the optional interface plan.CommandExec (and any other
// side-effecting root operator) implements.
type commandNode interface {
	IsCommand() bool
}

// bucketEntry pairs a previously-emitted Exchange with the QueryStage
// created for it, so a later identical-modulo-renaming Exchange can reuse
// the same stage instead of creating a new one.
type bucketEntry struct {
	exchange *plan.Exchange
	stage    *stage.QueryStage
}

// PlanQueryStage walks root bottom-up, replacing every plan.Exchange with
// the appropriate QueryStageInput over a QueryStage, and finally wraps the
// transformed root in a ResultStage unless it is a side-effecting command.
// Identity when cfg.AdaptiveExecutionEnabled is false, per spec.md §4.3.
func PlanQueryStage(root plan.Node, cfg *config.Options) plan.Node {
	if root == nil {
		return nil
	}
	if !cfg.AdaptiveExecutionEnabled {
		return root
	}
	buckets := make(map[string][]bucketEntry)
	transformed := transform(root, buckets)
	if cmd, ok := transformed.(commandNode); ok && cmd.IsCommand() {
		return transformed
	}
	return stage.NewResultStage(transformed)
}

// transform recurses bottom-up, rebuilding n over its already-transformed
// children before deciding whether n itself is an Exchange to fragment.
func transform(n plan.Node, buckets map[string][]bucketEntry) plan.Node {
	children := n.Children()
	if len(children) > 0 {
		newChildren := make([]plan.Node, len(children))
		changed := false
		for i, c := range children {
			nc := transform(c, buckets)
			newChildren[i] = nc
			if nc != c {
				changed = true
			}
		}
		if changed {
			n = n.WithNewChildren(newChildren)
		}
	}

	ex, ok := n.(*plan.Exchange)
	if !ok {
		return n
	}
	return fragmentExchange(ex, buckets)
}

// fragmentExchange implements the reuse rule: bucket by output schema
// shape, then scan the bucket for an Exchange semantically equal to ex
// modulo attribute renaming (plan.Equal, via Canonical's positional
// rendering). A hit reuses that bucket entry's QueryStage under a fresh
// QueryStageInput exposing ex's own output attributes; a miss allocates a
// new QueryStage and records it for later branches to find.
func fragmentExchange(ex *plan.Exchange, buckets map[string][]bucketEntry) plan.Node {
	key := schemaShapeKey(ex.Output())
	for _, entry := range buckets[key] {
		if entry.exchange.Kind == ex.Kind && plan.Equal(entry.exchange, ex) {
			return newStageInput(entry.stage, ex.Output())
		}
	}

	st := newStageFor(ex)
	buckets[key] = append(buckets[key], bucketEntry{exchange: ex, stage: st})
	return newStageInput(st, ex.Output())
}

// newStageFor constructs a fresh QueryStage over ex. ex is always a
// well-formed *plan.Exchange produced by NewShuffleExchange or
// NewBroadcastExchange, so the stage constructors' kind checks can never
// fail here; a failure indicates a broken plan.Exchange invariant
// elsewhere in the tree, which is a programming error worth stopping on
// loudly, mirroring the teacher's log.Panicf on an unrecognized task kind
// (internal/dataframe/dataframe-executable.go).
func newStageFor(ex *plan.Exchange) *stage.QueryStage {
	switch ex.Kind {
	case plan.ShuffleExchangeKind:
		st, err := stage.NewShuffleStage(ex)
		if err != nil {
			log.Panicf("planner: ShuffleExchange failed stage construction: %v", err)
		}
		return st
	case plan.BroadcastExchangeKind:
		st, err := stage.NewBroadcastStage(ex)
		if err != nil {
			log.Panicf("planner: BroadcastExchange failed stage construction: %v", err)
		}
		return st
	default:
		log.Panicf("planner: unrecognized exchange kind %v", ex.Kind)
		return nil
	}
}

// newStageInput constructs the QueryStageInput variant matching st's kind,
// exposing output as its own schema.
func newStageInput(st *stage.QueryStage, output plan.Schema) plan.Node {
	switch st.Kind() {
	case stage.ShuffleStageKind:
		in, err := stage.NewShuffleStageInput(st, output)
		if err != nil {
			log.Panicf("planner: NewShuffleStageInput: %v", err)
		}
		return in
	case stage.BroadcastStageKind:
		in, err := stage.NewBroadcastStageInput(st, output)
		if err != nil {
			log.Panicf("planner: NewBroadcastStageInput: %v", err)
		}
		return in
	default:
		log.Panicf("planner: stage %s has non-input kind %v", st.ID(), st.Kind())
		return nil
	}
}

// schemaShapeKey renders output's ordered data types as a fast, coarse
// bucketing key ahead of the exact plan.Equal comparison, the same
// cheap-filter-before-exact-check shape as the Exchange Coordinator's
// MapOutputStatistics precondition scan.
func schemaShapeKey(output plan.Schema) string {
	types := make([]string, len(output))
	for i, a := range output {
		types[i] = a.DataType
	}
	return strings.Join(types, ",")
}
