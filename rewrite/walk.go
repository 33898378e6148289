// Package rewrite implements the Adaptive Rewriters from spec.md §4.6 and
// §4.7 — OptimizeJoin and HandleSkewedJoin — plus a real EnsureRequirements
// rule (spec.md §6 names it as an external collaborator; AQSE needs a
// working implementation to decide OptimizeJoin's accept/reject count, so
// it lives here rather than behind a stub).
package rewrite

import (
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
)

// countShuffleExchanges counts every *plan.Exchange of ShuffleExchangeKind
// reachable from root. Because stage.ShuffleStageInput and
// stage.BroadcastStageInput report no structural Children, this recursion
// naturally stops at a prior stage's boundary and never double-counts
// exchanges a previous planning pass already turned into a stage, which is
// exactly the scope OptimizeJoin's accept rule (spec.md §4.6) needs.
func countShuffleExchanges(root plan.Node) int {
	if root == nil {
		return 0
	}
	count := 0
	if ex, ok := root.(*plan.Exchange); ok && ex.Kind == plan.ShuffleExchangeKind {
		count++
	}
	for _, c := range root.Children() {
		count += countShuffleExchanges(c)
	}
	return count
}

// countShuffleStageInputs counts every *stage.ShuffleStageInput reachable
// from root, used to gate HandleSkewedJoin to the two-way-join restriction
// stated in spec.md §4.7.
func countShuffleStageInputs(root plan.Node) int {
	if root == nil {
		return 0
	}
	count := 0
	if _, ok := root.(*stage.ShuffleStageInput); ok {
		count++
	}
	for _, c := range root.Children() {
		count += countShuffleStageInputs(c)
	}
	return count
}

// collectShuffleStageInputs returns every *stage.ShuffleStageInput
// reachable from root, in encounter order.
func collectShuffleStageInputs(root plan.Node) []*stage.ShuffleStageInput {
	if root == nil {
		return nil
	}
	var out []*stage.ShuffleStageInput
	if in, ok := root.(*stage.ShuffleStageInput); ok {
		out = append(out, in)
	}
	for _, c := range root.Children() {
		out = append(out, collectShuffleStageInputs(c)...)
	}
	return out
}

func stripSort(n plan.Node) plan.Node {
	if s, ok := n.(*plan.Sort); ok {
		return s.Children()[0]
	}
	return n
}
