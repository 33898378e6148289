package runtime

import (
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
)

// collectStageInputs returns every stage.Input leaf reachable from root,
// in encounter order. It stops naturally at each leaf since
// ShuffleStageInput, SkewedShuffleStageInput and BroadcastStageInput all
// report no structural Children — the hidden child stage was planned in
// a strictly earlier pass, per spec.md §9.
func collectStageInputs(root plan.Node) []stage.Input {
	if root == nil {
		return nil
	}
	var out []stage.Input
	if in, ok := root.(stage.Input); ok {
		out = append(out, in)
	}
	for _, c := range root.Children() {
		out = append(out, collectStageInputs(c)...)
	}
	return out
}

// collectUnassignedShuffleInputs returns every *stage.ShuffleStageInput
// reachable from root whose partitionStartIndices is still unset and
// which is not a local-shuffle input, per spec.md §4.4 step 3.
func collectUnassignedShuffleInputs(root plan.Node) []*stage.ShuffleStageInput {
	if root == nil {
		return nil
	}
	var out []*stage.ShuffleStageInput
	if in, ok := root.(*stage.ShuffleStageInput); ok {
		if _, _, set := in.PartitionIndices(); !set && !in.IsLocalShuffle() {
			out = append(out, in)
		}
	}
	for _, c := range root.Children() {
		out = append(out, collectUnassignedShuffleInputs(c)...)
	}
	return out
}

func unionIntSets(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}
