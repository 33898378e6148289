package rewrite

import (
	"sort"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/rangemodel"
	"github.com/quiverdb/aqse/stage"
)

// HandleSkewedJoin walks root bottom-up and splits any eligible
// SortMergeJoin's skewed reducer ids into per-split sub-joins unioned
// alongside the original, per spec.md §4.7. It returns the rewritten
// tree and whether any split was applied. A no-op when
// cfg.AdaptiveSkewedJoinEnabled is false or root's child plan does not
// contain exactly two ShuffleStageInputs (the two-way-join restriction
// spec.md §4.7 states).
func HandleSkewedJoin(root plan.Node, cfg *config.Options) (plan.Node, bool) {
	if !cfg.AdaptiveSkewedJoinEnabled {
		return root, false
	}
	if countShuffleStageInputs(root) != 2 {
		return root, false
	}
	return handleSkewedRec(root, cfg)
}

func handleSkewedRec(n plan.Node, cfg *config.Options) (plan.Node, bool) {
	children := n.Children()
	changedAny := false
	if len(children) > 0 {
		newChildren := make([]plan.Node, len(children))
		for i, c := range children {
			nc, ch := handleSkewedRec(c, cfg)
			newChildren[i] = nc
			changedAny = changedAny || ch
		}
		n = n.WithNewChildren(newChildren)
	}

	smj, ok := n.(*plan.SortMergeJoin)
	if !ok {
		return n, changedAny
	}
	if !(smj.JoinType == plan.Inner || smj.JoinType == plan.Cross || smj.JoinType == plan.LeftSemi) {
		return n, changedAny
	}

	leftInput, leftOK := unwrapShuffleStageInput(smj.Left())
	rightInput, rightOK := unwrapShuffleStageInput(smj.Right())
	if !leftOK || !rightOK {
		return n, changedAny
	}
	leftStats, ok := leftInput.Stage().MapOutputStatistics()
	if !ok {
		return n, changedAny
	}
	if _, ok := rightInput.Stage().MapOutputStatistics(); !ok {
		return n, changedAny
	}

	// spec.md §4.7 step 1 says "for each side", but this engine only acts
	// on left-side skew and splits both sides along the left's skewed
	// reducer ids (§9's left-only-split decision) — right-side skew
	// detection is future work.
	skewed := detectSkew(leftStats, cfg)
	if len(skewed) == 0 {
		return n, changedAny
	}

	subJoins, handled := buildSubJoins(smj, leftInput, rightInput, skewed)
	if len(subJoins) == 0 {
		return n, changedAny
	}

	if err := leftInput.SetSkewedPartitions(handled); err != nil {
		return n, changedAny
	}
	if err := rightInput.SetSkewedPartitions(handled); err != nil {
		return n, changedAny
	}

	union := plan.NewUnion(append([]plan.Node{n}, subJoins...)...)
	return union, true
}

// unwrapShuffleStageInput matches the Sort(ShuffleStageInput) shape spec.md
// §4.7 requires of each side of a splittable SortMergeJoin.
func unwrapShuffleStageInput(n plan.Node) (*stage.ShuffleStageInput, bool) {
	s, ok := n.(*plan.Sort)
	if !ok {
		return nil, false
	}
	in, ok := s.Children()[0].(*stage.ShuffleStageInput)
	return in, ok
}

// buildSubJoins emits, for every skewed (partitionId, splitCount) pair,
// splitCount sub-joins each reading a disjoint slice of left mappers for
// that reducer id and the right side's full mapper range for the same
// reducer id, per spec.md §4.7 step 2.
func buildSubJoins(smj *plan.SortMergeJoin, leftInput, rightInput *stage.ShuffleStageInput, skewed map[int]int) ([]plan.Node, map[int]bool) {
	numLeftMappers := mapperCount(leftInput)
	numRightMappers := mapperCount(rightInput)

	var subJoins []plan.Node
	handled := make(map[int]bool, len(skewed))
	ids := make([]int, 0, len(skewed))
	for pid := range skewed {
		ids = append(ids, pid)
	}
	sort.Ints(ids)

	for _, pid := range ids {
		splitCount := skewed[pid]
		if splitCount < 1 || numLeftMappers < 1 {
			continue
		}
		boundaries := rangemodel.DefaultMapBoundaries(splitCount, numLeftMappers)
		for i := 0; i < splitCount; i++ {
			leftSub, err := stage.NewSkewedShuffleStageInput(leftInput.Stage(), leftInput.Output(), pid, boundaries[i], boundaries[i+1])
			if err != nil {
				continue
			}
			rightSub, err := stage.NewSkewedShuffleStageInput(rightInput.Stage(), rightInput.Output(), pid, 0, maxInt(numRightMappers, 1))
			if err != nil {
				continue
			}
			subJoins = append(subJoins, plan.NewSortMergeJoin(leftSub, rightSub, smj.LeftKeys, smj.RightKeys, smj.JoinType, smj.Condition))
		}
		handled[pid] = true
	}
	return subJoins, handled
}

func mapperCount(in *stage.ShuffleStageInput) int {
	m, ok := in.Stage().MapOutputStatistics()
	if !ok {
		return 0
	}
	return int(m.NumMappers)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
