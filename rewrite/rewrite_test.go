package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
	"github.com/quiverdb/aqse/stats"
)

func baseOpts() *config.Options {
	o := &config.Options{
		AdaptiveExecutionEnabled:        true,
		AdaptiveJoinEnabled:             true,
		AdaptiveSkewedJoinEnabled:       true,
		AdaptiveBroadcastJoinThreshold:  1000,
		AdaptiveSkewedFactor:            5,
		AdaptiveSkewedSizeThreshold:     50,
		AdaptiveSkewedRowCountThreshold: 50,
	}
	config.EnsureDefaults(o)
	return o
}

func schemaOf(name string) plan.Schema {
	return plan.Schema{plan.NewAttribute(name, "int64")}
}

func shuffleStageInputWithStats(t *testing.T, label string, bytesByPartition, rowsByPartition []uint64, numMappers uint32) *stage.ShuffleStageInput {
	t.Helper()
	sch := schemaOf(label)
	leaf := plan.NewLeafExec(label, sch, plan.UnknownPartitioning{N: len(bytesByPartition)}, nil, plan.Stats{})
	ex := plan.NewShuffleExchange(leaf, sch.IDs(), len(bytesByPartition))
	st, err := stage.NewShuffleStage(ex)
	require.NoError(t, err)
	_, err = st.RunOnce(func() (stage.Artifact, error) {
		m := stats.MapOutputStatistics{BytesByPartitionID: bytesByPartition, RowsByPartitionID: rowsByPartition, NumMappers: numMappers}
		if err := st.SetMapOutputStatistics(m); err != nil {
			return nil, err
		}
		return "shuffled", nil
	})
	require.NoError(t, err)
	in, err := stage.NewShuffleStageInput(st, sch)
	require.NoError(t, err)
	return in
}

func TestOptimizeJoinDemotesSmallBuildSide(t *testing.T) {
	// spec.md §8 scenario (e)
	left := shuffleStageInputWithStats(t, "a", []uint64{100, 100}, []uint64{10, 10}, 2)
	right := shuffleStageInputWithStats(t, "b", []uint64{50, 50}, []uint64{5, 5}, 2) // total 100 bytes <= threshold

	leftSort := plan.NewSort(left, nil, true)
	rightSort := plan.NewSort(right, nil, true)
	smj := plan.NewSortMergeJoin(leftSort, rightSort, left.Output().IDs(), right.Output().IDs(), plan.Inner, "")

	cfg := baseOpts()
	result, changed := OptimizeJoin(smj, cfg, true)
	require.True(t, changed)
	bhj, ok := result.(*plan.BroadcastHashJoin)
	require.True(t, ok)
	require.Equal(t, plan.BuildRight, bhj.Build)

	// the stream side (left) should be marked local-shuffle since the
	// broadcast removed its shuffle dependency
	leftAfter, ok := bhj.Left().(*stage.ShuffleStageInput)
	require.True(t, ok)
	require.True(t, leftAfter.IsLocalShuffle())
}

// TestOptimizeJoinCountsStageTopLevelExchange exercises spec.md §4.6's
// "graft into a copy of the stage's child plan" accept rule and §8
// property 5 ("OptimizeJoin never increases the number of ShuffleExchange
// nodes"): joinB is a nested SortMergeJoin inside joinA's stream side
// whose children are not already hash-partitioned, so EnsureRequirements
// must insert an exchange for it when joinA is demoted. Counted against
// joinA's own subtree alone that's 1 exchange, which the
// enclosingIsShuffleStage branch would accept; counted against the whole
// stage child plan — which already has its own top-level ShuffleExchange —
// it's 2, so the demotion must be rejected.
func TestOptimizeJoinCountsStageTopLevelExchange(t *testing.T) {
	irAttr := plan.NewAttribute("ir", "int64")
	innerLeftLeaf := plan.NewLeafExec("il", schemaOf("il"), plan.UnknownPartitioning{N: 1}, nil, plan.Stats{})
	innerRightLeaf := plan.NewLeafExec("ir", plan.Schema{irAttr}, plan.HashPartitioning{Keys: []plan.AttributeID{irAttr.ID}, N: 4}, nil, plan.Stats{})
	// Cross is neither left- nor right-buildable, so joinB itself is never
	// a demotion candidate. Its right side already satisfies the join's
	// hash-partitioning requirement; its left side does not, so
	// EnsureRequirements inserts exactly one exchange for joinB alone.
	joinB := plan.NewSortMergeJoin(innerLeftLeaf, innerRightLeaf, innerLeftLeaf.Output().IDs(), []plan.AttributeID{irAttr.ID}, plan.Cross, "")

	build := shuffleStageInputWithStats(t, "small", []uint64{10}, []uint64{1}, 1) // well under threshold
	joinA := plan.NewSortMergeJoin(plan.NewSort(joinB, nil, true), plan.NewSort(build, nil, true), joinB.Output().IDs()[:1], build.Output().IDs(), plan.Inner, "")

	root := plan.NewShuffleExchange(joinA, joinA.Output().IDs(), 4)

	cfg := baseOpts()
	result, changed := OptimizeJoin(root, cfg, true)
	require.False(t, changed)
	require.Equal(t, root.Canonical(), result.Canonical())
}

func TestOptimizeJoinNoOpWhenDisabled(t *testing.T) {
	left := shuffleStageInputWithStats(t, "a", []uint64{100}, []uint64{10}, 1)
	right := shuffleStageInputWithStats(t, "b", []uint64{50}, []uint64{5}, 1)
	smj := plan.NewSortMergeJoin(plan.NewSort(left, nil, true), plan.NewSort(right, nil, true), nil, nil, plan.Inner, "")

	cfg := baseOpts()
	cfg.AdaptiveJoinEnabled = false
	result, changed := OptimizeJoin(smj, cfg, true)
	require.False(t, changed)
	require.Same(t, smj, result)
}

func TestHandleSkewedJoinSplitsSkewedReducer(t *testing.T) {
	// spec.md §8 scenario (d)
	left := shuffleStageInputWithStats(t, "a", []uint64{1, 1, 1, 100}, []uint64{10, 10, 10, 1000}, 10)
	right := shuffleStageInputWithStats(t, "b", []uint64{1, 1, 1, 1}, []uint64{10, 10, 10, 10}, 10)
	smj := plan.NewSortMergeJoin(plan.NewSort(left, nil, true), plan.NewSort(right, nil, true), left.Output().IDs(), right.Output().IDs(), plan.Inner, "")

	cfg := baseOpts()
	result, changed := HandleSkewedJoin(smj, cfg)
	require.True(t, changed)

	union, ok := result.(*plan.Union)
	require.True(t, ok)
	require.Len(t, union.Children(), 6) // original + 5 splits

	skewedLeft, ok := left.SkewedPartitions()
	require.True(t, ok)
	require.Equal(t, map[int]bool{3: true}, skewedLeft)

	skewedRight, ok := right.SkewedPartitions()
	require.True(t, ok)
	require.Equal(t, map[int]bool{3: true}, skewedRight)

	// union of sub-join mapper ranges for the skewed reducer must equal
	// [0, numMappers)
	covered := make([]bool, 10)
	for _, child := range union.Children()[1:] {
		smjChild, ok := child.(*plan.SortMergeJoin)
		require.True(t, ok)
		leftSub, ok := smjChild.Left().(*stage.SkewedShuffleStageInput)
		require.True(t, ok)
		for m := leftSub.StartMapID; m < leftSub.EndMapID; m++ {
			covered[m] = true
		}
	}
	for _, c := range covered {
		require.True(t, c)
	}
}

func TestHandleSkewedJoinNoOpWhenMoreThanTwoShuffleInputs(t *testing.T) {
	left := shuffleStageInputWithStats(t, "a", []uint64{1, 100}, []uint64{1, 1000}, 2)
	right := shuffleStageInputWithStats(t, "b", []uint64{1, 1}, []uint64{1, 1}, 2)
	extra := shuffleStageInputWithStats(t, "c", []uint64{1, 1}, []uint64{1, 1}, 2)
	smj := plan.NewSortMergeJoin(plan.NewSort(left, nil, true), plan.NewSort(right, nil, true), left.Output().IDs(), right.Output().IDs(), plan.Inner, "")
	union := plan.NewUnion(smj, extra)

	cfg := baseOpts()
	_, changed := HandleSkewedJoin(union, cfg)
	require.False(t, changed)
}

func TestEnsureRequirementsInsertsExchangeWhenUnsatisfied(t *testing.T) {
	leftLeaf := plan.NewLeafExec("l", schemaOf("l"), plan.UnknownPartitioning{N: 1}, nil, plan.Stats{})
	rightLeaf := plan.NewLeafExec("r", schemaOf("r"), plan.UnknownPartitioning{N: 1}, nil, plan.Stats{})
	smj := plan.NewSortMergeJoin(leftLeaf, rightLeaf, leftLeaf.Output().IDs(), rightLeaf.Output().IDs(), plan.Inner, "")

	result := EnsureRequirements(smj)
	require.Equal(t, 2, countShuffleExchanges(result))
}

func TestEnsureRequirementsNoOpWhenAlreadyPartitioned(t *testing.T) {
	lKey := plan.NewAttribute("l", "int64")
	rKey := plan.NewAttribute("r", "int64")
	leftLeaf := plan.NewLeafExec("l", plan.Schema{lKey}, plan.HashPartitioning{Keys: []plan.AttributeID{lKey.ID}, N: 4}, nil, plan.Stats{})
	rightLeaf := plan.NewLeafExec("r", plan.Schema{rKey}, plan.HashPartitioning{Keys: []plan.AttributeID{rKey.ID}, N: 4}, nil, plan.Stats{})
	smj := plan.NewSortMergeJoin(leftLeaf, rightLeaf, []plan.AttributeID{lKey.ID}, []plan.AttributeID{rKey.ID}, plan.Inner, "")

	result := EnsureRequirements(smj)
	require.Equal(t, 0, countShuffleExchanges(result))
}
