package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
)

func enabledOpts() *config.Options {
	o := &config.Options{AdaptiveExecutionEnabled: true}
	config.EnsureDefaults(o)
	return o
}

func scanWithKey(label string, key plan.Attribute) *plan.LeafExec {
	return plan.NewLeafExec(label, plan.Schema{key}, plan.UnknownPartitioning{N: 4}, nil, plan.Stats{SizeInBytes: 100, RowCount: 10})
}

func TestPlanQueryStageWrapsRootInResultStage(t *testing.T) {
	key := plan.NewAttribute("k", "int64")
	leaf := scanWithKey("t", key)
	result := PlanQueryStage(leaf, enabledOpts())

	rs, ok := result.(*stage.QueryStage)
	require.True(t, ok)
	require.Equal(t, stage.ResultStageKind, rs.Kind())
	require.Same(t, leaf, rs.Child())
}

func TestPlanQueryStageFragmentsExchangeIntoStageInput(t *testing.T) {
	key := plan.NewAttribute("k", "int64")
	leaf := scanWithKey("t", key)
	ex := plan.NewShuffleExchange(leaf, []plan.AttributeID{key.ID}, 4)

	result := PlanQueryStage(ex, enabledOpts())
	rs, ok := result.(*stage.QueryStage)
	require.True(t, ok)

	in, ok := rs.Child().(*stage.ShuffleStageInput)
	require.True(t, ok)
	require.Equal(t, stage.ShuffleStageKind, in.Stage().Kind())
	require.Same(t, ex, in.Stage().Child())
}

func TestPlanQueryStageReusesStageAcrossIdenticalBranches(t *testing.T) {
	keyA := plan.NewAttribute("k", "int64")
	keyB := plan.NewAttribute("k", "int64") // same shape, distinct identity
	leafA := scanWithKey("t", keyA)
	leafB := scanWithKey("t", keyB)

	exA := plan.NewShuffleExchange(leafA, []plan.AttributeID{keyA.ID}, 4)
	exB := plan.NewShuffleExchange(leafB, []plan.AttributeID{keyB.ID}, 4)

	union := plan.NewUnion(exA, exB)
	result := PlanQueryStage(union, enabledOpts())

	rs := result.(*stage.QueryStage)
	u := rs.Child().(*plan.Union)
	require.Len(t, u.Children(), 2)

	inA := u.Children()[0].(*stage.ShuffleStageInput)
	inB := u.Children()[1].(*stage.ShuffleStageInput)
	require.Same(t, inA.Stage(), inB.Stage())
}

func TestPlanQueryStageDoesNotReuseDifferentExchanges(t *testing.T) {
	keyA := plan.NewAttribute("k", "int64")
	keyB := plan.NewAttribute("k2", "int64")
	leafA := scanWithKey("t", keyA)
	leafB := scanWithKey("u", keyB)

	exA := plan.NewShuffleExchange(leafA, []plan.AttributeID{keyA.ID}, 4)
	exB := plan.NewShuffleExchange(leafB, []plan.AttributeID{keyB.ID}, 4)

	union := plan.NewUnion(exA, exB)
	result := PlanQueryStage(union, enabledOpts())

	rs := result.(*stage.QueryStage)
	u := rs.Child().(*plan.Union)
	inA := u.Children()[0].(*stage.ShuffleStageInput)
	inB := u.Children()[1].(*stage.ShuffleStageInput)
	require.NotSame(t, inA.Stage(), inB.Stage())
}

func TestPlanQueryStageLeavesCommandRootUnwrapped(t *testing.T) {
	key := plan.NewAttribute("k", "int64")
	leaf := scanWithKey("t", key)
	cmd := plan.NewCommandExec("insert", leaf)

	result := PlanQueryStage(cmd, enabledOpts())
	require.Same(t, cmd, result)
}

func TestPlanQueryStageIdentityWhenDisabled(t *testing.T) {
	key := plan.NewAttribute("k", "int64")
	leaf := scanWithKey("t", key)
	ex := plan.NewShuffleExchange(leaf, []plan.AttributeID{key.ID}, 4)

	cfg := enabledOpts()
	cfg.AdaptiveExecutionEnabled = false
	result := PlanQueryStage(ex, cfg)
	require.Same(t, ex, result)
}
