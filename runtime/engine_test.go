package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/events"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
	"github.com/quiverdb/aqse/stats"
)

type fakeExecutor struct {
	bytes, rows []uint64
	numMappers  uint32
	resultValue stage.Artifact
}

func (e *fakeExecutor) ExecuteShuffle(child plan.Node) (stage.Artifact, stats.MapOutputStatistics, error) {
	return "shuffled:" + child.Canonical(), stats.MapOutputStatistics{BytesByPartitionID: e.bytes, RowsByPartitionID: e.rows, NumMappers: e.numMappers}, nil
}

func (e *fakeExecutor) ExecuteResult(child plan.Node) (stage.Artifact, error) {
	if e.resultValue != nil {
		return e.resultValue, nil
	}
	return "result:" + child.Canonical(), nil
}

func (e *fakeExecutor) PrepareBroadcast(child plan.Node) (stage.Artifact, error) {
	return "broadcast:" + child.Canonical(), nil
}

func defaultedOpts() *config.Options {
	o := &config.Options{AdaptiveExecutionEnabled: true}
	config.EnsureDefaults(o)
	return o
}

func shuffleStage(t *testing.T, label string, n int) *stage.QueryStage {
	t.Helper()
	sch := plan.Schema{plan.NewAttribute(label, "int64")}
	leaf := plan.NewLeafExec(label, sch, plan.UnknownPartitioning{N: n}, nil, plan.Stats{})
	ex := plan.NewShuffleExchange(leaf, sch.IDs(), n)
	s, err := stage.NewShuffleStage(ex)
	require.NoError(t, err)
	return s
}

func TestExecuteStageFansOutAndAssignsReducerCounts(t *testing.T) {
	defer goleak.VerifyNone(t)

	left := shuffleStage(t, "left", 4)
	right := shuffleStage(t, "right", 4)

	leftInput, err := stage.NewShuffleStageInput(left, left.Child().Output())
	require.NoError(t, err)
	rightInput, err := stage.NewShuffleStageInput(right, right.Child().Output())
	require.NoError(t, err)

	union := plan.NewUnion(leftInput, rightInput)
	result := stage.NewResultStage(union)

	exec := &fakeExecutor{bytes: []uint64{10, 10, 10, 10}, rows: []uint64{1, 1, 1, 1}, numMappers: 2}
	cfg := defaultedOpts()
	cfg.TargetPostShuffleInputSize = 40
	bus := events.NewRecorder()
	engine := New(cfg, bus, exec)

	artifact, err := engine.ExecuteQuery(context.Background(), result)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	leftStarts, _, ok := leftInput.PartitionIndices()
	require.True(t, ok)
	require.Equal(t, []int{0, 2}, leftStarts)

	m, ok := left.MapOutputStatistics()
	require.True(t, ok)
	require.Equal(t, uint64(40), m.TotalBytes())

	require.NotEmpty(t, bus.Snapshot())
}

func TestExecuteStageMemoizesResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := shuffleStage(t, "a", 2)
	input, err := stage.NewShuffleStageInput(s, s.Child().Output())
	require.NoError(t, err)
	result := stage.NewResultStage(input)

	exec := &fakeExecutor{bytes: []uint64{1, 1}, rows: []uint64{1, 1}, numMappers: 1}
	engine := New(defaultedOpts(), nil, exec)

	first, err := engine.ExecuteStage(context.Background(), result)
	require.NoError(t, err)
	second, err := engine.ExecuteStage(context.Background(), result)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPrepareBroadcastStageIdempotentUnderFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	sch := plan.Schema{plan.NewAttribute("b", "int64")}
	leaf := plan.NewLeafExec("b", sch, plan.UnknownPartitioning{N: 1}, nil, plan.Stats{SizeInBytes: 10})
	bstage, err := stage.NewBroadcastStage(plan.NewBroadcastExchange(leaf))
	require.NoError(t, err)
	in1, err := stage.NewBroadcastStageInput(bstage, sch)
	require.NoError(t, err)
	in2, err := stage.NewBroadcastStageInput(bstage, sch)
	require.NoError(t, err)

	union := plan.NewUnion(in1, in2)
	result := stage.NewResultStage(union)

	exec := &fakeExecutor{}
	engine := New(defaultedOpts(), nil, exec)

	_, err = engine.ExecuteQuery(context.Background(), result)
	require.NoError(t, err)
	require.True(t, bstage.Prepared())
}
