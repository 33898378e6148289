package collab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quiverdb/aqse/plan"
)

func TestInMemoryMapOutputTrackerDedupesHostsInRange(t *testing.T) {
	tracker := NewInMemoryMapOutputTracker()
	dep := ShuffleHandle("shuffle-1")
	tracker.HostsByMapper[dep] = []string{"host-a", "host-b", "host-a", "host-c"}

	hosts := tracker.GetMapLocations(dep, 0, 3)
	require.Equal(t, []string{"host-a", "host-b"}, hosts)
}

func TestInMemoryMapOutputTrackerClampsRangeToKnownMappers(t *testing.T) {
	tracker := NewInMemoryMapOutputTracker()
	dep := ShuffleHandle("shuffle-1")
	tracker.HostsByMapper[dep] = []string{"host-a"}

	hosts := tracker.GetMapLocations(dep, 0, 10)
	require.Equal(t, []string{"host-a"}, hosts)
}

func TestInMemoryMapOutputTrackerUnknownHandleReturnsEmpty(t *testing.T) {
	tracker := NewInMemoryMapOutputTracker()
	require.Empty(t, tracker.GetMapLocations(ShuffleHandle("missing"), 0, 4))
}

func TestCollapseCodegenStagesIsAnIdentityPassthrough(t *testing.T) {
	a := plan.NewAttribute("a", "int64")
	leaf := plan.NewLeafExec("t", plan.Schema{a}, plan.UnknownPartitioning{N: 1}, nil, plan.Stats{})
	require.Same(t, leaf, CollapseCodegenStages(leaf))
}
