package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDefaultsDegradesNonPositiveThresholds(t *testing.T) {
	o := &Options{
		AdaptiveExecutionEnabled: true,
		TargetPostShuffleInputSize: -1,
		AdaptiveBroadcastJoinThreshold: 0,
		AdaptiveSkewedFactor: -2,
	}
	errs := EnsureDefaults(o)
	require.Len(t, errs, 3)
	require.Equal(t, int64(0), o.TargetPostShuffleInputSize)
	require.Equal(t, int64(0), o.AdaptiveBroadcastJoinThreshold)
	require.Equal(t, DefaultSkewedFactor, o.AdaptiveSkewedFactor)
}

func TestEnsureDefaultsLeavesValidOptionsAlone(t *testing.T) {
	o := &Options{
		TargetPostShuffleInputSize:     32,
		TargetPostShuffleRowCount:      10,
		MinNumPostShufflePartitions:    2,
		AdaptiveBroadcastJoinThreshold: 100,
		AdaptiveSkewedFactor:           3,
		AdaptiveSkewedSizeThreshold:    50,
		AdaptiveSkewedRowCountThreshold: 50,
	}
	errs := EnsureDefaults(o)
	require.Empty(t, errs)
	require.Equal(t, int64(32), o.TargetPostShuffleInputSize)
}
