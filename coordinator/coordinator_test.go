package coordinator

import (
	"testing"

	"github.com/quiverdb/aqse/stats"
	"github.com/stretchr/testify/require"
)

func TestEstimatePartitionStartIndicesCoalescing(t *testing.T) {
	// spec.md §8 scenario (a)
	s1 := stats.MapOutputStatistics{BytesByPartitionID: []uint64{10, 10, 10, 10}, RowsByPartitionID: []uint64{0, 0, 0, 0}}
	s2 := stats.MapOutputStatistics{BytesByPartitionID: []uint64{10, 10, 10, 10}, RowsByPartitionID: []uint64{0, 0, 0, 0}}
	c := New(40, 0, 0)
	starts, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s1, s2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, starts)
}

func TestEstimatePartitionStartIndicesRowDriven(t *testing.T) {
	// spec.md §8 scenario (b)
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 1, 1, 1}, RowsByPartitionID: []uint64{100, 100, 100, 100}}
	c := New(1_000_000_000, 150, 0)
	starts, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, starts)
}

func TestEstimatePartitionStartIndicesMinimum(t *testing.T) {
	// spec.md §8 scenario (c)
	bytes := make([]uint64, 8)
	for i := range bytes {
		bytes[i] = 1
	}
	s := stats.MapOutputStatistics{BytesByPartitionID: bytes, RowsByPartitionID: make([]uint64, 8)}
	c := New(1_000_000_000, 0, 4)
	starts, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(starts), 4)
	require.Equal(t, 0, starts[0])
	for i := 1; i < len(starts); i++ {
		require.Greater(t, starts[i], starts[i-1])
		require.Less(t, starts[i], 8)
	}
}

func TestEstimatePartitionStartIndicesNoCoalescingWhenTargetNonPositive(t *testing.T) {
	// A degraded (non-positive) byte target must yield one post-shuffle
	// partition per reducer, not one giant group.
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 1, 1, 1}, RowsByPartitionID: []uint64{0, 0, 0, 0}}
	c := New(0, 0, 0)
	starts, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, starts)
}

func TestEstimatePartitionStartEndIndicesNoCoalescingWhenTargetNonPositive(t *testing.T) {
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 1, 1, 100}, RowsByPartitionID: []uint64{1, 1, 1, 1}}
	c := New(-1, 0, 0)
	starts, ends, err := c.EstimatePartitionStartEndIndices([]stats.MapOutputStatistics{s}, map[int]bool{3: true})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, starts)
	require.Equal(t, []int{1, 2, 3}, ends)
}

func TestEstimatePartitionStartIndicesMismatchedP(t *testing.T) {
	s1 := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 2, 3}}
	s2 := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 2}}
	c := New(10, 0, 0)
	_, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s1, s2})
	require.Error(t, err)
}

func TestEstimatePartitionStartEndIndicesSkipsSkewedIDs(t *testing.T) {
	// bytes=[1,1,1,100]; reducer 3 is treated as skewed and must be a gap.
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{1, 1, 1, 100}, RowsByPartitionID: []uint64{1, 1, 1, 1}}
	c := New(1_000_000_000, 0, 0)
	starts, ends, err := c.EstimatePartitionStartEndIndices([]stats.MapOutputStatistics{s}, map[int]bool{3: true})
	require.NoError(t, err)
	require.Equal(t, len(starts), len(ends))
	for i := range starts {
		for r := starts[i]; r < ends[i]; r++ {
			require.NotEqual(t, 3, r)
		}
	}
	// union of emitted ranges must equal [0,4) \ {3}
	covered := make(map[int]bool)
	for i := range starts {
		for r := starts[i]; r < ends[i]; r++ {
			covered[r] = true
		}
	}
	require.Equal(t, map[int]bool{0: true, 1: true, 2: true}, covered)
}

func TestEstimatePartitionStartEndIndicesAllSkewed(t *testing.T) {
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{5, 5}, RowsByPartitionID: []uint64{1, 1}}
	c := New(10, 0, 0)
	starts, ends, err := c.EstimatePartitionStartEndIndices([]stats.MapOutputStatistics{s}, map[int]bool{0: true, 1: true})
	require.NoError(t, err)
	require.Empty(t, starts)
	require.Empty(t, ends)
}

func TestEstimateDeterministic(t *testing.T) {
	s := stats.MapOutputStatistics{BytesByPartitionID: []uint64{7, 3, 9, 1, 5}, RowsByPartitionID: []uint64{1, 1, 1, 1, 1}}
	c := New(12, 0, 0)
	first, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.EstimatePartitionStartIndices([]stats.MapOutputStatistics{s})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
