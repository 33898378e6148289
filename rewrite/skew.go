package rewrite

import (
	"sort"

	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/stats"
)

// detectSkew computes, for each reducer id in m, whether it is skewed per
// spec.md §4.7 step 1: bytes[p] > medianBytes*factor AND bytes[p] >
// sizeThreshold, or the row-count analogue. The returned split count for
// each skewed id is min(5, floor(size/median), floor(rows/median),
// numMappers) — never more than config.MaxSkewSplits, never more than one
// split per mapper.
func detectSkew(m stats.MapOutputStatistics, cfg *config.Options) map[int]int {
	p := m.PartitionCount()
	if p == 0 {
		return nil
	}
	medianBytes := median(m.BytesByPartitionID)
	medianRows := median(m.RowsByPartitionID)
	numMappers := int(m.NumMappers)

	skewed := make(map[int]int)
	for r := 0; r < p; r++ {
		bytesSkewed := medianBytes > 0 &&
			float64(m.BytesByPartitionID[r]) > float64(medianBytes)*cfg.AdaptiveSkewedFactor &&
			m.BytesByPartitionID[r] > uint64(cfg.AdaptiveSkewedSizeThreshold)
		rowsSkewed := medianRows > 0 &&
			float64(m.RowsByPartitionID[r]) > float64(medianRows)*cfg.AdaptiveSkewedFactor &&
			m.RowsByPartitionID[r] > uint64(cfg.AdaptiveSkewedRowCountThreshold)
		if !bytesSkewed && !rowsSkewed {
			continue
		}
		splitBySize := divideOrMax(m.BytesByPartitionID[r], medianBytes)
		splitByRows := divideOrMax(m.RowsByPartitionID[r], medianRows)
		split := minInt(config.MaxSkewSplits, splitBySize, splitByRows, numMappers)
		if split < 1 {
			continue
		}
		skewed[r] = split
	}
	return skewed
}

// median returns the statistical median of vals, rounded down, or 0 for an
// empty slice.
func median(vals []uint64) uint64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]uint64, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// divideOrMax returns floor(v/denom), or a very large int if denom is zero
// so that term never constrains the min() in detectSkew.
func divideOrMax(v, denom uint64) int {
	if denom == 0 {
		return 1 << 30
	}
	return int(v / denom)
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
