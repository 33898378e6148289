// Package coordinator implements the Exchange Coordinator (spec.md §4.2):
// a pure, stateless computation converting measured map-output statistics
// into post-shuffle partition boundaries, both the ordinary coalescing
// case and the skew-aware variant that leaves gaps for reducer ids the
// caller has already decided to split.
package coordinator

import (
	"sort"

	aqerrors "github.com/quiverdb/aqse/errors"
	"github.com/quiverdb/aqse/stats"
)

// Coordinator is configured once per query from the three parameters
// named in spec.md §4.2, and its methods are pure functions of their
// arguments: same input always yields the same output, with no
// floating-point tie-breaks (invariant 3 of spec.md §4.2).
type Coordinator struct {
	TargetPostShuffleInputSize  int64
	TargetPostShuffleRowCount   int64 // 0 means unconfigured
	MinNumPostShufflePartitions int   // 0 means unconfigured
}

// New constructs a Coordinator from the subset of config.Options relevant
// to it.
func New(targetBytes, targetRows int64, minPartitions int) *Coordinator {
	return &Coordinator{
		TargetPostShuffleInputSize:  targetBytes,
		TargetPostShuffleRowCount:   targetRows,
		MinNumPostShufflePartitions: minPartitions,
	}
}

// targetBytesPerGroup applies the canonical scaling rule from spec.md §9's
// resolved Open Question: when a minimum partition count is configured,
// the byte target is divided by max(1, P/minNumPostShufflePartitions) so
// that greedily grouping to the (scaled-down) byte target naturally
// produces at least that many groups.
func (c *Coordinator) targetBytesPerGroup(p int) int64 {
	if c.MinNumPostShufflePartitions <= 0 {
		return c.TargetPostShuffleInputSize
	}
	scale := p / c.MinNumPostShufflePartitions
	if scale < 1 {
		scale = 1
	}
	return c.TargetPostShuffleInputSize / int64(scale)
}

// EstimatePartitionStartIndices computes post-shuffle partition boundaries
// by greedily coalescing contiguous reducer ids until adding the next one
// would exceed the byte or (if configured) row target, per spec.md §4.2.
// All statistics records must agree on P; a mismatch is a
// CoordinatorPreconditionFailure.
func (c *Coordinator) EstimatePartitionStartIndices(all []stats.MapOutputStatistics) ([]int, error) {
	p, err := checkPartitionCounts(all)
	if err != nil {
		return nil, err
	}
	if p == 0 {
		return []int{0}, nil
	}
	if c.TargetPostShuffleInputSize <= 0 {
		// spec.md §7: a non-positive byte target degrades to "no
		// coalescing", not to some default byte target — one post-shuffle
		// partition per reducer, skipping the greedy pass entirely so a
		// zero or absent row target can't merge reducers either.
		return identityStarts(p), nil
	}
	sumBytes := stats.SumBytesByPartition(all)
	sumRows := stats.SumRowsByPartition(all)
	targetBytes := c.targetBytesPerGroup(p)
	starts := c.greedyGroup(p, sumBytes, sumRows, targetBytes)
	return c.enforceMinimum(starts, p), nil
}

// identityStarts returns [0, 1, ..., p-1]: every reducer id its own group,
// the "no coalescing" boundary set.
func identityStarts(p int) []int {
	starts := make([]int, p)
	for i := range starts {
		starts[i] = i
	}
	return starts
}

// EstimatePartitionStartEndIndices is the skew-aware variant: reducer ids
// in skewed are treated as gaps that no coalesced group may absorb, per
// spec.md §4.2. It returns parallel start/end arrays covering exactly
// [0,P) \ skewed.
func (c *Coordinator) EstimatePartitionStartEndIndices(all []stats.MapOutputStatistics, skewed map[int]bool) ([]int, []int, error) {
	p, err := checkPartitionCounts(all)
	if err != nil {
		return nil, nil, err
	}
	sumBytes := stats.SumBytesByPartition(all)
	sumRows := stats.SumRowsByPartition(all)
	targetBytes := c.targetBytesPerGroup(p)
	noCoalescing := c.TargetPostShuffleInputSize <= 0

	var starts, ends []int
	stretchStart := -1
	flushStretch := func(end int) {
		if stretchStart < 0 {
			return
		}
		var stretchStarts []int
		if noCoalescing {
			stretchStarts = identityStarts(end - stretchStart)
		} else {
			stretchStarts = c.greedyGroup(end-stretchStart, sumBytes[stretchStart:end], sumRows[stretchStart:end], targetBytes)
		}
		for i, s := range stretchStarts {
			groupStart := stretchStart + s
			groupEnd := end
			if i+1 < len(stretchStarts) {
				groupEnd = stretchStart + stretchStarts[i+1]
			}
			starts = append(starts, groupStart)
			ends = append(ends, groupEnd)
		}
		stretchStart = -1
	}
	for r := 0; r < p; r++ {
		if skewed[r] {
			flushStretch(r)
			continue
		}
		if stretchStart < 0 {
			stretchStart = r
		}
	}
	flushStretch(p)
	return starts, ends, nil
}

// greedyGroup performs the left-to-right greedy accumulation described in
// spec.md §4.2 over a (sub)range of P reducer ids, returning boundaries
// relative to the start of that range (boundary 0 is always emitted).
func (c *Coordinator) greedyGroup(p int, sumBytes, sumRows []uint64, targetBytes int64) []int {
	if p <= 0 {
		return nil
	}
	starts := []int{0}
	var accBytes, accRows uint64
	for r := 0; r < p; r++ {
		startingNewGroupHere := r > 0 && groupWouldOverflow(accBytes, sumBytes[r], targetBytes, accRows, sumRows[r], c.TargetPostShuffleRowCount)
		if startingNewGroupHere {
			starts = append(starts, r)
			accBytes, accRows = 0, 0
		}
		accBytes += sumBytes[r]
		accRows += sumRows[r]
	}
	return starts
}

func groupWouldOverflow(accBytes uint64, nextBytes uint64, targetBytes int64, accRows uint64, nextRows uint64, targetRows int64) bool {
	if targetBytes > 0 && accBytes+nextBytes > uint64(targetBytes) {
		return true
	}
	if targetRows > 0 && accRows+nextRows > uint64(targetRows) {
		return true
	}
	return false
}

// enforceMinimum ensures the boundary array has at least
// MinNumPostShufflePartitions entries by repeatedly splitting the widest
// remaining group in half, per spec.md §4.2's invariant that the result
// has length >= minNumPostShufflePartitions when configured.
func (c *Coordinator) enforceMinimum(starts []int, p int) []int {
	if c.MinNumPostShufflePartitions <= 0 || len(starts) >= c.MinNumPostShufflePartitions {
		return starts
	}
	for len(starts) < c.MinNumPostShufflePartitions && len(starts) < p {
		widestIdx, widestWidth := 0, 0
		for i := range starts {
			end := p
			if i+1 < len(starts) {
				end = starts[i+1]
			}
			width := end - starts[i]
			if width > widestWidth {
				widestIdx, widestWidth = i, width
			}
		}
		if widestWidth <= 1 {
			break // cannot split any further; fewer groups than requested is unavoidable
		}
		mid := starts[widestIdx] + widestWidth/2
		newStarts := make([]int, 0, len(starts)+1)
		newStarts = append(newStarts, starts[:widestIdx+1]...)
		newStarts = append(newStarts, mid)
		newStarts = append(newStarts, starts[widestIdx+1:]...)
		starts = newStarts
	}
	sort.Ints(starts)
	return starts
}

func checkPartitionCounts(all []stats.MapOutputStatistics) (int, error) {
	if len(all) == 0 {
		return 0, nil
	}
	p := all[0].PartitionCount()
	for _, s := range all[1:] {
		if s.PartitionCount() != p {
			return 0, aqerrors.CoordinatorPreconditionFailure{Reason: "MapOutputStatistics disagree on pre-shuffle partition count P"}
		}
	}
	return p, nil
}
