// Package rangemodel implements the Partition Range Model from spec.md
// §4.1: the vocabulary every downstream shuffle reader speaks in. A
// post-shuffle partition is always a pair of contiguous ranges — over
// pre-shuffle partition ("reducer") ids and over mapper ids — and this
// package builds those ranges for the three read modes AQSE needs:
// coalesced, local, and adaptive (skew) reads.
package rangemodel

import (
	"fmt"

	aqerrors "github.com/quiverdb/aqse/errors"
)

// PartitionRange names the two ranges a post-shuffle partition reads: a
// contiguous [ReducerStart, ReducerEnd) range over pre-shuffle partition
// ids, and a contiguous [MapStart, MapEnd) range over mapper ids, per
// spec.md §3's "Partition Range" data model entry.
type PartitionRange struct {
	ReducerStart, ReducerEnd int
	MapStart, MapEnd         int
}

// IsSkewSplit reports whether this range reads a single reducer id from a
// strict subset of mappers, the shape produced by an adaptive (skew) read.
func (r PartitionRange) IsSkewSplit(numMappers int) bool {
	return r.ReducerEnd == r.ReducerStart+1 && (r.MapEnd-r.MapStart) < numMappers
}

// Validate enforces spec.md §4.1's error conditions: reading an empty
// range, or a reducer range crossing P, is a programming error.
func (r PartitionRange) Validate(p, numMappers int) error {
	if r.ReducerStart < 0 || r.ReducerEnd > p || r.ReducerStart >= r.ReducerEnd {
		return aqerrors.PlanInvariantViolation{Reason: fmt.Sprintf("reducer range [%d,%d) invalid for P=%d", r.ReducerStart, r.ReducerEnd, p)}
	}
	if r.MapStart < 0 || r.MapEnd > numMappers || r.MapStart >= r.MapEnd {
		return aqerrors.PlanInvariantViolation{Reason: fmt.Sprintf("mapper range [%d,%d) invalid for numMappers=%d", r.MapStart, r.MapEnd, numMappers)}
	}
	return nil
}

// CoalescedRanges builds the post-shuffle partitions for a coalesced read
// (spec.md §4.1): partition i reads reducer ids [startIndices[i],
// endIndices[i]) from all mappers. When endIndices is nil it defaults to
// start[i+1] for all but the last partition, and P for the last.
func CoalescedRanges(startIndices []int, endIndices []int, p int, numMappers int) ([]PartitionRange, error) {
	if len(startIndices) == 0 {
		return nil, aqerrors.PlanInvariantViolation{Reason: "coalesced read requires at least one start index"}
	}
	ranges := make([]PartitionRange, len(startIndices))
	for i, start := range startIndices {
		end := p
		if endIndices != nil {
			end = endIndices[i]
		} else if i+1 < len(startIndices) {
			end = startIndices[i+1]
		}
		r := PartitionRange{ReducerStart: start, ReducerEnd: end, MapStart: 0, MapEnd: numMappers}
		if err := r.Validate(p, numMappers); err != nil {
			return nil, err
		}
		ranges[i] = r
	}
	return ranges, nil
}

// LocalRanges builds the post-shuffle partitions for a local read
// (spec.md §4.1): one post-shuffle partition per mapper, each reading
// that single mapper's output across all reducer ids. Used to avoid a
// second shuffle when OptimizeJoin demotes a join to broadcast-hash and
// marks the surviving shuffle input isLocalShuffle.
func LocalRanges(p int, numMappers int) ([]PartitionRange, error) {
	if numMappers <= 0 {
		return nil, aqerrors.PlanInvariantViolation{Reason: "local read requires at least one mapper"}
	}
	ranges := make([]PartitionRange, numMappers)
	for i := 0; i < numMappers; i++ {
		r := PartitionRange{ReducerStart: 0, ReducerEnd: p, MapStart: i, MapEnd: i + 1}
		if err := r.Validate(p, numMappers); err != nil {
			return nil, err
		}
		ranges[i] = r
	}
	return ranges, nil
}

// DefaultMapBoundaries computes the default mapper-id boundaries for an
// adaptive (skew) read splitting a reducer into numSplits sub-ranges, per
// spec.md §4.1: m[i] = i*numMappers/numSplits. The returned slice has
// numSplits+1 entries, m[0]=0 and m[numSplits]=numMappers.
func DefaultMapBoundaries(numSplits, numMappers int) []int {
	boundaries := make([]int, numSplits+1)
	for i := 0; i <= numSplits; i++ {
		boundaries[i] = i * numMappers / numSplits
	}
	return boundaries
}

// AdaptiveRanges builds the post-shuffle partitions for an adaptive (skew)
// read of a single reducer id r (spec.md §4.1): given mapper-id boundaries
// m[0] < m[1] < ... < m[k] = numMappers, it emits k partitions, partition
// i reading reducer r from mapper range [m[i], m[i+1]). Boundaries are
// required: nil or fewer than two entries is an error, so callers wanting
// the default split pass DefaultMapBoundaries(numSplits, numMappers).
func AdaptiveRanges(reducerID int, p int, numMappers int, boundaries []int) ([]PartitionRange, error) {
	if len(boundaries) < 2 {
		return nil, aqerrors.PlanInvariantViolation{Reason: "adaptive read requires at least 2 map boundaries (1 split)"}
	}
	if boundaries[0] != 0 || boundaries[len(boundaries)-1] != numMappers {
		return nil, aqerrors.PlanInvariantViolation{Reason: "adaptive read boundaries must span [0, numMappers]"}
	}
	ranges := make([]PartitionRange, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		r := PartitionRange{ReducerStart: reducerID, ReducerEnd: reducerID + 1, MapStart: boundaries[i], MapEnd: boundaries[i+1]}
		if err := r.Validate(p, numMappers); err != nil {
			return nil, err
		}
		ranges[i] = r
	}
	return ranges, nil
}
