// Package stats holds the statistics AQSE reasons about at runtime: the
// measured shuffle output of a completed stage. This package used to
// expose the teacher's gRPC-facing pipeline-progress statistics
// (RunStatistics); AQSE has no wire surface (spec.md §6), so the package
// is repurposed for the one runtime statistic that actually drives
// adaptive rewriting.
package stats

// MapOutputStatistics is the measured output of a completed shuffle write,
// per spec.md §3: byte and row counts for each of the P pre-shuffle
// partitions, plus the number of mappers that contributed to them.
type MapOutputStatistics struct {
	BytesByPartitionID []uint64
	RowsByPartitionID   []uint64
	NumMappers          uint32
}

// PartitionCount returns P, the number of pre-shuffle partitions this
// statistics record covers.
func (s MapOutputStatistics) PartitionCount() int {
	return len(s.BytesByPartitionID)
}

// TotalBytes sums bytes across all partitions.
func (s MapOutputStatistics) TotalBytes() uint64 {
	var total uint64
	for _, b := range s.BytesByPartitionID {
		total += b
	}
	return total
}

// TotalRows sums rows across all partitions.
func (s MapOutputStatistics) TotalRows() uint64 {
	var total uint64
	for _, r := range s.RowsByPartitionID {
		total += r
	}
	return total
}

// SumBytesByPartition adds up BytesByPartitionID across multiple
// MapOutputStatistics records that share the same partition count P, as
// required when a stage's plan has multiple upstream shuffle writers
// feeding the same coalescing decision (e.g. both sides of a join).
func SumBytesByPartition(all []MapOutputStatistics) []uint64 {
	if len(all) == 0 {
		return nil
	}
	p := all[0].PartitionCount()
	sums := make([]uint64, p)
	for _, s := range all {
		for i := 0; i < p && i < len(s.BytesByPartitionID); i++ {
			sums[i] += s.BytesByPartitionID[i]
		}
	}
	return sums
}

// SumRowsByPartition is the row-count analogue of SumBytesByPartition.
func SumRowsByPartition(all []MapOutputStatistics) []uint64 {
	if len(all) == 0 {
		return nil
	}
	p := all[0].PartitionCount()
	sums := make([]uint64, p)
	for _, s := range all {
		for i := 0; i < p && i < len(s.RowsByPartitionID); i++ {
			sums[i] += s.RowsByPartitionID[i]
		}
	}
	return sums
}
