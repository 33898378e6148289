// Package config holds the read-only-at-query-start configuration table
// from spec.md §6, along with the range-error degradation rule from §7:
// non-positive thresholds are accepted but degrade to "no coalescing"
// rather than failing the query.
package config

import (
	aqerrors "github.com/quiverdb/aqse/errors"
)

// Options mirrors spec.md §6's configuration table exactly.
type Options struct {
	// AdaptiveExecutionEnabled gates the whole system; off means the Stage
	// Planner is the identity transform.
	AdaptiveExecutionEnabled bool
	// AdaptiveJoinEnabled enables OptimizeJoin (spec.md §4.6).
	AdaptiveJoinEnabled bool
	// AdaptiveSkewedJoinEnabled enables HandleSkewedJoin (spec.md §4.7).
	AdaptiveSkewedJoinEnabled bool
	// TargetPostShuffleInputSize is the byte target per coalesced group.
	TargetPostShuffleInputSize int64
	// TargetPostShuffleRowCount is an optional row target per coalesced
	// group; zero means unconfigured.
	TargetPostShuffleRowCount int64
	// MinNumPostShufflePartitions is an optional lower bound on the number
	// of coalesced groups; zero means unconfigured.
	MinNumPostShufflePartitions int
	// AdaptiveBroadcastJoinThreshold is the byte cutoff below which
	// OptimizeJoin may demote a sort-merge join to a broadcast-hash join.
	AdaptiveBroadcastJoinThreshold int64
	// AdaptiveSkewedFactor is the multiplier over the median a partition
	// must exceed to be considered skewed.
	AdaptiveSkewedFactor float64
	// AdaptiveSkewedSizeThreshold is the absolute byte floor for skew.
	AdaptiveSkewedSizeThreshold int64
	// AdaptiveSkewedRowCountThreshold is the absolute row-count floor for
	// skew.
	AdaptiveSkewedRowCountThreshold int64
}

// Default values for the skew knobs, matching common defaults in adaptive
// query execution systems this design is modeled on. EnsureDefaults
// substitutes DefaultSkewedFactor for a non-positive AdaptiveSkewedFactor
// and the two threshold defaults for negative skew thresholds;
// MaxSkewSplits caps the split count HandleSkewedJoin uses. EnsureDefaults
// does not use DefaultBroadcastJoinThreshold: a non-positive broadcast
// threshold degrades to 0.
const (
	DefaultBroadcastJoinThreshold  = int64(10 * 1024 * 1024)
	DefaultSkewedFactor            = 5.0
	DefaultSkewedSizeThreshold     = int64(256 * 1024 * 1024)
	DefaultSkewedRowCountThreshold = int64(10_000_000)
	MaxSkewSplits                  = 5
)

// EnsureDefaults normalizes o in place, applying spec.md §7's
// "Configuration range error" rule: an out-of-range value is accepted and
// degraded rather than failing the query. A non-positive byte target or
// broadcast threshold, and a negative row target or minimum partition
// count, degrade to 0, which disables the feature they gate ("no
// coalescing", no broadcast demotion). A non-positive skew factor and
// negative skew thresholds are replaced by the package defaults, so skew
// handling stays on. Every degradation performed is returned as a
// ConfigRangeError so callers can log it, matching the teacher's
// ensureDefaultNodeOptionsValues pattern of filling in zero-value fields
// before a run begins.
func EnsureDefaults(o *Options) []error {
	var degradations []error
	if o.TargetPostShuffleInputSize <= 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "TargetPostShuffleInputSize", Given: o.TargetPostShuffleInputSize, Degraded: int64(0),
		})
		// 0, not a byte default: coordinator.Coordinator treats a
		// non-positive TargetPostShuffleInputSize as "emit one post-shuffle
		// partition per reducer", the actual "no coalescing" behavior.
		// Substituting a real byte target here would do the opposite —
		// with small reducers the greedy pass merges everything into one
		// group instead of none.
		o.TargetPostShuffleInputSize = 0
	}
	if o.TargetPostShuffleRowCount < 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "TargetPostShuffleRowCount", Given: o.TargetPostShuffleRowCount, Degraded: int64(0),
		})
		o.TargetPostShuffleRowCount = 0
	}
	if o.MinNumPostShufflePartitions < 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "MinNumPostShufflePartitions", Given: o.MinNumPostShufflePartitions, Degraded: 0,
		})
		o.MinNumPostShufflePartitions = 0
	}
	if o.AdaptiveBroadcastJoinThreshold <= 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "AdaptiveBroadcastJoinThreshold", Given: o.AdaptiveBroadcastJoinThreshold, Degraded: int64(0),
		})
		o.AdaptiveBroadcastJoinThreshold = 0 // demotion becomes impossible: no side is ever "small enough"
	}
	if o.AdaptiveSkewedFactor <= 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "AdaptiveSkewedFactor", Given: o.AdaptiveSkewedFactor, Degraded: DefaultSkewedFactor,
		})
		o.AdaptiveSkewedFactor = DefaultSkewedFactor
	}
	if o.AdaptiveSkewedSizeThreshold < 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "AdaptiveSkewedSizeThreshold", Given: o.AdaptiveSkewedSizeThreshold, Degraded: DefaultSkewedSizeThreshold,
		})
		o.AdaptiveSkewedSizeThreshold = DefaultSkewedSizeThreshold
	}
	if o.AdaptiveSkewedRowCountThreshold < 0 {
		degradations = append(degradations, aqerrors.ConfigRangeError{
			Field: "AdaptiveSkewedRowCountThreshold", Given: o.AdaptiveSkewedRowCountThreshold, Degraded: DefaultSkewedRowCountThreshold,
		})
		o.AdaptiveSkewedRowCountThreshold = DefaultSkewedRowCountThreshold
	}
	return degradations
}
