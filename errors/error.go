package errors

import "fmt"

// PlanInvariantViolation occurs when a plan node breaks a structural
// invariant AQSE relies on — e.g. a ShuffleStage's child is not a
// ShuffleExchange, or execute() is called on a BroadcastStage. Fatal to
// the query; propagate unchanged, per spec.md §7.
type PlanInvariantViolation struct{ Reason string }

// Error returns a textual representation of this PlanInvariantViolation.
func (e PlanInvariantViolation) Error() string {
	return fmt.Sprintf("plan invariant violated: %s", e.Reason)
}

// CoordinatorPreconditionFailure occurs when the Exchange Coordinator is
// given MapOutputStatistics that disagree on the pre-shuffle partition
// count P. Fatal, per spec.md §7.
type CoordinatorPreconditionFailure struct{ Reason string }

// Error returns a textual representation of this CoordinatorPreconditionFailure.
func (e CoordinatorPreconditionFailure) Error() string {
	return fmt.Sprintf("exchange coordinator precondition failed: %s", e.Reason)
}

// ExecutionFailure wraps an error raised by a child stage's execution,
// propagated to the parent's awaiter without caching a partial result,
// per spec.md §7.
type ExecutionFailure struct {
	StageID string
	Cause   error
}

// Error returns a textual representation of this ExecutionFailure.
func (e ExecutionFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.StageID, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e ExecutionFailure) Unwrap() error { return e.Cause }

// ConfigRangeError occurs when a configuration value is degraded to a
// safe default rather than rejected outright (spec.md §7's "Configuration
// range error" kind: non-positive thresholds accept but degrade to "no
// coalescing"). It is informational, not fatal — callers may ignore it,
// but config.EnsureDefaults returns it so misconfiguration is observable.
type ConfigRangeError struct {
	Field    string
	Given    interface{}
	Degraded interface{}
}

// Error returns a textual representation of this ConfigRangeError.
func (e ConfigRangeError) Error() string {
	return fmt.Sprintf("config field %s had invalid value %v, degraded to %v", e.Field, e.Given, e.Degraded)
}
