package stage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quiverdb/aqse/collab"
	aqerrors "github.com/quiverdb/aqse/errors"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/rangemodel"
)

// ReadRange pairs a Partition Range Model range (spec.md §4.1) with the
// hosts a MapOutputTracker reports for its mapper span, per the
// preferred-location contract — the shape a reduce-task scheduler would
// actually consume.
type ReadRange struct {
	rangemodel.PartitionRange
	Hosts []string
}

// Input is the common surface every QueryStageInput variant exposes to
// the rewriters and the runtime, in addition to being a plan.Node leaf.
type Input interface {
	plan.Node
	// Stage returns the QueryStage this input hides.
	Stage() *QueryStage
}

// ShuffleStageInput is a leaf that hides a ShuffleStage, per spec.md §3.
// It is the input the Exchange Coordinator ultimately assigns read
// boundaries to.
type ShuffleStageInput struct {
	stage  *QueryStage
	output plan.Schema

	mu                    sync.Mutex
	isLocalShuffle        bool
	skewedPartitions      map[int]bool // nil means none
	partitionStartIndices []int        // nil means unset
	partitionEndIndices   []int        // nil means unset
}

// NewShuffleStageInput constructs a ShuffleStageInput over a ShuffleStage,
// exposing output — which may carry different Attribute identities than
// the stage's own child plan, per spec.md §3.
func NewShuffleStageInput(child *QueryStage, output plan.Schema) (*ShuffleStageInput, error) {
	if child.Kind() != ShuffleStageKind {
		return nil, aqerrors.PlanInvariantViolation{Reason: "ShuffleStageInput.child must be a ShuffleStage"}
	}
	return &ShuffleStageInput{stage: child, output: output}, nil
}

// Stage returns the wrapped ShuffleStage.
func (in *ShuffleStageInput) Stage() *QueryStage { return in.stage }

// Children returns nil: a stage input hides its child stage rather than
// exposing it as a structural plan child, per spec.md §3's description
// of QueryStageInput as "a leaf in the parent stage's plan".
func (in *ShuffleStageInput) Children() []plan.Node { return nil }

// WithNewChildren panics if given any children: ShuffleStageInput is a leaf.
func (in *ShuffleStageInput) WithNewChildren(children []plan.Node) plan.Node {
	if len(children) != 0 {
		panic("ShuffleStageInput takes no children")
	}
	return in
}

// Output returns this input's own output schema.
func (in *ShuffleStageInput) Output() plan.Schema { return in.output }

// OutputPartitioning propagates the underlying ShuffleExchange's
// partitioning upward through the attribute-rewrite map from the child
// stage's output to this input's own output, per spec.md §3. Once
// coalescing boundaries have been assigned, the effective partition count
// has changed from the exchange's N to len(partitionStartIndices); that
// narrowing is reflected here too.
func (in *ShuffleStageInput) OutputPartitioning() plan.Partitioning {
	childNode := in.stage.Child()
	rw := plan.BuildRewriteMap(childNode.Output(), in.output)
	p := childNode.OutputPartitioning().WithRewrite(rw)
	in.mu.Lock()
	n := len(in.partitionStartIndices)
	in.mu.Unlock()
	if hp, ok := p.(plan.HashPartitioning); ok && n > 0 {
		hp.N = n
		return hp
	}
	return p
}

// OutputOrdering propagates the underlying exchange's ordering upward
// through the same rewrite map as OutputPartitioning.
func (in *ShuffleStageInput) OutputOrdering() plan.Ordering {
	childNode := in.stage.Child()
	rw := plan.BuildRewriteMap(childNode.Output(), in.output)
	return childNode.OutputOrdering().WithRewrite(rw)
}

// Stats returns the child stage's measured MapOutputStatistics once
// available (IsRuntime=true), falling back to the static estimate carried
// by the underlying exchange before the shuffle has run.
func (in *ShuffleStageInput) Stats() plan.Stats {
	if m, ok := in.stage.MapOutputStatistics(); ok {
		return plan.Stats{SizeInBytes: int64(m.TotalBytes()), RowCount: int64(m.TotalRows()), IsRuntime: true}
	}
	return in.stage.Child().Stats()
}

// Canonical renders this input by the canonical form of the underlying
// stage's child plan plus the markers that change its read semantics, so
// two ShuffleStageInputs over semantically-equal exchanges compare equal
// for the Stage Planner's reuse rule (spec.md §4.3) regardless of which
// stage object backs them.
func (in *ShuffleStageInput) Canonical() string {
	in.mu.Lock()
	local := in.isLocalShuffle
	skewed := canonicalIntSet(in.skewedPartitions)
	in.mu.Unlock()
	return fmt.Sprintf("ShuffleInput[local=%v,skewed=%s](%s)", local, skewed, in.stage.Child().Canonical())
}

// IsLocalShuffle reports whether this input has been marked for a local
// (one-mapper-at-a-time) read by OptimizeJoin (spec.md §4.6).
func (in *ShuffleStageInput) IsLocalShuffle() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.isLocalShuffle
}

// MarkLocalShuffle sets isLocalShuffle, written exactly once per spec.md
// §3's lifecycle rule, before the parent stage's own execution.
func (in *ShuffleStageInput) MarkLocalShuffle() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.isLocalShuffle = true
}

// SkewedPartitions returns the reducer ids HandleSkewedJoin has carved out
// of ordinary coalescing for this input, and whether any have been set.
func (in *ShuffleStageInput) SkewedPartitions() (map[int]bool, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.skewedPartitions == nil {
		return nil, false
	}
	return in.skewedPartitions, true
}

// SetSkewedPartitions assigns the skewed reducer id set, written exactly
// once per spec.md §3.
func (in *ShuffleStageInput) SetSkewedPartitions(skewed map[int]bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.skewedPartitions != nil {
		return aqerrors.PlanInvariantViolation{Reason: "skewedPartitions already set"}
	}
	in.skewedPartitions = skewed
	return nil
}

// PartitionIndices returns the coalescing boundaries assigned by the
// Exchange Coordinator, and whether they have been set yet.
func (in *ShuffleStageInput) PartitionIndices() (starts, ends []int, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.partitionStartIndices == nil {
		return nil, nil, false
	}
	return in.partitionStartIndices, in.partitionEndIndices, true
}

// SetPartitionIndices assigns the coalescing boundaries, written exactly
// once per spec.md §3. ends may be nil, meaning "default to start[i+1]/P".
func (in *ShuffleStageInput) SetPartitionIndices(starts, ends []int) error {
	if ends != nil && len(starts) != len(ends) {
		return aqerrors.PlanInvariantViolation{Reason: "partitionStartIndices and partitionEndIndices must have equal length"}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.partitionStartIndices != nil {
		return aqerrors.PlanInvariantViolation{Reason: "partitionStartIndices already set"}
	}
	in.partitionStartIndices = starts
	in.partitionEndIndices = ends
	return nil
}

// ReadPlan selects this input's read mode from its own state — local
// (rangemodel.LocalRanges) if OptimizeJoin marked it isLocalShuffle,
// coalesced (rangemodel.CoalescedRanges) otherwise — and resolves each
// resulting range's preferred hosts through tracker, per spec.md §4.1's
// "each [read mode] is produced by a ShuffleStageInput given its child
// ShuffleStage's map-output dependency" and its preferred-location
// contract. Only valid once the child stage's MapOutputStatistics are
// available, and, for a coalesced read, once the Exchange Coordinator has
// assigned partition indices.
func (in *ShuffleStageInput) ReadPlan(tracker collab.MapOutputTracker) ([]ReadRange, error) {
	m, ok := in.stage.MapOutputStatistics()
	if !ok {
		return nil, aqerrors.PlanInvariantViolation{Reason: "ReadPlan requires MapOutputStatistics to be set"}
	}
	p := m.PartitionCount()
	numMappers := int(m.NumMappers)

	var ranges []rangemodel.PartitionRange
	var err error
	if in.IsLocalShuffle() {
		ranges, err = rangemodel.LocalRanges(p, numMappers)
	} else {
		starts, ends, set := in.PartitionIndices()
		if !set {
			return nil, aqerrors.PlanInvariantViolation{Reason: "ReadPlan requires partition indices to be assigned first"}
		}
		ranges, err = rangemodel.CoalescedRanges(starts, ends, p, numMappers)
	}
	if err != nil {
		return nil, err
	}

	handle := in.shuffleHandle()
	plans := make([]ReadRange, len(ranges))
	for i, r := range ranges {
		plans[i] = ReadRange{PartitionRange: r, Hosts: tracker.GetMapLocations(handle, r.MapStart, r.MapEnd)}
	}
	return plans, nil
}

// shuffleHandle identifies this input's underlying shuffle write to a
// MapOutputTracker by the wrapped stage's stable id.
func (in *ShuffleStageInput) shuffleHandle() collab.ShuffleHandle {
	return collab.ShuffleHandle(in.stage.ID())
}

func canonicalIntSet(set map[int]bool) string {
	if len(set) == 0 {
		return ""
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// SkewedShuffleStageInput is a leaf reading a single reducer id from a
// restricted mapper range, the shape HandleSkewedJoin's sub-joins consume
// (spec.md §3, §4.7).
type SkewedShuffleStageInput struct {
	stage       *QueryStage
	output      plan.Schema
	PartitionID int
	StartMapID  int
	EndMapID    int
}

// NewSkewedShuffleStageInput constructs a SkewedShuffleStageInput over a
// ShuffleStage, reading reducer id partitionID from mapper range
// [startMapID, endMapID).
func NewSkewedShuffleStageInput(child *QueryStage, output plan.Schema, partitionID, startMapID, endMapID int) (*SkewedShuffleStageInput, error) {
	if child.Kind() != ShuffleStageKind {
		return nil, aqerrors.PlanInvariantViolation{Reason: "SkewedShuffleStageInput.child must be a ShuffleStage"}
	}
	if startMapID >= endMapID {
		return nil, aqerrors.PlanInvariantViolation{Reason: "SkewedShuffleStageInput requires startMapID < endMapID"}
	}
	return &SkewedShuffleStageInput{stage: child, output: output, PartitionID: partitionID, StartMapID: startMapID, EndMapID: endMapID}, nil
}

// Stage returns the wrapped ShuffleStage.
func (in *SkewedShuffleStageInput) Stage() *QueryStage { return in.stage }

// Children returns nil: this is a leaf.
func (in *SkewedShuffleStageInput) Children() []plan.Node { return nil }

// WithNewChildren panics if given any children.
func (in *SkewedShuffleStageInput) WithNewChildren(children []plan.Node) plan.Node {
	if len(children) != 0 {
		panic("SkewedShuffleStageInput takes no children")
	}
	return in
}

// Output returns this input's own output schema.
func (in *SkewedShuffleStageInput) Output() plan.Schema { return in.output }

// OutputPartitioning is always UnknownPartitioning: a single-reducer,
// mapper-restricted read carries no distribution guarantee a parent
// operator can rely on.
func (in *SkewedShuffleStageInput) OutputPartitioning() plan.Partitioning {
	return plan.UnknownPartitioning{N: 1}
}

// OutputOrdering is always empty: skew-split reads are not sorted.
func (in *SkewedShuffleStageInput) OutputOrdering() plan.Ordering { return nil }

// Stats returns an estimate scaled down from the child stage's measured
// statistics by this input's share of reducer id and mapper range, absent
// anything more precise than the per-partition byte/row counts the
// coordinator already used to decide this was worth splitting.
func (in *SkewedShuffleStageInput) Stats() plan.Stats {
	m, ok := in.stage.MapOutputStatistics()
	if !ok || in.PartitionID >= m.PartitionCount() {
		return in.stage.Child().Stats()
	}
	numMappers := int(m.NumMappers)
	if numMappers == 0 {
		numMappers = 1
	}
	share := float64(in.EndMapID-in.StartMapID) / float64(numMappers)
	bytes := float64(m.BytesByPartitionID[in.PartitionID]) * share
	rows := float64(m.RowsByPartitionID[in.PartitionID]) * share
	return plan.Stats{SizeInBytes: int64(bytes), RowCount: int64(rows), IsRuntime: true}
}

// Canonical renders this input.
func (in *SkewedShuffleStageInput) Canonical() string {
	return fmt.Sprintf("SkewedShuffleInput[p=%d,m=%d:%d](%s)", in.PartitionID, in.StartMapID, in.EndMapID, in.stage.Child().Canonical())
}

// ReadPlan produces this input's single adaptive (skew) read range —
// reducer PartitionID restricted to mapper span [StartMapID, EndMapID),
// the split HandleSkewedJoin's DefaultMapBoundaries already carved out —
// and resolves its preferred hosts through tracker, the same
// preferred-location contract ShuffleStageInput.ReadPlan honors for the
// other two read modes.
func (in *SkewedShuffleStageInput) ReadPlan(tracker collab.MapOutputTracker) (ReadRange, error) {
	m, ok := in.stage.MapOutputStatistics()
	if !ok {
		return ReadRange{}, aqerrors.PlanInvariantViolation{Reason: "ReadPlan requires MapOutputStatistics to be set"}
	}
	r := rangemodel.PartitionRange{
		ReducerStart: in.PartitionID,
		ReducerEnd:   in.PartitionID + 1,
		MapStart:     in.StartMapID,
		MapEnd:       in.EndMapID,
	}
	if err := r.Validate(m.PartitionCount(), int(m.NumMappers)); err != nil {
		return ReadRange{}, err
	}
	handle := collab.ShuffleHandle(in.stage.ID())
	return ReadRange{PartitionRange: r, Hosts: tracker.GetMapLocations(handle, r.MapStart, r.MapEnd)}, nil
}

// BroadcastStageInput is a leaf that hides a BroadcastStage, per spec.md §3.
type BroadcastStageInput struct {
	stage  *QueryStage
	output plan.Schema
}

// NewBroadcastStageInput constructs a BroadcastStageInput over a
// BroadcastStage.
func NewBroadcastStageInput(child *QueryStage, output plan.Schema) (*BroadcastStageInput, error) {
	if child.Kind() != BroadcastStageKind {
		return nil, aqerrors.PlanInvariantViolation{Reason: "BroadcastStageInput.child must be a BroadcastStage"}
	}
	return &BroadcastStageInput{stage: child, output: output}, nil
}

// Stage returns the wrapped BroadcastStage.
func (in *BroadcastStageInput) Stage() *QueryStage { return in.stage }

// Children returns nil: this is a leaf.
func (in *BroadcastStageInput) Children() []plan.Node { return nil }

// WithNewChildren panics if given any children.
func (in *BroadcastStageInput) WithNewChildren(children []plan.Node) plan.Node {
	if len(children) != 0 {
		panic("BroadcastStageInput takes no children")
	}
	return in
}

// Output returns this input's own output schema.
func (in *BroadcastStageInput) Output() plan.Schema { return in.output }

// OutputPartitioning is always SinglePartition: a broadcast value is
// replicated, not distributed.
func (in *BroadcastStageInput) OutputPartitioning() plan.Partitioning { return plan.SinglePartition{} }

// OutputOrdering is always empty.
func (in *BroadcastStageInput) OutputOrdering() plan.Ordering { return nil }

// Stats returns the underlying exchange's estimated stats; broadcast
// preparation has no analogue of MapOutputStatistics to report at runtime.
func (in *BroadcastStageInput) Stats() plan.Stats { return in.stage.Child().Stats() }

// Canonical renders this input.
func (in *BroadcastStageInput) Canonical() string {
	return fmt.Sprintf("BroadcastInput(%s)", in.stage.Child().Canonical())
}
