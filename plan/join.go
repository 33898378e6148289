package plan

import "fmt"

// JoinType enumerates the join semantics AQSE's rewriters need to reason
// about when deciding buildable sides (spec.md §4.6) and skew eligibility
// (spec.md §4.7).
type JoinType int

const (
	Inner JoinType = iota
	Cross
	LeftOuter
	RightOuter
	LeftSemi
	LeftAnti
	Existence
)

func (t JoinType) String() string {
	switch t {
	case Inner:
		return "Inner"
	case Cross:
		return "Cross"
	case LeftOuter:
		return "LeftOuter"
	case RightOuter:
		return "RightOuter"
	case LeftSemi:
		return "LeftSemi"
	case LeftAnti:
		return "LeftAnti"
	case Existence:
		return "Existence"
	default:
		return "Unknown"
	}
}

// RightBuildable reports whether this join type admits building a hash
// table from its right side, per spec.md §4.6: "right-buildable for
// inner/left-outer/left-semi/left-anti/existence".
func (t JoinType) RightBuildable() bool {
	switch t {
	case Inner, LeftOuter, LeftSemi, LeftAnti, Existence:
		return true
	default:
		return false
	}
}

// LeftBuildable reports whether this join type admits building a hash
// table from its left side, per spec.md §4.6: "left-buildable for
// inner/right-outer".
func (t JoinType) LeftBuildable() bool {
	switch t {
	case Inner, RightOuter:
		return true
	default:
		return false
	}
}

// JoinCondition is an opaque residual predicate carried alongside the
// equi-join keys. AQSE never evaluates it; it only needs to move it
// unchanged between SortMergeJoin and BroadcastHashJoin during
// OptimizeJoin, and to replicate it across HandleSkewedJoin's sub-joins.
type JoinCondition string

// SortMergeJoin is the plan node OptimizeJoin looks for and may demote,
// and the plan node HandleSkewedJoin looks for and may split.
type SortMergeJoin struct {
	baseNode
	LeftKeys  []AttributeID
	RightKeys []AttributeID
	JoinType  JoinType
	Condition JoinCondition
}

// NewSortMergeJoin constructs a SortMergeJoin over left and right children,
// which are conventionally already wrapped in Sort nodes by the operator
// library upstream of AQSE.
func NewSortMergeJoin(left, right Node, leftKeys, rightKeys []AttributeID, joinType JoinType, cond JoinCondition) *SortMergeJoin {
	output := append(append(Schema{}, left.Output()...), right.Output()...)
	return &SortMergeJoin{
		baseNode: baseNode{
			children:     []Node{left, right},
			output:       output,
			partitioning: UnknownPartitioning{},
			stats:        Stats{SizeInBytes: left.Stats().SizeInBytes + right.Stats().SizeInBytes, RowCount: left.Stats().RowCount + right.Stats().RowCount},
		},
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		JoinType:  joinType,
		Condition: cond,
	}
}

// Left returns the left child.
func (j *SortMergeJoin) Left() Node { return j.children[0] }

// Right returns the right child.
func (j *SortMergeJoin) Right() Node { return j.children[1] }

// WithNewChildren returns a copy of this SortMergeJoin over new children.
func (j *SortMergeJoin) WithNewChildren(children []Node) Node {
	if len(children) != 2 {
		panic("SortMergeJoin takes exactly two children")
	}
	return NewSortMergeJoin(children[0], children[1], j.LeftKeys, j.RightKeys, j.JoinType, j.Condition)
}

// Canonical renders this SortMergeJoin.
func (j *SortMergeJoin) Canonical() string {
	pos := canonicalPositions(j.children...)
	return fmt.Sprintf("SortMergeJoin[%s,%v](%s;%s;%s)", j.JoinType, j.Condition, canonicalKeys(pos, j.LeftKeys), canonicalKeys(pos, j.RightKeys), joinChildren(j.children))
}

// BuildSide identifies which input of a BroadcastHashJoin is materialized
// into a hash table.
type BuildSide int

const (
	BuildLeft BuildSide = iota
	BuildRight
)

func (s BuildSide) String() string {
	if s == BuildLeft {
		return "left"
	}
	return "right"
}

// BroadcastHashJoin is the plan node OptimizeJoin grafts in place of a
// SortMergeJoin once one side is proven small enough (spec.md §4.6).
type BroadcastHashJoin struct {
	baseNode
	LeftKeys  []AttributeID
	RightKeys []AttributeID
	JoinType  JoinType
	Condition JoinCondition
	Build     BuildSide
}

// NewBroadcastHashJoin constructs a BroadcastHashJoin over left and right
// children with sorts already stripped, per spec.md §4.6.
func NewBroadcastHashJoin(left, right Node, leftKeys, rightKeys []AttributeID, joinType JoinType, cond JoinCondition, build BuildSide) *BroadcastHashJoin {
	output := append(append(Schema{}, left.Output()...), right.Output()...)
	streamSide := left
	if build == BuildLeft {
		streamSide = right
	}
	return &BroadcastHashJoin{
		baseNode: baseNode{
			children:     []Node{left, right},
			output:       output,
			partitioning: streamSide.OutputPartitioning(),
			stats:        Stats{SizeInBytes: left.Stats().SizeInBytes + right.Stats().SizeInBytes, RowCount: left.Stats().RowCount + right.Stats().RowCount},
		},
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		JoinType:  joinType,
		Condition: cond,
		Build:     build,
	}
}

// Left returns the left child.
func (j *BroadcastHashJoin) Left() Node { return j.children[0] }

// Right returns the right child.
func (j *BroadcastHashJoin) Right() Node { return j.children[1] }

// WithNewChildren returns a copy of this BroadcastHashJoin over new
// children.
func (j *BroadcastHashJoin) WithNewChildren(children []Node) Node {
	if len(children) != 2 {
		panic("BroadcastHashJoin takes exactly two children")
	}
	return NewBroadcastHashJoin(children[0], children[1], j.LeftKeys, j.RightKeys, j.JoinType, j.Condition, j.Build)
}

// Canonical renders this BroadcastHashJoin.
func (j *BroadcastHashJoin) Canonical() string {
	pos := canonicalPositions(j.children...)
	return fmt.Sprintf("BroadcastHashJoin[%s,%v,build=%s](%s;%s;%s)", j.JoinType, j.Condition, j.Build, canonicalKeys(pos, j.LeftKeys), canonicalKeys(pos, j.RightKeys), joinChildren(j.children))
}

func canonicalKeys(pos map[AttributeID]int, keys []AttributeID) string {
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", pos[k])
	}
	return s
}

func joinChildren(children []Node) string {
	s := ""
	for i, c := range children {
		if i > 0 {
			s += ","
		}
		s += c.Canonical()
	}
	return s
}
