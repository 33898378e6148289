package plan

import (
	"fmt"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
)

// Node is a node in the physical plan tree AQSE operates on. The real
// operator implementations (sort-merge join, broadcast-hash join, sort,
// union, table scans, ...) live outside this repository per spec.md §1;
// Node captures exactly the surface the Stage Planner, Stage Runtime and
// Adaptive Rewriters need to inspect and rewrite: children, schema,
// distribution/order, and estimated size.
type Node interface {
	Children() []Node
	// WithNewChildren returns a shallow copy of this Node with its children
	// replaced. Rewrites always build a new subtree this way rather than
	// mutating in place, so a half-applied rewrite is never observable.
	WithNewChildren(children []Node) Node
	Output() Schema
	OutputPartitioning() Partitioning
	OutputOrdering() Ordering
	Stats() Stats
	// Canonical renders this subtree using positional attribute placeholders
	// (rather than concrete AttributeIDs) so that two subtrees which are
	// structurally identical modulo attribute renaming produce identical
	// strings. Used by both the Stage Planner's reuse rule and semantic
	// plan-equality checks elsewhere.
	Canonical() string
}

// canonicalPositions builds a table mapping every AttributeID reachable
// from a Node's Output (in order) to its position, for use in Canonical
// implementations. Each node type numbers only its own output; join and
// exchange nodes additionally fold in their children's positions so key
// references canonicalize consistently.
func canonicalPositions(children ...Node) map[AttributeID]int {
	pos := make(map[AttributeID]int)
	next := 0
	for _, c := range children {
		for _, a := range c.Output() {
			if _, ok := pos[a.ID]; !ok {
				pos[a.ID] = next
				next++
			}
		}
	}
	return pos
}

// Equal reports whether two plan subtrees are semantically equal modulo
// attribute renaming, per the Stage Planner's reuse rule in spec.md §4.3.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Canonical() == b.Canonical()
}

// Fingerprint returns a fast, deterministic hash of a subtree's canonical
// form; subtrees that are Equal have the same Fingerprint. The Stage
// Planner does not call it: its reuse table is bucketed by output schema
// shape.
func Fingerprint(n Node) uint64 {
	if n == nil {
		return 0
	}
	return xxhash.Sum64String(n.Canonical())
}

// baseNode factors the bookkeeping every concrete Node embeds: its
// children, cached output schema, distribution/order, and estimated size.
// Concrete node types embed baseNode and only implement Canonical and
// WithNewChildren themselves, mirroring how the teacher's schema.column
// factors shared bookkeeping out of each column type
// (schema/schema.go).
type baseNode struct {
	children    []Node
	output      Schema
	partitioning Partitioning
	ordering    Ordering
	stats       Stats
}

func (b baseNode) Children() []Node                { return b.children }
func (b baseNode) Output() Schema                   { return b.output }
func (b baseNode) OutputPartitioning() Partitioning { return b.partitioning }
func (b baseNode) OutputOrdering() Ordering         { return b.ordering }
func (b baseNode) Stats() Stats                     { return b.stats }

// LeafExec stands in for any opaque physical leaf operator this repo does
// not implement (a table scan, a local values source, ...). It carries a
// Label purely for readability in tests and canonical strings.
type LeafExec struct {
	baseNode
	Label string
}

// NewLeafExec constructs a LeafExec with the given output schema and
// estimated stats.
func NewLeafExec(label string, output Schema, partitioning Partitioning, ordering Ordering, stats Stats) *LeafExec {
	return &LeafExec{baseNode: baseNode{output: output, partitioning: partitioning, ordering: ordering, stats: stats}, Label: label}
}

// WithNewChildren returns this LeafExec unchanged: leaves have no children.
func (l *LeafExec) WithNewChildren(children []Node) Node {
	if len(children) != 0 {
		panic("LeafExec takes no children")
	}
	return l
}

// Canonical renders this leaf using its own output shape, since two
// distinct leaves are never considered equal by identity alone; leaves
// compare equal only when their Label and shape match, mirroring how the
// Stage Planner reuse rule needs a way to say "this is the same
// underlying scan" without depending on object identity.
func (l *LeafExec) Canonical() string {
	pos := canonicalPositions()
	types := make([]string, len(l.output))
	for i, a := range l.output {
		pos[a.ID] = i
		types[i] = a.DataType
	}
	return fmt.Sprintf("Leaf[%s](%s)/%s", l.Label, strings.Join(types, ","), l.partitioning.Canonical(pos))
}

// Sort represents a sort operator over a single child.
type Sort struct {
	baseNode
	SortOrder Ordering
	Global    bool
}

// NewSort constructs a Sort over child, ordered by order.
func NewSort(child Node, order Ordering, global bool) *Sort {
	return &Sort{
		baseNode: baseNode{
			children:     []Node{child},
			output:       child.Output(),
			partitioning: child.OutputPartitioning(),
			ordering:     order,
			stats:        child.Stats(),
		},
		SortOrder: order,
		Global:    global,
	}
}

// WithNewChildren returns a copy of this Sort over new children.
func (s *Sort) WithNewChildren(children []Node) Node {
	if len(children) != 1 {
		panic("Sort takes exactly one child")
	}
	return NewSort(children[0], s.SortOrder, s.Global)
}

// Canonical renders this Sort.
func (s *Sort) Canonical() string {
	pos := canonicalPositions(s.children[0])
	return fmt.Sprintf("Sort[%s](%s)", s.SortOrder.Canonical(pos), s.children[0].Canonical())
}

// Union represents the union of two or more children with identical
// schemas, as produced by HandleSkewedJoin (spec.md §4.7 step 4).
type Union struct {
	baseNode
}

// NewUnion constructs a Union over the given children, which must share an
// output schema shape.
func NewUnion(children ...Node) *Union {
	if len(children) == 0 {
		panic("Union requires at least one child")
	}
	var totalRows, totalBytes int64
	for _, c := range children {
		totalRows += c.Stats().RowCount
		totalBytes += c.Stats().SizeInBytes
	}
	return &Union{baseNode: baseNode{
		children:     children,
		output:       children[0].Output(),
		partitioning: UnknownPartitioning{},
		stats:        Stats{SizeInBytes: totalBytes, RowCount: totalRows},
	}}
}

// WithNewChildren returns a copy of this Union over new children.
func (u *Union) WithNewChildren(children []Node) Node {
	return NewUnion(children...)
}

// Canonical renders this Union with its children in operand order, so two
// Unions over the same children in a different order do not compare equal.
func (u *Union) Canonical() string {
	parts := make([]string, len(u.children))
	for i, c := range u.children {
		parts[i] = c.Canonical()
	}
	return fmt.Sprintf("Union(%s)", strings.Join(parts, "|"))
}

// ExchangeKind distinguishes the two Exchange variants named in spec.md §3.
type ExchangeKind int

const (
	// ShuffleExchangeKind redistributes rows by hashing join/group keys.
	ShuffleExchangeKind ExchangeKind = iota
	// BroadcastExchangeKind replicates a relation to every worker.
	BroadcastExchangeKind
)

// Exchange is a plan node that redistributes (Shuffle) or replicates
// (Broadcast) its child's rows, per the GLOSSARY definition of Exchange.
type Exchange struct {
	baseNode
	Kind ExchangeKind
	Keys []AttributeID // hash keys, meaningful only for ShuffleExchangeKind
}

// NewShuffleExchange constructs a ShuffleExchange over child, hashed on keys
// into n post-shuffle partitions.
func NewShuffleExchange(child Node, keys []AttributeID, n int) *Exchange {
	return &Exchange{
		baseNode: baseNode{
			children:     []Node{child},
			output:       child.Output(),
			partitioning: HashPartitioning{Keys: keys, N: n},
			stats:        child.Stats(),
		},
		Kind: ShuffleExchangeKind,
		Keys: keys,
	}
}

// NewBroadcastExchange constructs a BroadcastExchange over child.
func NewBroadcastExchange(child Node) *Exchange {
	return &Exchange{
		baseNode: baseNode{
			children:     []Node{child},
			output:       child.Output(),
			partitioning: SinglePartition{},
			stats:        child.Stats(),
		},
		Kind: BroadcastExchangeKind,
	}
}

// WithNewChildren returns a copy of this Exchange over a new child.
func (e *Exchange) WithNewChildren(children []Node) Node {
	if len(children) != 1 {
		panic("Exchange takes exactly one child")
	}
	if e.Kind == BroadcastExchangeKind {
		return NewBroadcastExchange(children[0])
	}
	return NewShuffleExchange(children[0], e.Keys, e.partitioning.NumPartitions())
}

// CommandExec stands in for a side-effecting root operator (an insert, a
// DDL statement, ...) that produces no row set for a caller to materialize
// through a ResultStage, mirroring how the teacher's TaskType distinguishes
// NoOpTaskType from the data-producing task kinds (task_type.go). The
// Stage Planner (§4.3) leaves a CommandExec root unwrapped.
type CommandExec struct {
	baseNode
	Label string
}

// NewCommandExec constructs a CommandExec wrapping child's effect, exposing
// no output rows of its own.
func NewCommandExec(label string, child Node) *CommandExec {
	return &CommandExec{baseNode: baseNode{children: []Node{child}}, Label: label}
}

// IsCommand reports that this node is a side-effecting command, per
// spec.md §4.3's "if the root is a side-effecting command, return it
// unchanged" rule.
func (c *CommandExec) IsCommand() bool { return true }

// WithNewChildren returns a copy of this CommandExec over a new child.
func (c *CommandExec) WithNewChildren(children []Node) Node {
	if len(children) != 1 {
		panic("CommandExec takes exactly one child")
	}
	return NewCommandExec(c.Label, children[0])
}

// Canonical renders this CommandExec.
func (c *CommandExec) Canonical() string {
	return fmt.Sprintf("Command[%s](%s)", c.Label, c.children[0].Canonical())
}

// Canonical renders this Exchange.
func (e *Exchange) Canonical() string {
	child := e.children[0]
	pos := canonicalPositions(child)
	kind := "Shuffle"
	if e.Kind == BroadcastExchangeKind {
		kind = "Broadcast"
	}
	return fmt.Sprintf("Exchange[%s](%s|%s)", kind, e.partitioning.Canonical(pos), child.Canonical())
}
