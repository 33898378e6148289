package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoColumnLeaf(label string) Node {
	a := NewAttribute("a", "int64")
	b := NewAttribute("b", "int64")
	return NewLeafExec(label, Schema{a, b}, UnknownPartitioning{N: 4}, nil, Stats{SizeInBytes: 100, RowCount: 10})
}

func TestEqualIgnoresAttributeRenaming(t *testing.T) {
	left := twoColumnLeaf("scanX")
	right := twoColumnLeaf("scanX")

	require.True(t, Equal(left, right), "two leaves with identical shape should canonicalize equal despite distinct attribute IDs")
	require.Equal(t, Fingerprint(left), Fingerprint(right))
}

func TestEqualDistinguishesLabels(t *testing.T) {
	left := twoColumnLeaf("scanX")
	right := twoColumnLeaf("scanY")
	require.False(t, Equal(left, right))
}

func TestSortCanonicalTracksChildRenaming(t *testing.T) {
	leaf1 := twoColumnLeaf("scanX")
	leaf2 := twoColumnLeaf("scanX")
	order1 := Ordering{{Key: leaf1.Output()[0].ID}}
	order2 := Ordering{{Key: leaf2.Output()[0].ID}}
	sort1 := NewSort(leaf1, order1, true)
	sort2 := NewSort(leaf2, order2, true)
	require.True(t, Equal(sort1, sort2))

	// sorting on the *other* column should no longer be equal
	order3 := Ordering{{Key: leaf2.Output()[1].ID}}
	sort3 := NewSort(leaf2, order3, true)
	require.False(t, Equal(sort1, sort3))
}

func TestExchangeWithNewChildrenPreservesKind(t *testing.T) {
	leaf := twoColumnLeaf("scanX")
	keys := []AttributeID{leaf.Output()[0].ID}
	ex := NewShuffleExchange(leaf, keys, 8)
	rebuilt := ex.WithNewChildren([]Node{leaf}).(*Exchange)
	require.Equal(t, ShuffleExchangeKind, rebuilt.Kind)
	require.Equal(t, 8, rebuilt.OutputPartitioning().NumPartitions())
}

func TestUnionCanonicalOrderSensitiveButStructural(t *testing.T) {
	l1 := twoColumnLeaf("scanX")
	l2 := twoColumnLeaf("scanY")
	u1 := NewUnion(l1, l2)
	u2 := NewUnion(twoColumnLeaf("scanX"), twoColumnLeaf("scanY"))
	require.True(t, Equal(u1, u2))
}

func TestCommandExecReportsIsCommand(t *testing.T) {
	leaf := twoColumnLeaf("scanX")
	cmd := NewCommandExec("insert", leaf)
	require.True(t, cmd.IsCommand())
	require.Same(t, leaf, cmd.Children()[0])
}

func TestBuildRewriteMap(t *testing.T) {
	from := Schema{NewAttribute("x", "int64"), NewAttribute("y", "int64")}
	to := Schema{NewAttribute("x2", "int64"), NewAttribute("y2", "int64")}
	m := BuildRewriteMap(from, to)
	rewritten := m.Rewrite(from[0])
	require.Equal(t, to[0].ID, rewritten.ID)
	require.Equal(t, "x2", rewritten.Name)
}
