package rewrite

import "github.com/quiverdb/aqse/plan"

// DefaultShufflePartitionCount is the fallback partition count for an
// exchange EnsureRequirements must insert when the node it's wrapping
// reports no partition count of its own (a count of zero or less).
const DefaultShufflePartitionCount = 200

// EnsureRequirements walks root bottom-up and inserts a ShuffleExchange
// wherever a SortMergeJoin's child does not already satisfy that side's
// hash-partitioning requirement, per spec.md §6's "idempotent
// exchange-insertion rule". It is the one real collaborator OptimizeJoin
// needs to decide whether a broadcast-hash candidate can be accepted
// without leaving a stray shuffle behind (spec.md §4.6).
func EnsureRequirements(root plan.Node) plan.Node {
	if root == nil {
		return nil
	}
	children := root.Children()
	if len(children) == 0 {
		return root
	}
	newChildren := make([]plan.Node, len(children))
	childrenChanged := false
	for i, c := range children {
		newChildren[i] = EnsureRequirements(c)
		if newChildren[i] != c {
			childrenChanged = true
		}
	}

	smj, ok := root.(*plan.SortMergeJoin)
	if !ok {
		if childrenChanged {
			return root.WithNewChildren(newChildren)
		}
		return root
	}

	left := requireHashPartitioned(newChildren[0], smj.LeftKeys)
	right := requireHashPartitioned(newChildren[1], smj.RightKeys)
	if left == newChildren[0] && right == newChildren[1] {
		if childrenChanged {
			return root.WithNewChildren(newChildren)
		}
		return root
	}
	return plan.NewSortMergeJoin(left, right, smj.LeftKeys, smj.RightKeys, smj.JoinType, smj.Condition)
}

// requireHashPartitioned returns n unchanged if its output already
// satisfies a hash partitioning over keys, or wraps it in a
// ShuffleExchange otherwise.
func requireHashPartitioned(n plan.Node, keys []plan.AttributeID) plan.Node {
	if len(keys) == 0 {
		return n
	}
	if n.OutputPartitioning().Satisfies(keys) {
		return n
	}
	partitions := n.OutputPartitioning().NumPartitions()
	if partitions <= 0 {
		partitions = DefaultShufflePartitionCount
	}
	return plan.NewShuffleExchange(n, keys, partitions)
}
