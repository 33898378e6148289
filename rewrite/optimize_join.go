package rewrite

import (
	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/stage"
)

// OptimizeJoin walks root bottom-up and demotes any SortMergeJoin whose
// build side is small enough to a BroadcastHashJoin, per spec.md §4.6. It
// returns the rewritten tree and whether any demotion was applied. A
// no-op (changed=false) when cfg.AdaptiveJoinEnabled is false.
func OptimizeJoin(root plan.Node, cfg *config.Options, enclosingIsShuffleStage bool) (plan.Node, bool) {
	if !cfg.AdaptiveJoinEnabled {
		return root, false
	}
	return optimizeJoinRec(root, cfg, enclosingIsShuffleStage, identityGraft)
}

func identityGraft(n plan.Node) plan.Node { return n }

// optimizeJoinRec walks n bottom-up. rebuildRoot reconstructs the whole
// stage child plan with n's position replaced by whatever node it is
// given — every ancestor already visited keeps its decided rewrite,
// every sibling not yet visited keeps its original form. optimizeJoinRec
// uses it to graft a demotion candidate into a copy of the FULL plan
// before counting ShuffleExchange nodes, per spec.md §4.6: the stage's
// own top-level ShuffleExchange (always present per
// stage.NewShuffleStage) and any other join elsewhere in the same stage
// both have to be in scope for the count, not just the candidate's own
// subtree.
func optimizeJoinRec(n plan.Node, cfg *config.Options, enclosingIsShuffleStage bool, rebuildRoot func(plan.Node) plan.Node) (plan.Node, bool) {
	children := n.Children()
	changedAny := false
	if len(children) > 0 {
		newChildren := append([]plan.Node(nil), children...)
		for i, c := range children {
			i := i
			childRebuild := func(x plan.Node) plan.Node {
				withChild := append([]plan.Node(nil), newChildren...)
				withChild[i] = x
				return rebuildRoot(n.WithNewChildren(withChild))
			}
			nc, ch := optimizeJoinRec(c, cfg, enclosingIsShuffleStage, childRebuild)
			newChildren[i] = nc
			changedAny = changedAny || ch
		}
		n = n.WithNewChildren(newChildren)
	}

	smj, ok := n.(*plan.SortMergeJoin)
	if !ok {
		return n, changedAny
	}

	build, buildable := selectBuildSide(smj, cfg)
	if !buildable {
		return n, changedAny
	}

	strippedLeft := stripSort(smj.Left())
	strippedRight := stripSort(smj.Right())
	candidate := plan.NewBroadcastHashJoin(strippedLeft, strippedRight, smj.LeftKeys, smj.RightKeys, smj.JoinType, smj.Condition, build)
	candidateLocal := EnsureRequirements(candidate)

	wholePlan := EnsureRequirements(rebuildRoot(candidateLocal))
	exchanges := countShuffleExchanges(wholePlan)
	accept := exchanges == 0 || (enclosingIsShuffleStage && exchanges == 1)
	if !accept {
		return n, changedAny
	}

	markLocalShuffle(candidateLocal)
	return candidateLocal, true
}

// selectBuildSide decides whether smj's left or right side can be
// broadcast-built, preferring right when both qualify, per spec.md §4.6:
// "a side is buildable if (a) joinType admits building that side ... and
// (b) its estimated size is within adaptiveBroadcastJoinThreshold and
// non-negative."
func selectBuildSide(smj *plan.SortMergeJoin, cfg *config.Options) (plan.BuildSide, bool) {
	rightStats := smj.Right().Stats()
	if smj.JoinType.RightBuildable() && rightStats.SizeInBytes >= 0 && rightStats.SizeInBytes <= cfg.AdaptiveBroadcastJoinThreshold {
		return plan.BuildRight, true
	}
	leftStats := smj.Left().Stats()
	if smj.JoinType.LeftBuildable() && leftStats.SizeInBytes >= 0 && leftStats.SizeInBytes <= cfg.AdaptiveBroadcastJoinThreshold {
		return plan.BuildLeft, true
	}
	return 0, false
}

// markLocalShuffle sets isLocalShuffle on every ShuffleStageInput that is
// a direct child of the accepted broadcast-hash join, per spec.md §4.6:
// "the broadcast removes the shuffle dependency" for whichever side still
// reads from a previously-shuffled stage. A side EnsureRequirements had
// to re-wrap in a fresh ShuffleExchange (the exchanges==1 acceptance
// branch) is not a bare ShuffleStageInput here and is correctly left
// unmarked — it still needs the shuffle it was just wrapped in, so there
// is no completed stage's local read to switch to.
func markLocalShuffle(n plan.Node) {
	bhj, ok := n.(*plan.BroadcastHashJoin)
	if !ok {
		return
	}
	for _, side := range []plan.Node{bhj.Left(), bhj.Right()} {
		if in, ok := side.(*stage.ShuffleStageInput); ok {
			in.MarkLocalShuffle()
		}
	}
}
