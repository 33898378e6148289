package runtime

import (
	"context"
	"log"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/quiverdb/aqse/collab"
	"github.com/quiverdb/aqse/config"
	"github.com/quiverdb/aqse/coordinator"
	aqerrors "github.com/quiverdb/aqse/errors"
	"github.com/quiverdb/aqse/events"
	"github.com/quiverdb/aqse/plan"
	"github.com/quiverdb/aqse/rewrite"
	"github.com/quiverdb/aqse/stage"
	"github.com/quiverdb/aqse/stats"
)

// Engine drives the Stage Runtime protocol over a tree of QueryStages.
// One Engine is constructed per query; it shares the process-wide
// stagePool with every other Engine alive at the same time.
type Engine struct {
	Config      *config.Options
	Coordinator *coordinator.Coordinator
	Bus         events.Bus
	Executor    stage.Executor
	// Tracker resolves preferred hosts for a finalized stage's read
	// ranges, per spec.md §4.1's preferred-location contract.
	Tracker collab.MapOutputTracker
}

// New constructs an Engine from a fully-defaulted config.Options (callers
// should have already run config.EnsureDefaults), an events.Bus (nil
// disables the observability hook), and the Executor collaborator that
// actually runs a finalized stage plan. Tracker defaults to an
// InMemoryMapOutputTracker; assign Engine.Tracker directly for a
// cluster-backed implementation.
func New(cfg *config.Options, bus events.Bus, exec stage.Executor) *Engine {
	return &Engine{
		Config:      cfg,
		Coordinator: coordinator.New(cfg.TargetPostShuffleInputSize, cfg.TargetPostShuffleRowCount, cfg.MinNumPostShufflePartitions),
		Bus:         bus,
		Executor:    exec,
		Tracker:     collab.NewInMemoryMapOutputTracker(),
	}
}

// ExecuteQuery runs the full Stage Runtime protocol over a query's
// ResultStage and returns its materialized result.
func (e *Engine) ExecuteQuery(ctx context.Context, result *stage.QueryStage) (stage.Artifact, error) {
	return e.ExecuteStage(ctx, result)
}

// ExecuteStage runs the execute() protocol from spec.md §4.4 on s: fan out
// to child stages, apply the adaptive rewriters, determine reducer
// counts, collapse codegen, post the observability event, then run s
// itself. Memoization and per-stage serialization are s.RunOnce's
// responsibility; ExecuteStage is safe to call concurrently on the same
// stage from multiple parents.
func (e *Engine) ExecuteStage(ctx context.Context, s *stage.QueryStage) (stage.Artifact, error) {
	log.Printf("stage %s (%s): starting", s.ID(), s.Kind())
	artifact, err := s.RunOnce(func() (stage.Artifact, error) {
		// Step 1: child-stage fan-out.
		if err := e.prepareChildren(ctx, s.Child()); err != nil {
			return nil, err
		}

		// Step 2: adaptive rewriting.
		if err := e.applyAdaptiveRewrites(s); err != nil {
			return nil, err
		}

		// Step 3: reducer-count determination.
		if err := e.assignReducerCounts(s.Child()); err != nil {
			return nil, err
		}

		// Step 4: codegen collapse.
		finalChild := collab.CollapseCodegenStages(s.Child())
		if err := s.SetChild(finalChild); err != nil {
			return nil, err
		}

		// Step 4b: resolve read ranges for every shuffle input this stage
		// now depends on and narrate them, exercising the Partition Range
		// Model's read-mode dispatch and the preferred-location contract
		// on the execute() path itself rather than only in tests.
		e.logReadPlans(s, finalChild)

		// Step 5: observability hook.
		if e.Bus != nil {
			e.Bus.Publish(events.AdaptiveExecutionUpdate{
				StageID: s.ID(),
				Kind:    "plan-finalized",
				Detail:  finalChild.Canonical(),
			})
		}

		// Step 6: execute.
		switch s.Kind() {
		case stage.ShuffleStageKind:
			artifact, mapStats, err := e.Executor.ExecuteShuffle(finalChild)
			if err != nil {
				return nil, aqerrors.ExecutionFailure{StageID: s.ID(), Cause: err}
			}
			if err := s.SetMapOutputStatistics(mapStats); err != nil {
				return nil, err
			}
			return artifact, nil
		case stage.ResultStageKind:
			artifact, err := e.Executor.ExecuteResult(finalChild)
			if err != nil {
				return nil, aqerrors.ExecutionFailure{StageID: s.ID(), Cause: err}
			}
			return artifact, nil
		default:
			return nil, aqerrors.PlanInvariantViolation{Reason: "ExecuteStage called on a BroadcastStage; use PrepareBroadcastStage"}
		}
	})
	if err != nil {
		log.Printf("stage %s (%s): failed: %v", s.ID(), s.Kind(), err)
	} else {
		log.Printf("stage %s (%s): finished", s.ID(), s.Kind())
	}
	return artifact, err
}

// PrepareBroadcastStage runs the prepareBroadcast() protocol from spec.md
// §4.5: fan out to s's own children, collapse codegen, then trigger the
// broadcast side-effect. Idempotent: once a call has succeeded, repeated
// calls return nil without redoing the work. The broadcast value itself
// stays cached on s (s.Result) and is not returned here.
func (e *Engine) PrepareBroadcastStage(ctx context.Context, s *stage.QueryStage) error {
	log.Printf("stage %s (%s): starting", s.ID(), s.Kind())
	_, err := s.RunOnce(func() (stage.Artifact, error) {
		if err := e.prepareChildren(ctx, s.Child()); err != nil {
			return nil, err
		}
		collapsed := collab.CollapseCodegenStages(s.Child())
		if err := s.SetChild(collapsed); err != nil {
			return nil, err
		}
		e.logReadPlans(s, collapsed)
		artifact, err := e.Executor.PrepareBroadcast(collapsed)
		if err != nil {
			return nil, aqerrors.ExecutionFailure{StageID: s.ID(), Cause: err}
		}
		return artifact, nil
	})
	if err != nil {
		log.Printf("stage %s (%s): failed: %v", s.ID(), s.Kind(), err)
	} else {
		log.Printf("stage %s (%s): finished", s.ID(), s.Kind())
	}
	return err
}

// logReadPlans resolves every shuffle-backed stage input directly in root
// to its read plan (spec.md §4.1) and narrates it at the same granularity
// the teacher's cluster/coordinator.go brackets a stage's run with
// "Starting stage %d..."/"Finished stage %d". A stage input whose
// statistics or partition indices are not yet assigned is skipped rather
// than treated as an error — ResultStage roots over a plan with no
// shuffle inputs never have anything to log.
func (e *Engine) logReadPlans(s *stage.QueryStage, root plan.Node) {
	if e.Tracker == nil {
		return
	}
	for _, in := range collectStageInputs(root) {
		switch v := in.(type) {
		case *stage.ShuffleStageInput:
			plans, err := v.ReadPlan(e.Tracker)
			if err != nil {
				continue
			}
			for _, p := range plans {
				log.Printf("stage %s: read range reducer[%d,%d) mapper[%d,%d) hosts=%v", s.ID(), p.ReducerStart, p.ReducerEnd, p.MapStart, p.MapEnd, p.Hosts)
			}
		case *stage.SkewedShuffleStageInput:
			p, err := v.ReadPlan(e.Tracker)
			if err != nil {
				continue
			}
			log.Printf("stage %s: skew read range reducer[%d,%d) mapper[%d,%d) hosts=%v", s.ID(), p.ReducerStart, p.ReducerEnd, p.MapStart, p.MapEnd, p.Hosts)
		}
	}
}

// prepareChildren implements spec.md §4.4 step 1: every ShuffleStageInput
// and BroadcastStageInput directly reachable in root's plan has its child
// stage submitted to the shared pool, and prepareChildren blocks until
// every submission completes, failed or not, then returns all failures
// aggregated into one multierror (nil if none failed). It is the only
// step that performs off-stage work; per spec.md §5, no stage monitor is
// held across this call.
func (e *Engine) prepareChildren(ctx context.Context, root plan.Node) error {
	inputs := collectStageInputs(root)
	if len(inputs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	addErr := func(err error) {
		mu.Lock()
		errs = multierror.Append(errs, err)
		mu.Unlock()
	}

	for _, in := range inputs {
		in := in
		childStage := in.Stage()
		switch childStage.Kind() {
		case stage.ShuffleStageKind, stage.BroadcastStageKind:
		default:
			addErr(aqerrors.PlanInvariantViolation{Reason: "stage input references neither a ShuffleStage nor a BroadcastStage"})
			continue
		}

		if err := stagePool.Acquire(ctx, 1); err != nil {
			addErr(err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stagePool.Release(1)
			var err error
			if childStage.Kind() == stage.ShuffleStageKind {
				_, err = e.ExecuteStage(ctx, childStage)
			} else {
				err = e.PrepareBroadcastStage(ctx, childStage)
			}
			if err != nil {
				addErr(err)
			}
		}()
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// applyAdaptiveRewrites implements spec.md §4.4 step 2: OptimizeJoin then
// HandleSkewedJoin, re-running EnsureRequirements after either one
// mutates the plan.
func (e *Engine) applyAdaptiveRewrites(s *stage.QueryStage) error {
	child := s.Child()
	isShuffleStage := s.Kind() == stage.ShuffleStageKind

	rewritten, joinChanged := rewrite.OptimizeJoin(child, e.Config, isShuffleStage)
	if joinChanged {
		rewritten = rewrite.EnsureRequirements(rewritten)
	}

	rewritten, skewChanged := rewrite.HandleSkewedJoin(rewritten, e.Config)
	if skewChanged {
		rewritten = rewrite.EnsureRequirements(rewritten)
	}

	if !joinChanged && !skewChanged {
		return nil
	}
	return s.SetChild(rewritten)
}

// assignReducerCounts implements spec.md §4.4 step 3.
func (e *Engine) assignReducerCounts(root plan.Node) error {
	inputs := collectUnassignedShuffleInputs(root)
	if len(inputs) == 0 {
		return nil
	}

	allStats := make([]stats.MapOutputStatistics, len(inputs))
	for i, in := range inputs {
		m, ok := in.Stage().MapOutputStatistics()
		if !ok {
			return aqerrors.PlanInvariantViolation{Reason: "shuffle stage input's child stage has no map output statistics yet"}
		}
		allStats[i] = m
	}

	if len(inputs) == 2 {
		skewA, okA := inputs[0].SkewedPartitions()
		skewB, okB := inputs[1].SkewedPartitions()
		if okA && okB {
			starts, ends, err := e.Coordinator.EstimatePartitionStartEndIndices(allStats, unionIntSets(skewA, skewB))
			if err != nil {
				return err
			}
			for _, in := range inputs {
				if err := in.SetPartitionIndices(starts, ends); err != nil {
					return err
				}
			}
			return nil
		}
	}

	starts, err := e.Coordinator.EstimatePartitionStartIndices(allStats)
	if err != nil {
		return err
	}
	for _, in := range inputs {
		if err := in.SetPartitionIndices(starts, nil); err != nil {
			return err
		}
	}
	return nil
}

var _ collab.EnsureRequirements = rewrite.EnsureRequirements
