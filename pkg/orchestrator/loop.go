package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/cost"
	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/pauseformat"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/stage"
)

// loopInput bundles everything the main loop needs that isn't already on
// the Driver itself.
type loopInput struct {
	state        pipeline.State
	cfg          agentconfig.AgentConfig
	userMessage  string
	followUp     followup.Context
	hasFollowUp  bool
	tracker      *cost.Tracker
	skipSet      map[int]bool
	startStageID int
}

// runLoop is the main stage loop shared by Run, Resume, and
// ResumeFromBreakout: starting at in.startStageID, it walks the
// configured stages in order, applying the skip check, pause-after check,
// normal execution, budget check, and repair loop in that order, per
// stage.
func (d *Driver) runLoop(ctx context.Context, sink Sink, in loopInput) (pipeline.State, error) {
	state := in.state
	dir := d.sessionDir(state.SessionID())
	stageByID, order := indexStages(in.cfg.ControlFlow.Stages)

	d.runner.SetProgressCallback(func(ev stage.ProgressEvent) {
		_ = sink.Emit(ctx, progressToSubstep(ev))
	})
	defer d.runner.SetProgressCallback(nil)

	for _, id := range order {
		if id < in.startStageID {
			continue
		}
		sd := stageByID[id]

		if in.skipSet[id] {
			state = d.recordSkip(state, sd)
			_ = sink.Emit(ctx, Event{Kind: EventStageStart, Stage: id, Data: map[string]any{"name": sd.Name, "skipped": true}})
			_ = sink.Emit(ctx, Event{Kind: EventStageComplete, Stage: id, Data: map[string]any{"name": sd.Name, "skipped": true}})
			if err := checkpoint(state, dir); err != nil {
				return state, err
			}
			continue
		}

		state = state.AddEvent(pipeline.EventStageStarted, id, nil)
		_ = sink.Emit(ctx, Event{Kind: EventStageStart, Stage: id, Data: map[string]any{"name": sd.Name}})

		if in.cfg.ControlFlow.PauseAfter(id) {
			result, err := d.execute(ctx, sd, state, in)
			if err != nil {
				return d.fail(ctx, sink, state, dir, id, err)
			}
			state = state.SetStageOutput(id, result)
			state = state.AddEvent(pipeline.EventStageCompleted, id, nil)
			in.tracker.RecordStage(id, result.Usage)
			if err := checkpoint(state, dir); err != nil {
				return state, err
			}

			message := pauseformat.Format(pauseformat.Options{
				Stage:     id,
				RawData:   result.Data,
				CostSoFar: in.tracker.GenerateReport().TotalCostUSD,
				BudgetUSD: in.cfg.Orchestrator.BudgetUSD,
			})
			state = state.AddEvent(pipeline.EventPauseRequested, id, nil)
			formatted := map[string]any{"message": message}
			if id == 0 {
				formatted["normalizedFrom"] = pauseformat.ParseStage0(result.Data).NormalizedFrom
			}
			state = state.AddEvent(pipeline.EventPauseFormatted, id, formatted)
			if err := checkpoint(state, dir); err != nil {
				return state, err
			}
			summary := state.GenerateSummary(len(order), pipeline.ExitPaused)
			_ = pipeline.SaveSummaryTo(dir, summary)

			_ = sink.Emit(ctx, Event{Kind: EventPause, Stage: id, Data: map[string]any{"message": message}})
			return state, nil
		}

		result, err := d.execute(ctx, sd, state, in)
		if err != nil {
			return d.fail(ctx, sink, state, dir, id, err)
		}
		state = state.SetStageOutput(id, result)
		state = state.AddEvent(pipeline.EventStageCompleted, id, nil)
		in.tracker.RecordStage(id, result.Usage)
		if err := checkpoint(state, dir); err != nil {
			return state, err
		}
		_ = sink.Emit(ctx, Event{Kind: EventStageComplete, Stage: id, Data: map[string]any{"name": sd.Name}})

		if !in.tracker.WithinBudget() {
			summary := state.GenerateSummary(len(order), pipeline.ExitError)
			_ = pipeline.SaveSummaryTo(dir, summary)
			_ = sink.Emit(ctx, Event{Kind: EventBudgetExceeded, Stage: id, Data: map[string]any{
				"totalCostUsd": in.tracker.GenerateReport().TotalCostUSD,
			}})
			return state, pipeline.ErrBudgetExceeded
		}

		if unit, ok := in.cfg.ControlFlow.RepairUnitEndingAt(id); ok {
			var repairErr error
			state, repairErr = d.runRepairLoop(ctx, sink, state, stageByID, unit, in, dir)
			if repairErr != nil {
				return d.fail(ctx, sink, state, dir, id, repairErr)
			}
		}
	}

	report := in.tracker.GenerateReport()
	summary := state.GenerateSummary(len(order), pipeline.ExitCompleted)
	_ = pipeline.SaveSummaryTo(dir, summary)
	_ = sink.Emit(ctx, Event{Kind: EventComplete, Data: map[string]any{
		"stageCount":   len(order),
		"totalCostUsd": report.TotalCostUSD,
	}})
	return state, nil
}

// execute runs one stage via the Stage Runner inside its own span.
func (d *Driver) execute(ctx context.Context, sd agentconfig.StageDef, state pipeline.State, in loopInput) (pipeline.StageResult, error) {
	spanCtx, span := d.startStageSpan(ctx, state.SessionID(), sd)
	defer span.End()

	result, err := d.runner.Run(spanCtx, stage.Request{
		Stage:       sd,
		State:       state,
		UserMessage: in.userMessage,
		AgentConfig: in.cfg,
		FollowUp:    in.followUp,
		HasFollowUp: in.hasFollowUp,
	})
	if err != nil {
		recordSpanError(span, err)
	}
	return result, err
}

func (d *Driver) runRepairLoop(ctx context.Context, sink Sink, state pipeline.State, stageByID map[int]agentconfig.StageDef, unit agentconfig.RepairUnit, in loopInput, dir string) (pipeline.State, error) {
	last, ok := state.GetStageOutput(unit.Stages[len(unit.Stages)-1])
	if !ok || !needsRepair(last) {
		return state, nil
	}

	maxIterations := unit.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		feedback := repairFeedback(last, unit.FeedbackField)
		_ = sink.Emit(ctx, Event{Kind: EventRepairStart, Data: map[string]any{
			"iteration":     iteration,
			"maxIterations": maxIterations,
			"feedback":      feedback,
		}})

		for _, sid := range unit.Stages {
			sd := stageByID[sid]
			state = state.AddEvent(pipeline.EventStageStarted, sid, map[string]any{
				"repairIteration": iteration,
				"feedback":        feedback,
			})

			spanCtx, span := d.startRepairSpan(ctx, state.SessionID(), sd, iteration)
			result, err := d.runner.Run(spanCtx, stage.Request{
				Stage:           sd,
				State:           state,
				UserMessage:     in.userMessage,
				AgentConfig:     in.cfg,
				FollowUp:        in.followUp,
				HasFollowUp:     in.hasFollowUp,
				RepairFeedback:  feedback,
				RepairIteration: iteration,
			})
			if err != nil {
				recordSpanError(span, err)
				span.End()
				return state, err
			}
			span.End()

			state = state.SetStageOutput(sid, result)
			state = state.AddEvent(pipeline.EventStageCompleted, sid, map[string]any{"repairIteration": iteration})
			in.tracker.RecordStage(sid, result.Usage)
			if err := checkpoint(state, dir); err != nil {
				return state, err
			}
			if sid == unit.Stages[len(unit.Stages)-1] {
				last = result
			}
		}

		if !needsRepair(last) {
			break
		}
	}

	return state, nil
}

func needsRepair(result pipeline.StageResult) bool {
	v, _ := result.Data["needsRepair"].(bool)
	return v
}

func repairFeedback(result pipeline.StageResult, field string) string {
	if field == "" {
		field = "feedback"
	}
	s, _ := result.Data[field].(string)
	return s
}

func (d *Driver) recordSkip(state pipeline.State, sd agentconfig.StageDef) pipeline.State {
	result := syntheticSkipResult(sd)
	state = state.AddEvent(pipeline.EventStageStarted, sd.ID, map[string]any{"skipped": true})
	state = state.SetStageOutput(sd.ID, result)
	state = state.AddEvent(pipeline.EventStageCompleted, sd.ID, map[string]any{"skipped": true})
	return state
}

// syntheticSkipResult builds the pass-through StageResult a skipped stage
// records. websearch_calibration has a dedicated skip shape (the
// user_skipped execution status, recognized by the Pause Formatter and by
// stage 2's "did stage 1 actually run" check); every other stage gets a
// generic skipped marker.
func syntheticSkipResult(sd agentconfig.StageDef) pipeline.StageResult {
	if sd.Name == stage.NameWebsearchCalibration {
		return stage.SkippedResult(stage.StatusUserSkipped)
	}
	return pipeline.StageResult{Data: map[string]any{"skipped": true}}
}

func (d *Driver) fail(ctx context.Context, sink Sink, state pipeline.State, dir string, stageID int, err error) (pipeline.State, error) {
	state = state.AddEvent(pipeline.EventStageFailed, stageID, map[string]any{"error": err.Error()})
	_ = checkpoint(state, dir)
	summary := state.GenerateSummary(stageID+1, pipeline.ExitError)
	_ = pipeline.SaveSummaryTo(dir, summary)
	_ = sink.Emit(ctx, Event{Kind: EventError, Stage: stageID, Data: map[string]any{"error": err.Error()}})
	return state, fmt.Errorf("orchestrator: stage %d failed: %w", stageID, err)
}

func checkpoint(state pipeline.State, dir string) error {
	return state.SaveTo(dir)
}

func indexStages(stages []agentconfig.StageDef) (map[int]agentconfig.StageDef, []int) {
	byID := make(map[int]agentconfig.StageDef, len(stages))
	order := make([]int, 0, len(stages))
	for _, sd := range stages {
		byID[sd.ID] = sd
		order = append(order, sd.ID)
	}
	sort.Ints(order)
	return byID, order
}
