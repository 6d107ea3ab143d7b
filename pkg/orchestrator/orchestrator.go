// Package orchestrator drives one research pipeline run end to end: the
// main stage loop, pause/resume, breakout, the verification repair loop,
// and budget enforcement. It owns event-log bookkeeping and checkpointing;
// the Stage Runner it calls into owns nothing but a single stage's
// execution. Run, Resume and ResumeFromBreakout stream their progress
// through a Sink and return only an error, mirroring the teacher's own
// event-queue-based task executor; NotifyBreakoutPending and
// ResolveBreakout take no Sink and return their result directly.
package orchestrator

import (
	"context"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/cost"
	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/stage"
	"github.com/kadirpekel/resagent/pkg/telemetry"
)

// Driver is the Orchestrator Driver: one instance is shared across every
// run the process handles, since it holds no per-run mutable state of its
// own (each run constructs its own cost.Tracker and pipeline.State).
type Driver struct {
	runner      *stage.Runner
	sessionsDir string
	rates       cost.Rates
	tracer      trace.Tracer
}

// Config configures a Driver.
type Config struct {
	Runner      *stage.Runner
	SessionsDir string
	Rates       cost.Rates
	Tracer      trace.Tracer
}

// New constructs a Driver. A nil/zero Tracer falls back to the tracer
// registered under the telemetry package's default name - a no-op unless
// telemetry.InitTracerProvider was called with tracing enabled.
func New(cfg Config) *Driver {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer("github.com/kadirpekel/resagent/pkg/orchestrator")
	}
	rates := cfg.Rates
	if rates == (cost.Rates{}) {
		rates = cost.DefaultRates
	}
	return &Driver{runner: cfg.Runner, sessionsDir: cfg.SessionsDir, rates: rates, tracer: tracer}
}

func (d *Driver) sessionDir(sessionID string) string {
	return filepath.Join(d.sessionsDir, sessionID)
}

// RunParams is the input to Run: a brand new pipeline invocation.
type RunParams struct {
	SessionID         string
	UserMessage       string
	AgentConfig       agentconfig.AgentConfig
	PreviousSessionID string
}

// Run starts a fresh pipeline at stage 0 and streams events to sink until
// the run pauses, completes, errors, or exceeds budget.
func (d *Driver) Run(ctx context.Context, sink Sink, params RunParams) error {
	cfg := params.AgentConfig
	cfg.Defaults()

	state := pipeline.Create(params.SessionID, cfg.Slug, params.PreviousSessionID)
	followUpCtx, hasFollowUp := d.loadFollowUp(params.PreviousSessionID)
	tracker := cost.New(cfg.Orchestrator.BudgetUSD, d.rates)

	_, err := d.runLoop(ctx, sink, loopInput{
		state:        state,
		cfg:          cfg,
		userMessage:  params.UserMessage,
		followUp:     followUpCtx,
		hasFollowUp:  hasFollowUp,
		tracker:      tracker,
		skipSet:      nil,
		startStageID: firstStageID(cfg),
	})
	return err
}

// ResumeParams is the input to Resume: continuing a paused run.
type ResumeParams struct {
	SessionID    string
	UserResponse string
	AgentConfig  agentconfig.AgentConfig
}

// Resume continues a paused run. Per the pause/resume protocol, the
// response is parsed for skip intent only at the stage-0->1 boundary.
func (d *Driver) Resume(ctx context.Context, sink Sink, params ResumeParams) error {
	cfg := params.AgentConfig
	cfg.Defaults()
	dir := d.sessionDir(params.SessionID)

	state, ok := pipeline.LoadFrom(dir)
	if !ok {
		return d.emitLoadFailure(ctx, sink)
	}
	if !state.IsPaused() {
		d.emitError(ctx, sink, -1, pipeline.ErrNotPaused)
		return pipeline.ErrNotPaused
	}

	pausedStage := state.PausedAtStage()
	state = state.AddEvent(pipeline.EventResumed, pausedStage, map[string]any{"response": params.UserResponse})

	skipSet := map[int]bool{}
	nextStageID := pausedStage + 1
	if pausedStage == 0 && ParseSkipIntent(params.UserResponse) {
		skipSet[nextStageID] = true
	}

	followUpCtx, hasFollowUp := d.loadFollowUp(state.PreviousSessionID())
	tracker := rehydratedTracker(cfg.Orchestrator.BudgetUSD, d.rates, state)

	_, err := d.runLoop(ctx, sink, loopInput{
		state:        state,
		cfg:          cfg,
		followUp:     followUpCtx,
		hasFollowUp:  hasFollowUp,
		tracker:      tracker,
		skipSet:      skipSet,
		startStageID: nextStageID,
	})
	return err
}

// ResumeFromBreakoutParams is the input to ResumeFromBreakout.
type ResumeFromBreakoutParams struct {
	SessionID   string
	UserMessage string
	AgentConfig agentconfig.AgentConfig
	FromStage   int
}

// ResumeFromBreakout restarts the loop at FromStage after a breakout,
// requiring IsResumableAfterBreakout to hold. Follow-up context is
// reloaded here too, so it survives multi-hop pauses that cross a
// breakout/resume boundary.
func (d *Driver) ResumeFromBreakout(ctx context.Context, sink Sink, params ResumeFromBreakoutParams) error {
	cfg := params.AgentConfig
	cfg.Defaults()
	dir := d.sessionDir(params.SessionID)

	state, ok := pipeline.LoadFrom(dir)
	if !ok {
		return d.emitLoadFailure(ctx, sink)
	}
	if !state.IsResumableAfterBreakout() {
		d.emitError(ctx, sink, params.FromStage, pipeline.ErrNotResumableAfterBreakout)
		return pipeline.ErrNotResumableAfterBreakout
	}

	state = state.AddEvent(pipeline.EventResumeFromBreakout, params.FromStage, map[string]any{"message": params.UserMessage})

	followUpCtx, hasFollowUp := d.loadFollowUp(state.PreviousSessionID())
	tracker := rehydratedTracker(cfg.Orchestrator.BudgetUSD, d.rates, state)

	_, err := d.runLoop(ctx, sink, loopInput{
		state:        state,
		cfg:          cfg,
		userMessage:  params.UserMessage,
		followUp:     followUpCtx,
		hasFollowUp:  hasFollowUp,
		tracker:      tracker,
		skipSet:      nil,
		startStageID: params.FromStage,
	})
	return err
}

// NotifyBreakoutPending records the first breakout signal and returns the
// confirmation prompt the surrounding chat layer should show the user.
// The Orchestrator Driver exposes this machinery; it never decides on its
// own that a message is a breakout - that classification belongs to the
// caller.
func (d *Driver) NotifyBreakoutPending(sessionID string, atStage int) (string, error) {
	dir := d.sessionDir(sessionID)
	state, ok := pipeline.LoadFrom(dir)
	if !ok {
		return "", pipeline.ErrStateLoadFailed
	}
	state = state.AddEvent(pipeline.EventBreakoutPending, atStage, nil)
	if err := state.SaveTo(dir); err != nil {
		return "", err
	}
	return "Breakout from this research pipeline? Reply 1 to confirm, 2 to stay, or 3 to confirm and switch topics.", nil
}

// ResolveBreakout classifies the user's response to a pending breakout
// confirmation and records the corresponding event. originalMessage is
// preserved on the breakout event so the surrounding chat layer can fall
// through to ordinary chat with the user's original intent intact. A deny
// only resolves the breakout_pending prompt - the underlying pause, if
// any, is left exactly as it was, awaiting an ordinary Resume.
func (d *Driver) ResolveBreakout(sessionID string, atStage int, response, originalMessage string) (BreakoutResolution, error) {
	dir := d.sessionDir(sessionID)
	state, ok := pipeline.LoadFrom(dir)
	if !ok {
		return BreakoutDeny, pipeline.ErrStateLoadFailed
	}

	resolution := ResolveBreakoutConfirmation(response)
	switch resolution {
	case BreakoutDeny:
		state = state.AddEvent(pipeline.EventBreakoutResumePending, atStage, map[string]any{"response": response})
	case BreakoutConfirm:
		state = state.AddEvent(pipeline.EventBreakout, atStage, map[string]any{"message": originalMessage})
	}
	if err := state.SaveTo(dir); err != nil {
		return resolution, err
	}
	return resolution, nil
}

func (d *Driver) loadFollowUp(previousSessionID string) (followup.Context, bool) {
	if previousSessionID == "" {
		return followup.Context{}, false
	}
	ctx, ok := followup.Load(d.sessionsDir, previousSessionID)
	return ctx, ok
}

func (d *Driver) emitLoadFailure(ctx context.Context, sink Sink) error {
	d.emitError(ctx, sink, -1, pipeline.ErrStateLoadFailed)
	return pipeline.ErrStateLoadFailed
}

func (d *Driver) emitError(ctx context.Context, sink Sink, stageID int, err error) {
	_ = sink.Emit(ctx, Event{Kind: EventError, Stage: stageID, Data: map[string]any{"error": err.Error()}})
}

func rehydratedTracker(budgetUSD float64, rates cost.Rates, state pipeline.State) *cost.Tracker {
	tracker := cost.New(budgetUSD, rates)
	for id, result := range state.StageOutputs() {
		tracker.RecordStage(id, result.Usage)
	}
	return tracker
}

func firstStageID(cfg agentconfig.AgentConfig) int {
	if len(cfg.ControlFlow.Stages) == 0 {
		return 0
	}
	return cfg.ControlFlow.Stages[0].ID
}

// startStageSpan opens one span per stage execution (and, via
// startRepairSpan, one per stage run inside each repair iteration).
func (d *Driver) startStageSpan(ctx context.Context, sessionID string, sd agentconfig.StageDef) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, telemetry.SpanStageExecution, trace.WithAttributes(
		attribute.String(telemetry.AttrSessionID, sessionID),
		attribute.Int(telemetry.AttrStageID, sd.ID),
		attribute.String(telemetry.AttrStageName, sd.Name),
	))
}

func (d *Driver) startRepairSpan(ctx context.Context, sessionID string, sd agentconfig.StageDef, iteration int) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, telemetry.SpanRepairIteration, trace.WithAttributes(
		attribute.String(telemetry.AttrSessionID, sessionID),
		attribute.Int(telemetry.AttrStageID, sd.ID),
		attribute.String(telemetry.AttrStageName, sd.Name),
		attribute.Int(telemetry.AttrRepairIteration, iteration),
	))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
