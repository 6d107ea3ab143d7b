// Package stage implements the six concrete stage handlers the Orchestrator
// Driver dispatches to: analyze_query, websearch_calibration, retrieve,
// synthesize, verify, and output. A Runner is polymorphic over {call,
// bridge, progress} per the driver's design note - tests wire fakes for
// both the model caller and the MCP bridge transport; production wires
// llmclient.Client and a real bridge.Caller.
package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/ctxbuild"
	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

// Stage names, fixed per the agent config's controlFlow.stages entries.
const (
	NameAnalyzeQuery          = "analyze_query"
	NameWebsearchCalibration  = "websearch_calibration"
	NameRetrieve              = "retrieve"
	NameSynthesize            = "synthesize"
	NameVerify                = "verify"
	NameOutput                = "output"
)

// Caller is the seam the Runner is polymorphic over for model calls.
// llmclient.Client satisfies it; tests wire a fake.
type Caller interface {
	Call(ctx context.Context, params llmclient.CallParams) (llmclient.CallResult, error)
}

// ProgressKind discriminates the free-form substep payloads a Runner emits
// mid-stage, mirrored downstream as orchestrator_substep events.
type ProgressKind string

const (
	ProgressMCPStart    ProgressKind = "mcp-start"
	ProgressMCPResult   ProgressKind = "mcp-result"
	ProgressLLMStart    ProgressKind = "llm-start"
	ProgressLLMComplete ProgressKind = "llm-complete"
	ProgressStatus      ProgressKind = "status"
)

// ProgressEvent is one substep emitted during stage execution.
type ProgressEvent struct {
	Kind  ProgressKind
	Stage int
	Label string
	Data  map[string]any
}

// Request is the input to Run: everything a handler needs to execute one
// stage, including an optional repair-loop iteration and follow-up context.
type Request struct {
	Stage           agentconfig.StageDef
	State           pipeline.State
	UserMessage     string
	AgentConfig     agentconfig.AgentConfig
	FollowUp        followup.Context
	HasFollowUp     bool
	RepairFeedback  string
	RepairIteration int
}

// Renderer produces the final rendered document from a FinalAnswer. The
// default renderer (see renderer.go) is a deterministic markdown template;
// a richer external renderer can be substituted without changing stage 5's
// aggregation logic.
type Renderer interface {
	Render(answer FinalAnswer) (string, error)
}

// Runner dispatches stage requests to the six concrete handlers. One Runner
// is shared across every stage (and every repair iteration) of a single
// pipeline run.
type Runner struct {
	caller     Caller
	bridge     *bridge.Bridge
	budget     ctxbuild.ContextBudgetManager
	promptsDir string
	sessionDir string
	renderer   Renderer

	promptMu    sync.Mutex
	promptCache map[string]string

	progressMu sync.Mutex
	onProgress func(ProgressEvent)
}

// Config configures a new Runner.
type Config struct {
	Caller        Caller
	Bridge        *bridge.Bridge
	ContextWindow int
	PromptsDir    string
	SessionDir    string
	Renderer      Renderer
}

// New constructs a Runner. A nil Renderer falls back to the built-in
// markdown renderer.
func New(cfg Config) *Runner {
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = MarkdownRenderer{}
	}
	return &Runner{
		caller:      cfg.Caller,
		bridge:      cfg.Bridge,
		budget:      ctxbuild.NewContextBudgetManager(cfg.ContextWindow),
		promptsDir:  cfg.PromptsDir,
		sessionDir:  cfg.SessionDir,
		renderer:    renderer,
		promptCache: map[string]string{},
	}
}

// SetProgressCallback installs the callback invoked for every substep the
// Runner emits. Passing nil disables progress reporting.
func (r *Runner) SetProgressCallback(fn func(ProgressEvent)) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.onProgress = fn
}

func (r *Runner) emit(ev ProgressEvent) {
	r.progressMu.Lock()
	fn := r.onProgress
	r.progressMu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// Run dispatches req to the handler named by req.Stage.Name.
func (r *Runner) Run(ctx context.Context, req Request) (pipeline.StageResult, error) {
	switch req.Stage.Name {
	case NameAnalyzeQuery:
		return r.runAnalyzeQuery(ctx, req)
	case NameWebsearchCalibration:
		return r.runWebsearchCalibration(ctx, req)
	case NameRetrieve:
		return r.runRetrieve(ctx, req)
	case NameSynthesize:
		return r.runSynthesize(ctx, req)
	case NameVerify:
		return r.runVerify(ctx, req)
	case NameOutput:
		return r.runOutput(ctx, req)
	default:
		return pipeline.StageResult{}, fmt.Errorf("stage: unknown stage name %q", req.Stage.Name)
	}
}

// desiredTokens resolves a stage's desired-output-token budget from agent
// config, falling back to the given default.
func desiredTokens(cfg agentconfig.AgentConfig, stageName string, fallback int) int {
	return cfg.DesiredTokensForStage(stageName, fallback)
}

// effortOf resolves the orchestrator effort level, defaulting to "max".
func effortOf(cfg agentconfig.AgentConfig) string {
	if cfg.Orchestrator.Effort != "" {
		return cfg.Orchestrator.Effort
	}
	return agentconfig.DefaultEffort
}
