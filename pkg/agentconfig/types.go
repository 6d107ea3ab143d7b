// Package agentconfig loads agent definitions from YAML: the ordered stage
// list, pause-after/repair-unit control flow, per-stage token budgets, and
// orchestrator tuning knobs. Values may reference environment variables
// (${VAR}, ${VAR:-default}) which are interpolated at load time, with an
// optional .env file loaded first so local development doesn't require
// exporting variables into the shell.
package agentconfig

// StageDef is one entry in controlFlow.stages.
type StageDef struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// RepairUnit is a contiguous group of stages that re-execute together when
// the last stage in the group flags needsRepair.
type RepairUnit struct {
	Stages        []int  `yaml:"stages"`
	MaxIterations int    `yaml:"maxIterations"`
	FeedbackField string `yaml:"feedbackField"`
}

// ControlFlow defines the ordered stage list and the pause/repair policy
// layered on top of it.
type ControlFlow struct {
	Stages           []StageDef   `yaml:"stages"`
	PauseAfterStages []int        `yaml:"pauseAfterStages,omitempty"`
	RepairUnits      []RepairUnit `yaml:"repairUnits,omitempty"`
}

// OrchestratorSettings tunes model selection, effort, and budget. Every
// field is optional; Defaults() fills in the orchestrator's own defaults.
type OrchestratorSettings struct {
	Model                 string         `yaml:"model,omitempty"`
	Effort                string         `yaml:"effort,omitempty"`
	ContextWindow         int            `yaml:"contextWindow,omitempty"`
	MinOutputBudget       int            `yaml:"minOutputBudget,omitempty"`
	BudgetUSD             float64        `yaml:"budgetUsd,omitempty"`
	PerStageDesiredTokens map[string]int `yaml:"perStageDesiredTokens,omitempty"`
	UseBAML               bool           `yaml:"useBAML,omitempty"`
	BAMLFallbackToZod     bool           `yaml:"bamlFallbackToZod,omitempty"`
}

// FollowUpSettings tunes follow-up-session behavior.
type FollowUpSettings struct {
	DeltaRetrieval bool `yaml:"deltaRetrieval,omitempty"`
}

// OutputSettings controls how stage 5 names and renders the final document.
type OutputSettings struct {
	FileName string `yaml:"fileName,omitempty"`
	Format   string `yaml:"format,omitempty"`
}

// AgentConfig is one agent definition, as read from
// `{agentsDir}/{slug}.yaml`.
type AgentConfig struct {
	Slug         string               `yaml:"slug"`
	Name         string               `yaml:"name"`
	ControlFlow  ControlFlow          `yaml:"controlFlow"`
	Output       OutputSettings       `yaml:"output,omitempty"`
	Orchestrator OrchestratorSettings `yaml:"orchestrator,omitempty"`
	PromptsDir   string               `yaml:"promptsDir,omitempty"`
	FollowUp     FollowUpSettings     `yaml:"followUp,omitempty"`
}

const (
	DefaultModel           = "claude-sonnet-4-5-20250929"
	DefaultEffort          = "max"
	DefaultContextWindow   = 200_000
	DefaultMinOutputBudget = 512
)

// Defaults fills zero-valued orchestrator fields with the orchestrator's
// own defaults, without mutating fields the config already set.
func (c *AgentConfig) Defaults() {
	if c.Orchestrator.Model == "" {
		c.Orchestrator.Model = DefaultModel
	}
	if c.Orchestrator.Effort == "" {
		c.Orchestrator.Effort = DefaultEffort
	}
	if c.Orchestrator.ContextWindow == 0 {
		c.Orchestrator.ContextWindow = DefaultContextWindow
	}
	if c.Orchestrator.MinOutputBudget == 0 {
		c.Orchestrator.MinOutputBudget = DefaultMinOutputBudget
	}
}

// DesiredTokensForStage returns the agent's configured desired-output-token
// budget for a stage name, or fallback if unset.
func (c *AgentConfig) DesiredTokensForStage(stageName string, fallback int) int {
	if v, ok := c.Orchestrator.PerStageDesiredTokens[stageName]; ok && v > 0 {
		return v
	}
	return fallback
}

// PauseAfter reports whether the orchestrator must pause after the given
// stage index.
func (c *ControlFlow) PauseAfter(stageIndex int) bool {
	for _, idx := range c.PauseAfterStages {
		if idx == stageIndex {
			return true
		}
	}
	return false
}

// RepairUnitEndingAt returns the repair unit whose last stage is
// stageIndex, if any.
func (c *ControlFlow) RepairUnitEndingAt(stageIndex int) (RepairUnit, bool) {
	for _, unit := range c.RepairUnits {
		if len(unit.Stages) == 0 {
			continue
		}
		if unit.Stages[len(unit.Stages)-1] == stageIndex {
			return unit, true
		}
	}
	return RepairUnit{}, false
}
