package telemetry

const (
	AttrSessionID       = "session.id"
	AttrAgentSlug       = "agent.slug"
	AttrStageID         = "stage.id"
	AttrStageName       = "stage.name"
	AttrRepairIteration = "repair.iteration"
	AttrErrorType       = "error.type"

	SpanStageExecution  = "orchestrator.stage_execution"
	SpanRepairIteration = "orchestrator.repair_iteration"

	DefaultServiceName = "resagent"
)
