package orchestrator

import (
	"context"

	"github.com/kadirpekel/resagent/pkg/stage"
)

// EventKind discriminates the consumer-visible orchestrator event stream.
type EventKind string

const (
	EventStageStart      EventKind = "orchestrator_stage_start"
	EventStageComplete   EventKind = "orchestrator_stage_complete"
	EventPause           EventKind = "orchestrator_pause"
	EventRepairStart     EventKind = "orchestrator_repair_start"
	EventBudgetExceeded  EventKind = "orchestrator_budget_exceeded"
	EventComplete        EventKind = "orchestrator_complete"
	EventError           EventKind = "orchestrator_error"
	EventSubstep         EventKind = "orchestrator_substep"
)

// Event is one entry in the orchestrator's downstream event stream - the
// translated, consumer-facing counterpart of the internal pipeline event
// log. Data carries kind-specific payloads (stage name, pause message,
// repair iteration counters, cost figures, substep payloads, and so on).
type Event struct {
	Kind  EventKind
	Stage int
	Data  map[string]any
}

// Sink receives the orchestrator's event stream. Modeled on the
// teacher's own event-queue write seam (one Write call per translated
// event, context-aware so a cancelled consumer can stop a long-running
// pipeline from the far end of the channel).
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// progressToSubstep translates a Stage Runner progress event into the
// downstream orchestrator_substep shape.
func progressToSubstep(ev stage.ProgressEvent) Event {
	data := map[string]any{"kind": string(ev.Kind), "label": ev.Label}
	for k, v := range ev.Data {
		data[k] = v
	}
	return Event{Kind: EventSubstep, Stage: ev.Stage, Data: data}
}
