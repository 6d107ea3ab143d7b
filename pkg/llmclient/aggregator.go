package llmclient

import "strings"

// sseEvent mirrors the Anthropic Messages-API SSE event shape.
type sseEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *eventDelta   `json:"delta,omitempty"`
	Usage        *eventUsage   `json:"usage,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
}

type eventDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Thinking   string `json:"thinking,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type eventUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// aggregator accumulates streamed text/thinking blocks into the final
// CallResult, mirroring the teacher's StreamingAggregator role without
// its a2a/tool-call machinery, which this client never needs.
type aggregator struct {
	text                  strings.Builder
	thinking              strings.Builder
	redactedThinkingCount int
	stopReason            StopReason
	usage                 eventUsage
	blockKinds            map[int]string
}

func newAggregator() *aggregator {
	return &aggregator{blockKinds: map[int]string{}, stopReason: "end_turn"}
}

func (a *aggregator) process(event sseEvent, onEvent func(StreamEvent)) {
	switch event.Type {
	case "content_block_start":
		if event.ContentBlock != nil {
			a.blockKinds[event.Index] = event.ContentBlock.Type
			if event.ContentBlock.Type == "redacted_thinking" {
				a.redactedThinkingCount++
			}
		}

	case "content_block_delta":
		if event.Delta == nil {
			return
		}
		switch event.Delta.Type {
		case "text_delta":
			a.text.WriteString(event.Delta.Text)
			if onEvent != nil {
				onEvent(StreamEvent{Kind: StreamEventTextDelta, Text: event.Delta.Text})
			}
		case "thinking_delta":
			a.thinking.WriteString(event.Delta.Thinking)
			if onEvent != nil {
				onEvent(StreamEvent{Kind: StreamEventThinkingDelta, Text: event.Delta.Thinking})
			}
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			a.stopReason = StopReason(event.Delta.StopReason)
		}
		if event.Usage != nil {
			a.usage = *event.Usage
		}
	}
}

func (a *aggregator) finalize(result *CallResult) {
	result.Text = a.text.String()
	result.ThinkingSummary = a.thinking.String()
	result.RedactedThinkingCount = a.redactedThinkingCount
	result.InputTokens = a.usage.InputTokens
	result.OutputTokens = a.usage.OutputTokens
	result.StopReason = a.stopReason
}
