package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/llmclient"
)

// fakeCaller is a scripted stage.Caller: each call pops the next queued
// result, mirroring the Stage Runner's own test fakes.
type fakeCaller struct {
	mu      sync.Mutex
	results []llmclient.CallResult
	calls   int
	params  []llmclient.CallParams
}

func (f *fakeCaller) Call(_ context.Context, params llmclient.CallParams) (llmclient.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.params = append(f.params, params)
	if i < len(f.results) {
		return f.results[i], nil
	}
	return llmclient.CallResult{}, nil
}

func jsonResult(obj map[string]any) llmclient.CallResult {
	data, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	return llmclient.CallResult{Text: string(data), InputTokens: 10, OutputTokens: 20}
}

// fakeToolCaller is a scripted bridge.Caller keyed by tool name.
type fakeToolCaller struct {
	mu        sync.Mutex
	envelopes map[string][]bridge.Envelope
	calls     map[string]int
}

func newFakeToolCaller() *fakeToolCaller {
	return &fakeToolCaller{
		envelopes: map[string][]bridge.Envelope{},
		calls:     map[string]int{},
	}
}

func (f *fakeToolCaller) queueJSON(tool string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes[tool] = append(f.envelopes[tool], bridge.Envelope{Content: []bridge.ContentBlock{{Type: "text", Text: string(data)}}})
}

func (f *fakeToolCaller) CallTool(_ context.Context, name string, _ map[string]any) (bridge.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls[name]
	f.calls[name] = i + 1
	if envs := f.envelopes[name]; i < len(envs) {
		return envs[i], nil
	}
	return bridge.Envelope{}, errors.New("fakeToolCaller: no more responses queued for " + name)
}

// eventSink collects every emitted event for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *eventSink) last(kind EventKind) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return Event{}, false
}

func stageDef(id int, name string) agentconfig.StageDef {
	return agentconfig.StageDef{ID: id, Name: name}
}

func testAgentConfig() agentconfig.AgentConfig {
	cfg := agentconfig.AgentConfig{Slug: "research"}
	cfg.Defaults()
	return cfg
}
