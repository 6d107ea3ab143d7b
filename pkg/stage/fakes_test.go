package stage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/llmclient"
)

// fakeCaller is a scripted Caller: each call pops the next queued result.
type fakeCaller struct {
	results []llmclient.CallResult
	errs    []error
	calls   int
}

func (f *fakeCaller) Call(_ context.Context, _ llmclient.CallParams) (llmclient.CallResult, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], err
	}
	return llmclient.CallResult{}, err
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
	envelopes map[string][]bridge.Envelope
	errs      map[string][]error
	calls     map[string]int
}

func newFakeToolCaller() *fakeToolCaller {
	return &fakeToolCaller{
		envelopes: map[string][]bridge.Envelope{},
		errs:      map[string][]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeToolCaller) queueJSON(tool string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.envelopes[tool] = append(f.envelopes[tool], bridge.Envelope{Content: []bridge.ContentBlock{{Type: "text", Text: string(data)}}})
}

func (f *fakeToolCaller) queueError(tool string, err error) {
	f.envelopes[tool] = append(f.envelopes[tool], bridge.Envelope{})
	f.errs[tool] = append(f.errs[tool], err)
}

func (f *fakeToolCaller) CallTool(_ context.Context, name string, _ map[string]any) (bridge.Envelope, error) {
	i := f.calls[name]
	f.calls[name] = i + 1

	if errs := f.errs[name]; i < len(errs) && errs[i] != nil {
		return bridge.Envelope{}, errs[i]
	}
	if envs := f.envelopes[name]; i < len(envs) {
		return envs[i], nil
	}
	return bridge.Envelope{}, errors.New("fakeToolCaller: no more responses queued for " + name)
}

func testAgentConfig() agentconfig.AgentConfig {
	cfg := agentconfig.AgentConfig{Slug: "research"}
	cfg.Defaults()
	return cfg
}

func stageDef(id int, name string) agentconfig.StageDef {
	return agentconfig.StageDef{ID: id, Name: name}
}
