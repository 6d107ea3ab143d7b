package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDriver(t *testing.T, caller *fakeCaller, toolCaller *fakeToolCaller) (*Driver, string) {
	t.Helper()
	dir := t.TempDir()
	runner := stage.New(stage.Config{Caller: caller, Bridge: bridge.New(toolCaller), ContextWindow: 200_000, SessionDir: dir})
	driver := New(Config{Runner: runner, SessionsDir: dir})
	return driver, dir
}

func TestRun_HappyPathSingleStage(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{jsonResult(map[string]any{"queries": []string{"q1"}})}}
	driver, dir := newDriver(t, caller, newFakeToolCaller())

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{Stages: []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery)}}

	sink := &eventSink{}
	err := driver.Run(context.Background(), sink, RunParams{SessionID: "s1", UserMessage: "what is ISA 315?", AgentConfig: cfg})
	require.NoError(t, err)

	kinds := sink.kinds()
	assert.Contains(t, kinds, EventStageStart)
	assert.Contains(t, kinds, EventStageComplete)
	assert.Equal(t, EventComplete, kinds[len(kinds)-1])

	state, ok := pipeline.LoadFrom(dir + "/s1")
	require.True(t, ok)
	assert.Equal(t, 0, state.LastCompletedStageIndex())
}

func TestRun_PauseThenResume(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{
		jsonResult(map[string]any{"queries": []string{"q1"}}),
		jsonResult(map[string]any{"web_research_context": "refined"}),
	}}
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("web_search", map[string]any{"results": []map[string]any{{"url": "https://example.com", "title": "t", "snippet": "s"}}})

	driver, dir := newDriver(t, caller, toolCaller)

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages:           []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery), stageDef(1, stage.NameWebsearchCalibration)},
		PauseAfterStages: []int{0},
	}

	sink := &eventSink{}
	err := driver.Run(context.Background(), sink, RunParams{SessionID: "s2", UserMessage: "q", AgentConfig: cfg})
	require.NoError(t, err)
	assert.Contains(t, sink.kinds(), EventPause)
	assert.NotContains(t, sink.kinds(), EventComplete)

	state, ok := pipeline.LoadFrom(dir + "/s2")
	require.True(t, ok)
	assert.True(t, state.IsPaused())
	assert.Equal(t, 0, state.PausedAtStage())

	resumeSink := &eventSink{}
	err = driver.Resume(context.Background(), resumeSink, ResumeParams{SessionID: "s2", UserResponse: "Yes, proceed", AgentConfig: cfg})
	require.NoError(t, err)
	assert.Contains(t, resumeSink.kinds(), EventComplete)

	final, ok := pipeline.LoadFrom(dir + "/s2")
	require.True(t, ok)
	assert.False(t, final.IsPaused())
	out, ok := final.GetStageOutput(1)
	require.True(t, ok)
	skipped, _ := out.Data["skipped"].(bool)
	assert.False(t, skipped)
}

func TestResume_SkipIntentBypassesWebsearch(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{
		jsonResult(map[string]any{"queries": []string{"q1"}}),
	}}
	toolCaller := newFakeToolCaller()
	driver, dir := newDriver(t, caller, toolCaller)

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages:           []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery), stageDef(1, stage.NameWebsearchCalibration)},
		PauseAfterStages: []int{0},
	}

	err := driver.Run(context.Background(), &eventSink{}, RunParams{SessionID: "s3", UserMessage: "q", AgentConfig: cfg})
	require.NoError(t, err)

	resumeSink := &eventSink{}
	err = driver.Resume(context.Background(), resumeSink, ResumeParams{SessionID: "s3", UserResponse: "b", AgentConfig: cfg})
	require.NoError(t, err)
	assert.Contains(t, resumeSink.kinds(), EventComplete)

	state, ok := pipeline.LoadFrom(dir + "/s3")
	require.True(t, ok)
	out, ok := state.GetStageOutput(1)
	require.True(t, ok)
	assert.Equal(t, true, out.Data["skipped"])
	assert.Equal(t, stage.StatusUserSkipped, out.Data["executionStatus"])
	assert.Equal(t, 0, toolCaller.calls["web_search"])
}

func TestRun_VerificationRepairLoopRetriesUntilClean(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{
		jsonResult(map[string]any{"queries": []string{"q1"}}),
		jsonResult(map[string]any{"synthesis": "first draft", "citations": []map[string]any{{"paragraphId": "p1", "claim": "claim one"}}}),
		jsonResult(map[string]any{"synthesis": "repaired draft", "citations": []map[string]any{{"paragraphId": "p1", "claim": "claim one"}}}),
	}}
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("citation_verify", map[string]any{"verified": false, "reason": "mismatch"})
	toolCaller.queueJSON("citation_verify", map[string]any{"verified": true, "reason": ""})

	driver, dir := newDriver(t, caller, toolCaller)

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages: []agentconfig.StageDef{
			stageDef(0, stage.NameAnalyzeQuery),
			stageDef(3, stage.NameSynthesize),
			stageDef(4, stage.NameVerify),
		},
		RepairUnits: []agentconfig.RepairUnit{{Stages: []int{3, 4}, MaxIterations: 2, FeedbackField: "feedback"}},
	}

	sink := &eventSink{}
	err := driver.Run(context.Background(), sink, RunParams{SessionID: "s4", UserMessage: "q", AgentConfig: cfg})
	require.NoError(t, err)
	assert.Contains(t, sink.kinds(), EventRepairStart)
	assert.Contains(t, sink.kinds(), EventComplete)

	state, ok := pipeline.LoadFrom(dir + "/s4")
	require.True(t, ok)
	out, ok := state.GetStageOutput(4)
	require.True(t, ok)
	assert.Equal(t, false, out.Data["needsRepair"])
	synth, ok := state.GetStageOutput(3)
	require.True(t, ok)
	assert.Equal(t, "repaired draft\n", synth.Text)
}

func TestBreakout_PendingThenConfirmedThenResumed(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{
		jsonResult(map[string]any{"queries": []string{"q1"}}),
		jsonResult(map[string]any{"web_research_context": "refined"}),
	}}
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("web_search", map[string]any{"results": []map[string]any{{"url": "https://example.com", "title": "t", "snippet": "s"}}})

	driver, dir := newDriver(t, caller, toolCaller)

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages:           []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery), stageDef(1, stage.NameWebsearchCalibration)},
		PauseAfterStages: []int{0},
	}

	err := driver.Run(context.Background(), &eventSink{}, RunParams{SessionID: "s5", UserMessage: "original question", AgentConfig: cfg})
	require.NoError(t, err)

	prompt, err := driver.NotifyBreakoutPending("s5", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, prompt)

	pending, ok := pipeline.LoadFrom(dir + "/s5")
	require.True(t, ok)
	assert.True(t, pending.IsBreakoutPending())

	resolution, err := driver.ResolveBreakout("s5", 0, "3", "switch to a new topic")
	require.NoError(t, err)
	assert.Equal(t, BreakoutConfirm, resolution)

	resolved, ok := pipeline.LoadFrom(dir + "/s5")
	require.True(t, ok)
	assert.True(t, resolved.IsResumableAfterBreakout())
	assert.False(t, resolved.IsBreakoutPending())

	resumeSink := &eventSink{}
	err = driver.ResumeFromBreakout(context.Background(), resumeSink, ResumeFromBreakoutParams{
		SessionID: "s5", UserMessage: "continuing", AgentConfig: cfg, FromStage: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, resumeSink.kinds(), EventComplete)
}

func TestRun_FollowUpSessionLoadsPriorContextAndFiltersRetrieval(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{
		jsonResult(map[string]any{"queries": []string{"q2"}}),
	}}
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("kb_search", map[string]any{"results": []map[string]any{
		{"id": "p1", "text": "already cited", "source": "doc1"},
		{"id": "p2", "text": "new material", "source": "doc1"},
	}})
	driver, dir := newDriver(t, caller, toolCaller)

	previousSessionID := "prev1"
	answerDir := dir + "/" + previousSessionID + "/data"
	require.NoError(t, os.MkdirAll(answerDir, 0o755))
	answer := map[string]any{
		"query":             "what is ISA 315?",
		"answer":            "## Overview\nISA 315 addresses risk assessment.\n",
		"subQueries":        []string{"what is ISA 315?"},
		"citedParagraphIds": []string{"p1"},
	}
	raw, err := json.Marshal(answer)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(answerDir+"/answer.json", raw, 0o644))

	cfg := testAgentConfig()
	cfg.FollowUp.DeltaRetrieval = true
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages: []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery), stageDef(2, stage.NameRetrieve)},
	}

	sink := &eventSink{}
	err = driver.Run(context.Background(), sink, RunParams{
		SessionID:         "s7",
		UserMessage:       "and what about ISA 500?",
		AgentConfig:       cfg,
		PreviousSessionID: previousSessionID,
	})
	require.NoError(t, err)
	assert.Contains(t, sink.kinds(), EventComplete)

	require.Len(t, caller.params, 1)
	assert.Contains(t, caller.params[0].UserMessage, "<PRIOR_RESEARCH_CONTEXT>")
	assert.Contains(t, caller.params[0].UserMessage, "Overview")

	state, ok := pipeline.LoadFrom(dir + "/s7")
	require.True(t, ok)
	assert.Equal(t, previousSessionID, state.PreviousSessionID())

	out, ok := state.GetStageOutput(2)
	require.True(t, ok)
	paragraphs, _ := out.Data["paragraphs"].([]any)
	require.Len(t, paragraphs, 1)
	entry, _ := paragraphs[0].(map[string]any)
	assert.Equal(t, "p2", entry["id"])
}

func TestBreakout_DenyKeepsPipelinePaused(t *testing.T) {
	caller := &fakeCaller{results: []llmclient.CallResult{jsonResult(map[string]any{"queries": []string{"q1"}})}}
	driver, dir := newDriver(t, caller, newFakeToolCaller())

	cfg := testAgentConfig()
	cfg.ControlFlow = agentconfig.ControlFlow{
		Stages:           []agentconfig.StageDef{stageDef(0, stage.NameAnalyzeQuery), stageDef(1, stage.NameWebsearchCalibration)},
		PauseAfterStages: []int{0},
	}

	err := driver.Run(context.Background(), &eventSink{}, RunParams{SessionID: "s6", UserMessage: "q", AgentConfig: cfg})
	require.NoError(t, err)

	_, err = driver.NotifyBreakoutPending("s6", 0)
	require.NoError(t, err)

	resolution, err := driver.ResolveBreakout("s6", 0, "2", "ignored")
	require.NoError(t, err)
	assert.Equal(t, BreakoutDeny, resolution)

	state, ok := pipeline.LoadFrom(dir + "/s6")
	require.True(t, ok)
	assert.True(t, state.IsPaused())
	assert.False(t, state.IsResumableAfterBreakout())
}
