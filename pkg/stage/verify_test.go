package stage

import (
	"context"
	"testing"

	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateWithCitations(citations ...map[string]any) pipeline.State {
	raw := make([]any, len(citations))
	for i, c := range citations {
		raw[i] = c
	}
	return pipeline.Create("s1", "research", "").SetStageOutput(3, pipeline.StageResult{Data: map[string]any{"citations": raw}})
}

func TestRunVerify_NoFailuresMeansNoRepair(t *testing.T) {
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("citation_verify", map[string]any{"verified": true, "reason": ""})

	runner := New(Config{Caller: &fakeCaller{}, Bridge: bridge.New(toolCaller), ContextWindow: 200_000})
	result, err := runner.Run(context.Background(), Request{
		Stage: stageDef(4, NameVerify),
		State: stateWithCitations(map[string]any{"paragraphId": "p1", "claim": "claim one"}),
	})
	require.NoError(t, err)
	assert.Equal(t, false, result.Data["needsRepair"])
}

func TestRunVerify_FailureFlagsRepairWithFeedback(t *testing.T) {
	toolCaller := newFakeToolCaller()
	toolCaller.queueJSON("citation_verify", map[string]any{"verified": false, "reason": "no matching paragraph"})

	runner := New(Config{Caller: &fakeCaller{}, Bridge: bridge.New(toolCaller), ContextWindow: 200_000})
	result, err := runner.Run(context.Background(), Request{
		Stage: stageDef(4, NameVerify),
		State: stateWithCitations(map[string]any{"paragraphId": "p1", "claim": "claim one"}),
	})
	require.NoError(t, err)
	assert.Equal(t, true, result.Data["needsRepair"])
	assert.Contains(t, result.Data["feedback"], "p1")
}

func TestRunVerify_NoCitationsSkipsRepair(t *testing.T) {
	runner := New(Config{Caller: &fakeCaller{}, ContextWindow: 200_000})
	result, err := runner.Run(context.Background(), Request{
		Stage: stageDef(4, NameVerify),
		State: pipeline.Create("s1", "research", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, false, result.Data["needsRepair"])
	assert.Equal(t, 0, result.Data["citationCount"])
}
