package stage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateForOutput() pipeline.State {
	s := pipeline.Create("s1", "research", "")
	s = s.SetStageOutput(0, pipeline.StageResult{Data: map[string]any{
		"originalQuery": "What is ISA 315?",
		"queries":       []any{"What is ISA 315?"},
	}})
	s = s.SetStageOutput(2, pipeline.StageResult{Data: map[string]any{
		"paragraphs": []any{map[string]any{"id": "p1", "text": "a", "score": 0.5, "source": "kb"}},
	}})
	s = s.SetStageOutput(3, pipeline.StageResult{
		Text: "The standard addresses risk assessment.",
		Data: map[string]any{"citations": []any{map[string]any{"paragraphId": "p1", "claim": "risk assessment"}}},
	})
	s = s.SetStageOutput(4, pipeline.StageResult{Data: map[string]any{"failedCount": 0}})
	return s
}

func TestRunOutput_WritesRenderedAnswerAndAnswerJSON(t *testing.T) {
	dir := t.TempDir()
	runner := New(Config{Caller: &fakeCaller{}, ContextWindow: 200_000, SessionDir: dir})

	result, err := runner.Run(context.Background(), Request{
		Stage:       stageDef(5, NameOutput),
		State:       stateForOutput(),
		AgentConfig: testAgentConfig(),
	})
	require.NoError(t, err)

	outputPath := result.Data["outputPath"].(string)
	answerPath := result.Data["answerPath"].(string)
	assert.Equal(t, filepath.Join(dir, "plans", defaultOutputFileName), outputPath)
	assert.Equal(t, filepath.Join(dir, "data", "answer.json"), answerPath)

	rendered, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "What is ISA 315?")
	assert.Contains(t, string(rendered), "risk assessment")

	encoded, err := os.ReadFile(answerPath)
	require.NoError(t, err)
	var answerFile followup.AnswerFile
	require.NoError(t, json.Unmarshal(encoded, &answerFile))
	assert.Equal(t, "What is ISA 315?", answerFile.Query)
	assert.Equal(t, []string{"p1"}, answerFile.CitedParagraphIDs)
}

func TestRunOutput_FollowUpPropagatesNumber(t *testing.T) {
	dir := t.TempDir()
	runner := New(Config{Caller: &fakeCaller{}, ContextWindow: 200_000, SessionDir: dir})

	_, err := runner.Run(context.Background(), Request{
		Stage:       stageDef(5, NameOutput),
		State:       stateForOutput(),
		AgentConfig: testAgentConfig(),
		HasFollowUp: true,
		FollowUp: followup.Context{
			FollowUpNumber: 2,
			PriorSections:  []postprocess.PriorSection{{ID: "P1", Heading: "Overview", Excerpt: "prior excerpt"}},
		},
	})
	require.NoError(t, err)

	answerPath := filepath.Join(dir, "data", "answer.json")
	encoded, err := os.ReadFile(answerPath)
	require.NoError(t, err)
	var answerFile followup.AnswerFile
	require.NoError(t, json.Unmarshal(encoded, &answerFile))
	assert.Equal(t, 2, answerFile.FollowUpNumber)
}

func TestRunOutput_RejectsEmptySynthesis(t *testing.T) {
	dir := t.TempDir()
	runner := New(Config{Caller: &fakeCaller{}, ContextWindow: 200_000, SessionDir: dir})

	state := pipeline.Create("s1", "research", "")
	state = state.SetStageOutput(0, pipeline.StageResult{Data: map[string]any{"originalQuery": "What is ISA 315?"}})

	_, err := runner.Run(context.Background(), Request{
		Stage:       stageDef(5, NameOutput),
		State:       state,
		AgentConfig: testAgentConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis")
}
