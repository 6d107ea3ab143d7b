package pipeline

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_EmptyStateDefaults(t *testing.T) {
	s := Create("sess-1", "research-agent", "")

	assert.Equal(t, "sess-1", s.SessionID())
	assert.Equal(t, -1, s.CurrentStage())
	assert.False(t, s.IsPaused())
	assert.False(t, s.IsBreakoutPending())
	assert.False(t, s.IsResumableAfterBreakout())
	assert.Equal(t, -1, s.LastCompletedStageIndex())
	assert.Equal(t, -1, s.PausedAtStage())
	assert.Equal(t, Usage{}, s.TotalUsage())
	assert.Empty(t, s.Events())
}

func TestAddEvent_DoesNotMutateOriginal(t *testing.T) {
	s1 := Create("sess-1", "research-agent", "")
	s2 := s1.AddEvent(EventStageStarted, 0, nil)

	assert.Empty(t, s1.Events(), "original state must stay untouched")
	require.Len(t, s2.Events(), 1)
	assert.Equal(t, 0, s2.CurrentStage())
	assert.Equal(t, -1, s1.CurrentStage())
}

func TestAddEvent_AppendIsolation(t *testing.T) {
	// Appending to two states derived from the same parent must never let
	// one branch's event bleed into the other's backing array.
	base := Create("sess-1", "research-agent", "").AddEvent(EventStageStarted, 0, nil)

	branchA := base.AddEvent(EventStageCompleted, 0, nil)
	branchB := base.AddEvent(EventStageFailed, 0, nil)

	require.Len(t, branchA.Events(), 2)
	require.Len(t, branchB.Events(), 2)
	assert.Equal(t, EventStageCompleted, branchA.Events()[1].Type)
	assert.Equal(t, EventStageFailed, branchB.Events()[1].Type)
}

func TestSetStageOutput_IsolatedPerState(t *testing.T) {
	s1 := Create("sess-1", "research-agent", "")
	s2 := s1.SetStageOutput(0, StageResult{Text: "hello"})

	_, ok := s1.GetStageOutput(0)
	assert.False(t, ok)

	out, ok := s2.GetStageOutput(0)
	require.True(t, ok)
	assert.Equal(t, "hello", out.Text)
}

func TestIsPaused(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		AddEvent(EventStageStarted, 0, nil).
		AddEvent(EventStageCompleted, 0, nil).
		AddEvent(EventPauseRequested, 0, nil)

	assert.True(t, s.IsPaused())
	assert.Equal(t, 0, s.PausedAtStage())

	resumed := s.AddEvent(EventResumed, 0, nil)
	assert.False(t, resumed.IsPaused())
	assert.Equal(t, -1, resumed.PausedAtStage())
}

func TestIsBreakoutPending(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		AddEvent(EventStageStarted, 0, nil).
		AddEvent(EventStageCompleted, 0, nil).
		AddEvent(EventPauseRequested, 0, nil).
		AddEvent(EventBreakoutPending, 0, nil)

	assert.True(t, s.IsBreakoutPending())

	resolved := s.AddEvent(EventBreakout, 0, map[string]any{"message": "off topic"})
	assert.False(t, resolved.IsBreakoutPending())
}

func TestIsResumableAfterBreakout(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		AddEvent(EventStageStarted, 0, nil).
		AddEvent(EventStageCompleted, 0, nil).
		SetStageOutput(0, StageResult{Text: "out"}).
		AddEvent(EventPauseRequested, 0, nil).
		AddEvent(EventBreakoutPending, 0, nil).
		AddEvent(EventBreakout, 0, nil)

	assert.True(t, s.IsResumableAfterBreakout())

	resumed := s.AddEvent(EventResumeFromBreakout, 1, nil)
	assert.False(t, resumed.IsResumableAfterBreakout())
}

func TestIsResumableAfterBreakout_FalseWithoutCompletedStage(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		AddEvent(EventPauseRequested, 0, nil).
		AddEvent(EventBreakoutPending, 0, nil).
		AddEvent(EventBreakout, 0, nil)

	assert.False(t, s.IsResumableAfterBreakout())
}

func TestTotalUsage_SumsAcrossStages(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		SetStageOutput(0, StageResult{Usage: Usage{InputTokens: 100, OutputTokens: 50}}).
		SetStageOutput(1, StageResult{Usage: Usage{InputTokens: 200, OutputTokens: 75}})

	total := s.TotalUsage()
	assert.Equal(t, 300, total.InputTokens)
	assert.Equal(t, 125, total.OutputTokens)
}

func TestOriginalQueryAndSubQueryTexts(t *testing.T) {
	s := Create("sess-1", "research-agent", "").
		SetStageOutput(0, StageResult{
			Data: map[string]any{
				"originalQuery": "What is ISA 315?",
				"queries":       []any{"sub query 1", "sub query 2"},
			},
		})

	assert.Equal(t, "What is ISA 315?", s.OriginalQuery())
	assert.Equal(t, []string{"sub query 1", "sub query 2"}, s.SubQueryTexts())
}

func TestOriginalQuery_EmptyWhenStageZeroMissing(t *testing.T) {
	s := Create("sess-1", "research-agent", "")
	assert.Equal(t, "", s.OriginalQuery())
	assert.Nil(t, s.SubQueryTexts())
}

func TestSnapshotRoundTrip_IndistinguishableExceptSavedAt(t *testing.T) {
	s := Create("sess-1", "research-agent", "prev-sess").
		AddEvent(EventStageStarted, 0, map[string]any{"x": 1.0}).
		AddEvent(EventStageCompleted, 0, nil).
		SetStageOutput(0, StageResult{Text: "done", Usage: Usage{InputTokens: 10, OutputTokens: 5}})

	data := s.ToSnapshot()
	restored, err := FromSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, s.SessionID(), restored.SessionID())
	assert.Equal(t, s.AgentSlug(), restored.AgentSlug())
	assert.Equal(t, s.PreviousSessionID(), restored.PreviousSessionID())
	assert.Equal(t, s.CurrentStage(), restored.CurrentStage())
	assert.Equal(t, s.Events(), restored.Events())
	assert.Equal(t, s.StageOutputs(), restored.StageOutputs())
	assert.Equal(t, s.IsPaused(), restored.IsPaused())
	assert.Equal(t, s.TotalUsage(), restored.TotalUsage())
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Create("sess-2", "research-agent", "").
		AddEvent(EventStageStarted, 0, nil).
		AddEvent(EventStageCompleted, 0, nil).
		SetStageOutput(0, StageResult{Text: "ok"})

	require.NoError(t, s.SaveTo(dir))

	loaded, ok := LoadFrom(dir)
	require.True(t, ok)
	assert.Equal(t, s.SessionID(), loaded.SessionID())
	assert.Equal(t, s.Events(), loaded.Events())
}

func TestLoadFrom_MissingFileReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok := LoadFrom(dir)
	assert.False(t, ok)
}

func TestLoadFrom_MalformedJSONReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	s := Create("sess-3", "research-agent", "")
	require.NoError(t, s.SaveTo(dir))

	require.NoError(t, os.WriteFile(statePath(dir), []byte("{not json"), 0o644))
	_, ok := LoadFrom(dir)
	assert.False(t, ok)
}
