// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// State is the central, immutable, event-sourced entity for one pipeline
// run. Every exported mutator (AddEvent, SetStageOutput) returns a new
// State value; the receiver is left untouched and any reference a caller
// is still holding continues to observe the same events and outputs it
// always did.
type State struct {
	sessionID         string
	agentSlug         string
	previousSessionID string
	events            []StageEvent
	stageOutputs      map[int]StageResult
	currentStage      int
}

// Create returns a brand new, empty pipeline State.
func Create(sessionID, agentSlug, previousSessionID string) State {
	return State{
		sessionID:         sessionID,
		agentSlug:         agentSlug,
		previousSessionID: previousSessionID,
		events:            nil,
		stageOutputs:      map[int]StageResult{},
		currentStage:      -1,
	}
}

// SessionID returns this run's opaque session identifier.
func (s State) SessionID() string { return s.sessionID }

// AgentSlug returns the agent definition that produced this run.
func (s State) AgentSlug() string { return s.agentSlug }

// PreviousSessionID returns the follow-up predecessor session, if any.
func (s State) PreviousSessionID() string { return s.previousSessionID }

// CurrentStage returns the last-started stage index, or -1 if none.
func (s State) CurrentStage() int { return s.currentStage }

// Events returns the full append-only event log. The returned slice must
// be treated as read-only by callers.
func (s State) Events() []StageEvent { return s.events }

// AddEvent returns a new State with the given event appended to the log.
// A stage_started event additionally advances currentStage.
func (s State) AddEvent(evType EventType, stage int, data map[string]any) State {
	ev := StageEvent{Type: evType, Stage: stage, Timestamp: time.Now().UTC(), Data: data}

	next := make([]StageEvent, len(s.events)+1)
	copy(next, s.events)
	next[len(s.events)] = ev

	out := s
	out.events = next
	if evType == EventStageStarted {
		out.currentStage = stage
	}
	return out
}

// SetStageOutput returns a new State recording the result of stage n.
// Conventionally called immediately after AddEvent(EventStageCompleted, n, ...).
func (s State) SetStageOutput(stage int, result StageResult) State {
	next := make(map[int]StageResult, len(s.stageOutputs)+1)
	for k, v := range s.stageOutputs {
		next[k] = v
	}
	next[stage] = result

	out := s
	out.stageOutputs = next
	return out
}

// GetStageOutput returns the recorded result for stage n, if any.
func (s State) GetStageOutput(stage int) (StageResult, bool) {
	r, ok := s.stageOutputs[stage]
	return r, ok
}

// StageOutputs returns a copy of the full stage-index -> result mapping.
func (s State) StageOutputs() map[int]StageResult {
	out := make(map[int]StageResult, len(s.stageOutputs))
	for k, v := range s.stageOutputs {
		out[k] = v
	}
	return out
}

// GetEventsByType returns every event of the given type, in log order.
func (s State) GetEventsByType(t EventType) []StageEvent {
	var out []StageEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// GetEventsForStage returns every event recorded for the given stage
// index, in log order.
func (s State) GetEventsForStage(stage int) []StageEvent {
	var out []StageEvent
	for _, ev := range s.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

// IsPaused holds when the number of pause_requested events exceeds the
// number of resolving events (resumed union breakout).
func (s State) IsPaused() bool {
	requested := len(s.GetEventsByType(EventPauseRequested))
	resolved := len(s.GetEventsByType(EventResumed)) + len(s.GetEventsByType(EventBreakout))
	return requested > resolved
}

// IsBreakoutPending holds when the last breakout_pending event has no
// later resumed, breakout, or breakout_resume_pending event.
// breakout_resume_pending is the deny outcome: it resolves the
// confirmation prompt without resolving the underlying pause_requested,
// so a denied breakout leaves the run paused awaiting an ordinary resume.
func (s State) IsBreakoutPending() bool {
	lastPendingIdx := -1
	for i, ev := range s.events {
		if ev.Type == EventBreakoutPending {
			lastPendingIdx = i
		}
	}
	if lastPendingIdx == -1 {
		return false
	}
	for _, ev := range s.events[lastPendingIdx+1:] {
		if ev.Type == EventResumed || ev.Type == EventBreakout || ev.Type == EventBreakoutResumePending {
			return false
		}
	}
	return true
}

// IsResumableAfterBreakout holds when the last breakout event has no
// later resume_from_breakout, at least one stage has completed, and the
// run is not currently paused.
func (s State) IsResumableAfterBreakout() bool {
	lastBreakoutIdx := -1
	for i, ev := range s.events {
		if ev.Type == EventBreakout {
			lastBreakoutIdx = i
		}
	}
	if lastBreakoutIdx == -1 {
		return false
	}
	for _, ev := range s.events[lastBreakoutIdx+1:] {
		if ev.Type == EventResumeFromBreakout {
			return false
		}
	}
	if s.LastCompletedStageIndex() < 0 {
		return false
	}
	return !s.IsPaused()
}

// LastCompletedStageIndex returns the highest stage index with a
// stage_completed event, or -1 if none has completed.
func (s State) LastCompletedStageIndex() int {
	last := -1
	for _, ev := range s.events {
		if ev.Type == EventStageCompleted && ev.Stage > last {
			last = ev.Stage
		}
	}
	return last
}

// PausedAtStage returns the stage of the last pause_requested event.
// Only meaningful when IsPaused holds; returns -1 otherwise.
func (s State) PausedAtStage() int {
	if !s.IsPaused() {
		return -1
	}
	events := s.GetEventsByType(EventPauseRequested)
	if len(events) == 0 {
		return -1
	}
	return events[len(events)-1].Stage
}

// TotalUsage sums token usage across all recorded stage outputs.
func (s State) TotalUsage() Usage {
	var total Usage
	for _, r := range s.stageOutputs {
		total = total.Add(r.Usage)
	}
	return total
}

// OriginalQuery extracts the user's original query from stage 0's output,
// if stage 0 has completed.
func (s State) OriginalQuery() string {
	r, ok := s.GetStageOutput(0)
	if !ok {
		return ""
	}
	return r.dataString("originalQuery")
}

// SubQueryTexts extracts the decomposed sub-query strings from stage 0's
// output, if present.
func (s State) SubQueryTexts() []string {
	r, ok := s.GetStageOutput(0)
	if !ok || r.Data == nil {
		return nil
	}
	queries, _ := r.Data["queries"].([]any)
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		switch v := q.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// snapshot is the on-disk JSON representation of a State. Unknown fields
// are ignored on load; missing optional fields default cleanly, so older
// and newer snapshot writers stay forward- and backward-compatible.
type snapshot struct {
	SessionID         string              `json:"sessionId"`
	AgentSlug         string              `json:"agentSlug"`
	PreviousSessionID string              `json:"previousSessionId,omitempty"`
	Events            []StageEvent        `json:"events"`
	StageOutputs      map[string]StageResult `json:"stageOutputs"`
	CurrentStage      int                 `json:"currentStage"`
	SavedAt           time.Time           `json:"savedAt"`
}

// ToSnapshot converts the State to its JSON-serializable form.
func (s State) ToSnapshot() []byte {
	snap := toSnapshotValue(s)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		// snapshot contains only plain data; Marshal cannot fail here.
		panic(fmt.Sprintf("pipeline: unreachable marshal failure: %v", err))
	}
	return data
}

func toSnapshotValue(s State) snapshot {
	outputs := make(map[string]StageResult, len(s.stageOutputs))
	for k, v := range s.stageOutputs {
		outputs[fmt.Sprintf("%d", k)] = v
	}
	return snapshot{
		SessionID:         s.sessionID,
		AgentSlug:         s.agentSlug,
		PreviousSessionID: s.previousSessionID,
		Events:            s.events,
		StageOutputs:      outputs,
		CurrentStage:      s.currentStage,
		SavedAt:           time.Now(),
	}
}

// FromSnapshot reconstructs a State from bytes previously produced by
// ToSnapshot (or SaveTo). Returns an error only on malformed JSON; a
// missing/empty input is the caller's responsibility to guard against.
func FromSnapshot(data []byte) (State, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return State{}, fmt.Errorf("pipeline: failed to parse snapshot: %w", err)
	}

	outputs := make(map[int]StageResult, len(snap.StageOutputs))
	for k, v := range snap.StageOutputs {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
			continue
		}
		outputs[idx] = v
	}

	return State{
		sessionID:         snap.SessionID,
		agentSlug:         snap.AgentSlug,
		previousSessionID: snap.PreviousSessionID,
		events:            snap.Events,
		stageOutputs:      outputs,
		currentStage:      snap.CurrentStage,
	}, nil
}

// statePath returns the canonical on-disk location of a session's
// pipeline state snapshot.
func statePath(dir string) string {
	return filepath.Join(dir, "data", "pipeline-state.json")
}

// SaveTo persists the State's snapshot to {dir}/data/pipeline-state.json.
// Writing is "write full snapshot, replace": the whole file is rewritten
// atomically via a temp-file rename so a crash mid-write never leaves a
// truncated snapshot on disk.
func (s State) SaveTo(dir string) error {
	path := statePath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: failed to create state directory: %w", err)
	}

	data := s.ToSnapshot()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pipeline: failed to finalize state write: %w", err)
	}
	return nil
}

// LoadFrom reads a session's pipeline state from {dir}/data/pipeline-state.json.
// It returns (State{}, false) on any missing file or parse failure - load
// failures are never fatal, since the caller can always start a fresh run.
func LoadFrom(dir string) (State, bool) {
	data, err := os.ReadFile(statePath(dir))
	if err != nil {
		return State{}, false
	}
	if strings.TrimSpace(string(data)) == "" {
		return State{}, false
	}
	s, err := FromSnapshot(data)
	if err != nil {
		return State{}, false
	}
	return s, true
}
