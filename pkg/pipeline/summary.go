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
	"sort"
	"strings"
)

// ExitReason discriminates why a run's summary was generated.
type ExitReason string

const (
	ExitCompleted ExitReason = "completed"
	ExitPaused    ExitReason = "paused"
	ExitError     ExitReason = "error"
	ExitBreakout  ExitReason = "breakout"
)

const summaryExcerptLimit = 800

// PipelineSummary is the compact, derived export of a run, persisted for
// future follow-up sessions and conversation context.
type PipelineSummary struct {
	SessionID        string     `json:"sessionId"`
	OriginalQuery    string     `json:"originalQuery"`
	SynthesisExcerpt string     `json:"synthesisExcerpt"`
	CitationCount    int        `json:"citationCount"`
	Confidence       string     `json:"confidence"`
	VerificationScores map[string]float64 `json:"verificationScores,omitempty"`
	CompletedStages  []int      `json:"completedStages"`
	Partial          bool       `json:"partial"`
	ExitReason       ExitReason `json:"exitReason"`
	OutputPath       string     `json:"outputPath,omitempty"`
	SubQueries       []string   `json:"subQueries,omitempty"`
}

// GenerateSummary derives a PipelineSummary from the state's accumulated
// stage outputs. All fields beyond OriginalQuery/ExitReason/CompletedStages
// are extracted defensively - a missing or oddly-shaped stage output never
// prevents a summary from being produced.
func (s State) GenerateSummary(totalStages int, exitReason ExitReason) PipelineSummary {
	completed := completedStageIndices(s, totalStages)

	summary := PipelineSummary{
		SessionID:       s.sessionID,
		OriginalQuery:   s.OriginalQuery(),
		SubQueries:      s.SubQueryTexts(),
		CompletedStages: completed,
		Partial:         len(completed) < totalStages,
		ExitReason:      exitReason,
		Confidence:      "unknown",
	}

	if synth, ok := s.GetStageOutput(3); ok {
		summary.SynthesisExcerpt = truncateExcerpt(synth.Text, summaryExcerptLimit)
	}

	if verify, ok := s.GetStageOutput(4); ok && verify.Data != nil {
		summary.CitationCount = extractCitationCount(verify.Data)
		summary.VerificationScores = extractVerificationScores(verify.Data)
		if conf, ok := verify.Data["confidence"].(string); ok && conf != "" {
			summary.Confidence = conf
		}
	}

	if output, ok := s.GetStageOutput(5); ok && output.Data != nil {
		if p, ok := output.Data["outputPath"].(string); ok {
			summary.OutputPath = p
		}
	}

	return summary
}

func completedStageIndices(s State, totalStages int) []int {
	var out []int
	for i := 0; i < totalStages; i++ {
		if _, ok := s.GetStageOutput(i); ok {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// truncateExcerpt cuts text at limit runes and appends an ellipsis marker.
// Text at or under the limit is returned unchanged.
func truncateExcerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func extractCitationCount(data map[string]any) int {
	switch v := data["citationCount"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	if results, ok := data["results"].([]any); ok {
		return len(results)
	}
	return 0
}

func extractVerificationScores(data map[string]any) map[string]float64 {
	raw, ok := data["scores"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// summaryPath returns the canonical on-disk location of a session's
// pipeline summary.
func summaryPath(dir string) string {
	return filepath.Join(dir, "data", "pipeline-summary.json")
}

// SaveSummaryTo persists a PipelineSummary to
// {dir}/data/pipeline-summary.json, replacing any existing file atomically.
func SaveSummaryTo(dir string, summary PipelineSummary) error {
	path := summaryPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pipeline: failed to create summary directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: failed to marshal summary: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("pipeline: failed to write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("pipeline: failed to finalize summary write: %w", err)
	}
	return nil
}

// LoadSummaryFrom reads a session's pipeline summary. Returns (zero, false)
// on any missing file or parse failure.
func LoadSummaryFrom(dir string) (PipelineSummary, bool) {
	data, err := os.ReadFile(summaryPath(dir))
	if err != nil {
		return PipelineSummary{}, false
	}
	if strings.TrimSpace(string(data)) == "" {
		return PipelineSummary{}, false
	}
	var summary PipelineSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return PipelineSummary{}, false
	}
	return summary, true
}
