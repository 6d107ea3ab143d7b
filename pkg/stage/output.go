package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

const defaultOutputFileName = "research-answer.md"

// runOutput is stage 5: deterministic rendering with no model call. It
// aggregates the FinalAnswer from stages 0, 1, 3, and 4 plus optional
// follow-up context, renders it via the configured Renderer, and writes
// both the human document and its machine-readable companion (consumed by
// future follow-up runs via the Follow-Up Context Loader).
func (r *Runner) runOutput(ctx context.Context, req Request) (pipeline.StageResult, error) {
	answer := buildFinalAnswer(req)

	if err := validateOutputContract(answer); err != nil {
		return pipeline.StageResult{}, err
	}

	rendered, err := r.renderer.Render(answer)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("stage: failed to render final answer: %w", err)
	}

	fileName := req.AgentConfig.Output.FileName
	if fileName == "" {
		fileName = defaultOutputFileName
	}

	outputPath := filepath.Join(r.sessionDir, "plans", fileName)
	if err := writeFile(outputPath, []byte(rendered)); err != nil {
		return pipeline.StageResult{}, err
	}

	answerFile := followup.AnswerFile{
		Version:           1,
		Query:             answer.Query,
		Answer:            answer.Synthesis,
		SubQueries:        answer.SubQueries,
		CitedParagraphIDs: citedParagraphIDs(req.State),
		WebReferences:     answer.WebReferences,
		FollowUpNumber:    answer.FollowUpNumber,
	}
	encoded, err := json.MarshalIndent(answerFile, "", "  ")
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("stage: failed to marshal answer.json: %w", err)
	}
	answerPath := filepath.Join(r.sessionDir, "data", "answer.json")
	if err := writeFile(answerPath, encoded); err != nil {
		return pipeline.StageResult{}, err
	}

	return pipeline.StageResult{
		Text: rendered,
		Data: map[string]any{
			"outputPath": outputPath,
			"answerPath": answerPath,
		},
	}, nil
}

func buildFinalAnswer(req Request) FinalAnswer {
	answer := FinalAnswer{Query: req.State.OriginalQuery(), SubQueries: req.State.SubQueryTexts()}

	if out, ok := req.State.GetStageOutput(3); ok {
		answer.Synthesis = out.Text
		answer.Citations = citationClaimStrings(out.Data)
	}
	if out, ok := req.State.GetStageOutput(4); ok && out.Data != nil {
		if n, ok := out.Data["failedCount"].(int); ok {
			answer.VerificationFailed = n
		}
	}
	answer.WebReferences = webReferenceURLs(req.State)

	if req.HasFollowUp {
		answer.FollowUpNumber = req.FollowUp.FollowUpNumber
		answer.PriorSectionCount = len(req.FollowUp.PriorSections)
	}

	return answer
}

func citationClaimStrings(data map[string]any) []string {
	raw, _ := data["citations"].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if claim, ok := v["claim"].(string); ok && claim != "" {
				out = append(out, claim)
			}
		}
	}
	return out
}

func webReferenceURLs(state pipeline.State) []string {
	sources := webSourceList(state)
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.URL)
	}
	return out
}

func citedParagraphIDs(state pipeline.State) []string {
	citations := citationsFrom(state)
	if len(citations) == 0 {
		return nil
	}
	ids := make([]string, 0, len(citations))
	for _, c := range citations {
		if c.ParagraphID != "" {
			ids = append(ids, c.ParagraphID)
		}
	}
	return ids
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stage: failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("stage: failed to write %s: %w", path, err)
	}
	return nil
}
