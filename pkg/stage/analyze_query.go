package stage

import (
	"context"
	"strings"

	"github.com/kadirpekel/resagent/pkg/ctxbuild"
	"github.com/kadirpekel/resagent/pkg/followup"
	"github.com/kadirpekel/resagent/pkg/jsonextract"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

const defaultAnalyzeQueryTokens = 4000

// runAnalyzeQuery is stage 0: a single LLM call that decomposes the user's
// question into sub-queries, assumptions, and clarifying questions. When
// follow-up context is present, the user message is enhanced with a prior-
// research hint so the model does not repeat prior sub-queries; an overlap
// between new and prior sub-queries is flagged as a diagnostic-only warning
// (never auto-rejected, per the pipeline's graceful-degradation design).
func (r *Runner) runAnalyzeQuery(ctx context.Context, req Request) (pipeline.StageResult, error) {
	userMessage := req.UserMessage
	if req.HasFollowUp {
		userMessage = userMessage + "\n\n" + followup.BuildPriorContextHint(req.FollowUp)
	}

	systemPrompt := r.loadPrompt(req.Stage.ID, NameAnalyzeQuery, nil)
	desired := desiredTokens(req.AgentConfig, NameAnalyzeQuery, defaultAnalyzeQueryTokens)

	estimatedInput := ctxbuild.EstimateTokens(systemPrompt) + ctxbuild.EstimateTokens(userMessage)
	maxTokens, err := r.budget.CalculateMaxTokens(estimatedInput, desired)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	r.emit(ProgressEvent{Kind: ProgressLLMStart, Stage: req.Stage.ID, Label: NameAnalyzeQuery})
	result, err := r.caller.Call(ctx, llmclient.CallParams{
		SystemPrompt:     systemPrompt,
		UserMessage:      userMessage,
		DesiredMaxTokens: maxTokens,
		Effort:           effortOf(req.AgentConfig),
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	r.emit(ProgressEvent{Kind: ProgressLLMComplete, Stage: req.Stage.ID, Label: NameAnalyzeQuery})

	data := map[string]any{"originalQuery": req.UserMessage}

	obj, ok := jsonextract.Extract(result.Text)
	if !ok {
		data["rawText"] = result.Text
		return pipeline.StageResult{
			Text:    result.Text,
			Summary: summarize(result.Text),
			Usage:   pipeline.Usage{InputTokens: result.InputTokens, OutputTokens: result.OutputTokens},
			Data:    data,
		}, nil
	}

	for k, v := range obj {
		data[k] = v
	}

	queries := normalizeQueries(obj)
	data["queries"] = queries

	if req.HasFollowUp {
		if warnings := overlapWarnings(queries, req.FollowUp.PriorSubQueries); len(warnings) > 0 {
			data["warnings"] = warnings
		}
	}

	return pipeline.StageResult{
		Text:    result.Text,
		Summary: summarize(result.Text),
		Usage:   pipeline.Usage{InputTokens: result.InputTokens, OutputTokens: result.OutputTokens},
		Data:    data,
	}, nil
}

// normalizeQueries guarantees a top-level queries []any exists, taking
// query_plan.sub_queries when the model nested its output, then an
// already-present top-level queries array, then a bare top-level
// sub_queries, else an empty slice.
func normalizeQueries(obj map[string]any) []any {
	if qp, ok := obj["query_plan"].(map[string]any); ok {
		if qs, ok := qp["sub_queries"].([]any); ok && len(qs) > 0 {
			return qs
		}
	}
	if qs, ok := obj["queries"].([]any); ok && len(qs) > 0 {
		return qs
	}
	if qs, ok := obj["sub_queries"].([]any); ok && len(qs) > 0 {
		return qs
	}
	return []any{}
}

func queryText(q any) string {
	switch v := q.(type) {
	case string:
		return v
	case map[string]any:
		if t, ok := v["text"].(string); ok {
			return t
		}
	}
	return ""
}

// overlapWarnings flags any new query that textually overlaps (case-
// insensitive substring either direction) a prior sub-query. Diagnostic
// only: overlapping queries are never auto-rejected.
func overlapWarnings(newQueries []any, priorQueries []string) []string {
	var warnings []string
	for _, nq := range newQueries {
		text := strings.ToLower(strings.TrimSpace(queryText(nq)))
		if text == "" {
			continue
		}
		for _, pq := range priorQueries {
			prior := strings.ToLower(strings.TrimSpace(pq))
			if prior == "" {
				continue
			}
			if text == prior || strings.Contains(text, prior) || strings.Contains(prior, text) {
				warnings = append(warnings, "sub-query overlaps prior research: "+queryText(nq))
				break
			}
		}
	}
	return warnings
}

func summarize(text string) string {
	const limit = 200
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
