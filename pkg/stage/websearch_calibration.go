package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/ctxbuild"
	"github.com/kadirpekel/resagent/pkg/jsonextract"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

const (
	defaultWebsearchCalibrationTokens = 3000
	maxCalibrationQueries             = 5
	truncationOutputRatio             = 0.95
)

// Execution status values: the closed set the Pause Formatter recognizes.
// StatusUserSkipped is never produced by this handler - only the
// Orchestrator Driver's pre-stage skip check synthesizes it, for a resumed
// run told to skip web search entirely.
const (
	StatusUnavailable = "unavailable"
	StatusNoResults   = "no_results"
	StatusCalibrated  = "calibrated"
	StatusUserSkipped = "user_skipped"
)

// SkippedResult builds the synthetic stage-1 result the driver records
// when a resume's skip intent bypasses this stage without calling the
// bridge. Exported so the Orchestrator Driver's skip check never has to
// hand-construct the Data shape this handler's own skips use.
func SkippedResult(status string) pipeline.StageResult {
	return skippedResult(status, 0, 0, 0, nil)
}

// runWebsearchCalibration is stage 1: a bounded batch of web search tool
// calls followed by a single LLM call that refines the research plan. If
// the bridge is absent or every search fails, the stage short-circuits to
// a skipped result rather than calling the model on no evidence.
func (r *Runner) runWebsearchCalibration(ctx context.Context, req Request) (pipeline.StageResult, error) {
	queries := selectCalibrationQueries(req.State)

	if !r.bridge.Available() {
		return skippedResult(StatusUnavailable, len(queries), 0, 0, nil), nil
	}

	var results []bridge.WebSearchResult
	var warnings []string
	succeeded := 0
	resultCount := 0

	for _, q := range queries {
		r.emit(ProgressEvent{Kind: ProgressMCPStart, Stage: req.Stage.ID, Label: "web_search", Data: map[string]any{"query": q}})
		hits, err := r.bridge.WebSearch(ctx, q)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("web search failed for %q: %s", q, err.Error()))
			continue
		}
		r.emit(ProgressEvent{Kind: ProgressMCPResult, Stage: req.Stage.ID, Label: "web_search", Data: map[string]any{"query": q, "hits": len(hits)}})
		succeeded++
		resultCount += len(hits)
		results = append(results, hits...)
	}
	warnings = dedupWarnings(warnings)

	if succeeded == 0 {
		return skippedResult(StatusNoResults, len(queries), succeeded, resultCount, warnings), nil
	}

	systemPrompt := r.loadPrompt(req.Stage.ID, NameWebsearchCalibration, nil)
	userMessage := renderSearchResults(results)
	desired := desiredTokens(req.AgentConfig, NameWebsearchCalibration, defaultWebsearchCalibrationTokens)

	estimatedInput := ctxbuild.EstimateTokens(systemPrompt) + ctxbuild.EstimateTokens(userMessage)
	maxTokens, err := r.budget.CalculateMaxTokens(estimatedInput, desired)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	r.emit(ProgressEvent{Kind: ProgressLLMStart, Stage: req.Stage.ID, Label: NameWebsearchCalibration})
	callResult, err := r.caller.Call(ctx, llmclient.CallParams{
		SystemPrompt:     systemPrompt,
		UserMessage:      userMessage,
		DesiredMaxTokens: maxTokens,
		Effort:           effortOf(req.AgentConfig),
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	r.emit(ProgressEvent{Kind: ProgressLLMComplete, Stage: req.Stage.ID, Label: NameWebsearchCalibration})

	data := map[string]any{"skipped": false, "executionStatus": StatusCalibrated}

	obj, ok := jsonextract.Extract(callResult.Text)
	if !ok {
		data["rawText"] = callResult.Text
		if callResult.OutputTokens >= int(float64(desired)*truncationOutputRatio) {
			warnings = append(warnings, "output truncated near token budget; JSON extraction failed")
		}
	} else {
		for k, v := range obj {
			data[k] = v
		}
	}

	// Telemetry is authoritatively stamped by the runner, overriding
	// anything the model wrote under the same keys.
	data["queriesAttempted"] = len(queries)
	data["queriesSucceeded"] = succeeded
	data["resultCount"] = resultCount
	data["warnings"] = warnings

	return pipeline.StageResult{
		Text:    callResult.Text,
		Summary: summarize(callResult.Text),
		Usage:   pipeline.Usage{InputTokens: callResult.InputTokens, OutputTokens: callResult.OutputTokens},
		Data:    data,
	}, nil
}

func skippedResult(status string, attempted, succeeded, resultCount int, warnings []string) pipeline.StageResult {
	return pipeline.StageResult{
		Data: map[string]any{
			"skipped":          true,
			"executionStatus":  status,
			"queriesAttempted": attempted,
			"queriesSucceeded": succeeded,
			"resultCount":      resultCount,
			"warnings":         warnings,
			"webSearchExecution": map[string]any{"status": status},
		},
	}
}

// selectCalibrationQueries picks up to maxCalibrationQueries web queries
// from stage 0's output: an explicit authority_sources.search_queries list
// first, then the normalized queries array, then the raw sub_queries.
func selectCalibrationQueries(state pipeline.State) []string {
	out, ok := state.GetStageOutput(0)
	if !ok {
		return nil
	}
	return queriesFromData(out.Data)
}

// queriesFromData applies the same precedence - authority_sources.search_queries,
// then queries, then sub_queries - to any stage's output data.
func queriesFromData(data map[string]any) []string {
	if data == nil {
		return nil
	}
	if authority, ok := data["authority_sources"].(map[string]any); ok {
		if qs, ok := authority["search_queries"].([]any); ok && len(qs) > 0 {
			return boundedQueryStrings(qs)
		}
	}
	if qs, ok := data["queries"].([]any); ok && len(qs) > 0 {
		return boundedQueryStrings(qs)
	}
	if qs, ok := data["sub_queries"].([]any); ok && len(qs) > 0 {
		return boundedQueryStrings(qs)
	}
	return nil
}

func boundedQueryStrings(raw []any) []string {
	out := make([]string, 0, maxCalibrationQueries)
	for _, q := range raw {
		text := queryText(q)
		if text == "" {
			continue
		}
		out = append(out, text)
		if len(out) >= maxCalibrationQueries {
			break
		}
	}
	return out
}

func dedupWarnings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range in {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func renderSearchResults(results []bridge.WebSearchResult) string {
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		var sb strings.Builder
		for _, r := range results {
			sb.WriteString(r.URL + ": " + r.Snippet + "\n")
		}
		return sb.String()
	}
	return string(encoded)
}
