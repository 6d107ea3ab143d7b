package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

const maxResultsPerQuery = 20

// runRetrieve is stage 2: a pure tool-call stage with no model involved. It
// prefers stage 1's calibrated queries, falling back to stage 0's, calls
// the bridge's kbSearch per query, deduplicates by paragraph ID, applies
// delta retrieval against follow-up context when enabled, and returns
// results sorted by descending score.
func (r *Runner) runRetrieve(ctx context.Context, req Request) (pipeline.StageResult, error) {
	queries := retrievalQueries(req.State)
	if len(queries) == 0 {
		return pipeline.StageResult{
			Data: map[string]any{"paragraphs": []any{}, "warnings": []string{"no query source available for retrieval"}},
		}, nil
	}

	byID := map[string]bridge.RetrievalParagraph{}
	order := make([]string, 0)
	var warnings []string

	for _, q := range queries {
		r.emit(ProgressEvent{Kind: ProgressMCPStart, Stage: req.Stage.ID, Label: "kb_search", Data: map[string]any{"query": q}})
		paragraphs, err := r.bridge.KBSearch(ctx, q, bridge.KBSearchOptions{MaxResults: maxResultsPerQuery})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("kb search failed for %q: %s", q, err.Error()))
			continue
		}
		r.emit(ProgressEvent{Kind: ProgressMCPResult, Stage: req.Stage.ID, Label: "kb_search", Data: map[string]any{"query": q, "hits": len(paragraphs)}})
		for _, p := range paragraphs {
			if p.ID == "" {
				continue
			}
			if _, exists := byID[p.ID]; exists {
				continue
			}
			byID[p.ID] = p
			order = append(order, p.ID)
		}
	}

	excluded := map[string]bool{}
	if req.HasFollowUp && req.AgentConfig.FollowUp.DeltaRetrieval {
		for _, id := range req.FollowUp.PriorParagraphIDs {
			excluded[id] = true
		}
	}

	filtered := make([]bridge.RetrievalParagraph, 0, len(order))
	for _, id := range order {
		if excluded[id] {
			continue
		}
		filtered = append(filtered, byID[id])
	}

	sortByScoreDesc(filtered)

	return pipeline.StageResult{
		Data: map[string]any{
			"paragraphs": toAnySlice(filtered),
			"warnings":   dedupWarnings(warnings),
		},
	}, nil
}

// retrievalQueries prefers stage 1's calibrated query set (when stage 1
// ran and was not skipped) and falls back to stage 0's.
func retrievalQueries(state pipeline.State) []string {
	if out, ok := state.GetStageOutput(1); ok {
		if skipped, _ := out.Data["skipped"].(bool); !skipped {
			if qs := queriesFromData(out.Data); len(qs) > 0 {
				return qs
			}
		}
	}
	return selectCalibrationQueries(state)
}

func sortByScoreDesc(paragraphs []bridge.RetrievalParagraph) {
	sort.SliceStable(paragraphs, func(i, j int) bool { return paragraphs[i].Score > paragraphs[j].Score })
}

func toAnySlice(paragraphs []bridge.RetrievalParagraph) []any {
	out := make([]any, len(paragraphs))
	for i, p := range paragraphs {
		out[i] = map[string]any{
			"id":     p.ID,
			"text":   p.Text,
			"score":  p.Score,
			"source": p.Source,
		}
	}
	return out
}

// paragraphsFromData reverses toAnySlice, tolerating a plain []any of
// map[string]any entries (the shape Data holds after a JSON round trip).
func paragraphsFromData(data map[string]any) []bridge.RetrievalParagraph {
	raw, _ := data["paragraphs"].([]any)
	out := make([]bridge.RetrievalParagraph, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := bridge.RetrievalParagraph{}
		p.ID, _ = obj["id"].(string)
		p.Text, _ = obj["text"].(string)
		p.Source, _ = obj["source"].(string)
		switch v := obj["score"].(type) {
		case float64:
			p.Score = v
		case int:
			p.Score = float64(v)
		}
		out = append(out, p)
	}
	return out
}
