package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/pipeline"
)

// runVerify is stage 4: a pure tool-call stage that checks every citation
// the synthesis stage produced against the knowledge base. Any failure
// flags needsRepair so the repair unit (synthesize + verify) re-runs with
// the accumulated feedback string.
func (r *Runner) runVerify(ctx context.Context, req Request) (pipeline.StageResult, error) {
	citations := citationsFrom(req.State)
	if len(citations) == 0 {
		return pipeline.StageResult{
			Data: map[string]any{"needsRepair": false, "citationCount": 0},
		}, nil
	}

	var failed []string
	scores := map[string]any{}

	for _, c := range citations {
		r.emit(ProgressEvent{Kind: ProgressMCPStart, Stage: req.Stage.ID, Label: "citation_verify", Data: map[string]any{"paragraphId": c.ParagraphID}})
		result, err := r.bridge.CitationVerify(ctx, bridge.CitationVerifyParams{
			ParagraphID: c.ParagraphID,
			ClaimText:   c.Claim,
		})
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s (%s): verification call failed: %s", citationLabel(c), c.Claim, err.Error()))
			continue
		}
		r.emit(ProgressEvent{Kind: ProgressMCPResult, Stage: req.Stage.ID, Label: "citation_verify", Data: map[string]any{"paragraphId": c.ParagraphID, "verified": result.Verified}})
		if !result.Verified {
			failed = append(failed, fmt.Sprintf("%s (%s): %s", citationLabel(c), c.Claim, result.Reason))
		}
		scores[citationLabel(c)] = boolScore(result.Verified)
	}

	data := map[string]any{
		"needsRepair":   len(failed) > 0,
		"citationCount": len(citations),
		"failedCount":   len(failed),
		"scores":        scores,
	}
	if len(failed) > 0 {
		data["feedback"] = "citation verification failed: " + strings.Join(failed, "; ")
	}

	return pipeline.StageResult{Data: data}, nil
}

type citation struct {
	ParagraphID string
	Claim       string
}

// citationsFrom reads stage 3's citations, tolerating both the structured
// {"paragraphId","claim"} object shape and a plain claim string.
func citationsFrom(state pipeline.State) []citation {
	out, ok := state.GetStageOutput(3)
	if !ok || out.Data == nil {
		return nil
	}
	raw, _ := out.Data["citations"].([]any)
	citations := make([]citation, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if v != "" {
				citations = append(citations, citation{Claim: v})
			}
		case map[string]any:
			c := citation{}
			c.ParagraphID, _ = v["paragraphId"].(string)
			c.Claim, _ = v["claim"].(string)
			if c.ParagraphID != "" || c.Claim != "" {
				citations = append(citations, c)
			}
		}
	}
	return citations
}

func citationLabel(c citation) string {
	if c.ParagraphID != "" {
		return c.ParagraphID
	}
	return "unidentified"
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
