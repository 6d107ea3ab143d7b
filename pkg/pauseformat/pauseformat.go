// Package pauseformat deterministically renders the raw structured output of
// stages 0 and 1 into a human-readable markdown pause message. It never
// calls a model; every section is composed from data the caller already
// has, in a fixed order, so the same input always yields the same output.
package pauseformat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ClarityThresholdPct is the boundary at or above which a query-analysis result is
// presented as CONFIRMED rather than needing user clarification.
const ClarityThresholdPct = 70

// Stage0Data is the tolerant view over analyze_query's structured output.
// Two shapes are accepted: a flat shape (fields directly on the object) and
// a nested "query_plan" shape. NormalizedFrom records which one was used,
// for the audit event the orchestrator appends alongside the pause.
type Stage0Data struct {
	ClarityPct             int
	Assumptions            []string
	PlannedQueries         []string
	PrimaryStandards       []string
	ClarifyingQuestions    []string
	AlternativeInterpretations []string
	NormalizedFrom         string
}

// Stage1Data is the tolerant view over websearch_calibration's structured
// output, used only when stage 1 actually ran (not skipped).
type Stage1Data struct {
	Skipped         bool
	ExecutionStatus string
	Warnings        []string
}

// ParseStage0 normalizes raw stage-0 output data into Stage0Data, accepting
// either a flat map or one nested under "query_plan".
func ParseStage0(raw map[string]any) Stage0Data {
	if nested, ok := raw["query_plan"].(map[string]any); ok {
		d := parseStage0Flat(nested)
		d.NormalizedFrom = "query_plan"
		return d
	}
	d := parseStage0Flat(raw)
	d.NormalizedFrom = "flat"
	return d
}

func parseStage0Flat(raw map[string]any) Stage0Data {
	return Stage0Data{
		ClarityPct:                 intField(raw, "clarity_percentage", "clarity_pct", "clarity"),
		Assumptions:                stringSlice(raw, "assumptions"),
		PlannedQueries:             plannedQueries(raw),
		PrimaryStandards:           stringSlice(raw, "primary_standards", "standards"),
		ClarifyingQuestions:        stringSlice(raw, "clarifying_questions"),
		AlternativeInterpretations: stringSlice(raw, "alternative_interpretations"),
	}
}

func plannedQueries(raw map[string]any) []string {
	if qs := stringSlice(raw, "queries"); len(qs) > 0 {
		return qs
	}
	if qs := stringSlice(raw, "sub_queries"); len(qs) > 0 {
		return qs
	}
	return nil
}

// ParseStage1 normalizes raw stage-1 output data into Stage1Data.
func ParseStage1(raw map[string]any) Stage1Data {
	status, _ := raw["executionStatus"].(string)
	if status == "" {
		if exec, ok := raw["webSearchExecution"].(map[string]any); ok {
			status, _ = exec["status"].(string)
		}
	}
	skipped, _ := raw["skipped"].(bool)
	return Stage1Data{
		Skipped:         skipped,
		ExecutionStatus: status,
		Warnings:        dedupStrings(stringSlice(raw, "warnings")),
	}
}

func intField(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

func stringSlice(raw map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Options carries the non-stage-data inputs needed to render a pause
// message: which stage just completed, its raw output (for the
// collapsible JSON block), and the cost accrued so far.
type Options struct {
	Stage       int
	RawData     map[string]any
	CostSoFar   float64
	BudgetUSD   float64
}

// Format renders the pause message for the given stage. Stage must be 0 or
// 1; any other value renders a minimal generic message since the spec only
// defines pause formatting for stages 0 and 1.
func Format(opts Options) string {
	switch opts.Stage {
	case 0:
		return formatStage0(ParseStage0(opts.RawData), opts)
	case 1:
		return formatStage1(ParseStage1(opts.RawData), opts)
	default:
		return formatGeneric(opts)
	}
}

func formatStage0(d Stage0Data, opts Options) string {
	var b strings.Builder

	writeHeader(&b, d.ClarityPct)
	writeListSection(&b, "Assumptions", d.Assumptions)
	writeListSection(&b, "Planned research queries", d.PlannedQueries)
	writeListSection(&b, "Primary standards", d.PrimaryStandards)
	writeListSection(&b, "Clarifying questions", d.ClarifyingQuestions)
	writeListSection(&b, "Alternative interpretations", d.AlternativeInterpretations)

	b.WriteString("\n**Reply with:**\n")
	b.WriteString("- \"Yes, proceed\" to continue with web search calibration\n")
	b.WriteString("- \"B. No — proceed\" to skip web search and go straight to retrieval\n")
	b.WriteString("- Or clarify any of the above assumptions\n")

	writeRawJSON(&b, opts.RawData)
	writeCostFooter(&b, opts)
	return b.String()
}

func formatStage1(d Stage1Data, opts Options) string {
	var b strings.Builder

	switch {
	case d.Skipped:
		b.WriteString(fmt.Sprintf("### Web search skipped (%s)\n\n", statusLabel(d.ExecutionStatus)))
	default:
		b.WriteString("### Web search calibrated\n\n")
	}

	if len(d.Warnings) > 0 {
		b.WriteString("**Warnings:**\n")
		for _, w := range d.Warnings {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("**Reply with:**\n")
	b.WriteString("- \"Yes, proceed\" to continue with retrieval\n")
	b.WriteString("- \"Exit\" to stop here\n")

	writeRawJSON(&b, opts.RawData)
	writeCostFooter(&b, opts)
	return b.String()
}

func formatGeneric(opts Options) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("### Paused after stage %d\n\n", opts.Stage))
	writeRawJSON(&b, opts.RawData)
	writeCostFooter(&b, opts)
	return b.String()
}

func statusLabel(status string) string {
	switch status {
	case "user_skipped":
		return "user skipped"
	case "unavailable":
		return "search unavailable"
	case "no_results":
		return "no results"
	case "calibrated":
		return "calibrated"
	default:
		return "unknown"
	}
}

func writeHeader(b *strings.Builder, clarityPct int) {
	switch {
	case clarityPct == 0:
		b.WriteString("### Query analysis: CALIBRATED\n\n")
	case clarityPct >= ClarityThresholdPct:
		b.WriteString(fmt.Sprintf("### Query analysis: CONFIRMED (%d%% clarity)\n\n", clarityPct))
	default:
		b.WriteString(fmt.Sprintf("### Query analysis: %d%% clarity — please confirm\n\n", clarityPct))
	}
}

func writeListSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("**%s:**\n", title))
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	b.WriteString("\n")
}

func writeRawJSON(b *strings.Builder, raw map[string]any) {
	if len(raw) == 0 {
		return
	}
	encoded, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return
	}
	b.WriteString("<details>\n<summary>Raw stage output</summary>\n\n```json\n")
	b.WriteString(string(encoded))
	b.WriteString("\n```\n</details>\n\n")
}

func writeCostFooter(b *strings.Builder, opts Options) {
	if opts.BudgetUSD <= 0 {
		b.WriteString(fmt.Sprintf("_Cost so far: $%.4f_\n", opts.CostSoFar))
		return
	}
	pct := opts.CostSoFar / opts.BudgetUSD * 100
	b.WriteString(fmt.Sprintf("_Cost so far: $%.4f of $%.2f budget (%.1f%%)_\n", opts.CostSoFar, opts.BudgetUSD, pct))
}
