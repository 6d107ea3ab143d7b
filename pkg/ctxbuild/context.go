// Package ctxbuild assembles the XML-framed prompt bodies fed to each
// LLM-calling stage and enforces the context-window token budget.
package ctxbuild

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kadirpekel/resagent/pkg/bridge"
)

// StageContext is the set of optional inputs buildStageContext composes,
// in the fixed order spec §4.5 requires.
type StageContext struct {
	QueryPlan            string
	StageOutputs         []NamedOutput
	RetrievalParagraphs  []bridge.RetrievalParagraph
	RetrievalTokenBudget int
	RepairFeedback       string
	WebSources           string
	WebResearchContext   string
	PriorAnswer          string
	PriorSections        string
}

// NamedOutput is one prior stage's raw text, labeled for a STAGE_OUTPUT_*
// section.
type NamedOutput struct {
	StageName string
	Text      string
}

// BuildStageContext assembles the XML-framed context body. Sections
// appear in the order: QUERY_PLAN, STAGE_OUTPUT_* (one per prior output,
// in the order given), ISA_CONTEXT (paragraphs truncated to fit the
// retrieval budget, sorted by descending score), REPAIR_FEEDBACK, then
// the trailing optional sections.
func BuildStageContext(ctx StageContext) string {
	var sb strings.Builder

	if ctx.QueryPlan != "" {
		writeSection(&sb, "QUERY_PLAN", ctx.QueryPlan)
	}

	for _, out := range ctx.StageOutputs {
		writeSection(&sb, "STAGE_OUTPUT_"+strings.ToUpper(out.StageName), out.Text)
	}

	if len(ctx.RetrievalParagraphs) > 0 {
		paragraphs := sortedByScoreDesc(ctx.RetrievalParagraphs)
		if ctx.RetrievalTokenBudget > 0 {
			paragraphs = TruncateByTokenBudget(paragraphs, ctx.RetrievalTokenBudget)
		}
		sb.WriteString("<ISA_CONTEXT>\n")
		for _, p := range paragraphs {
			fmt.Fprintf(&sb, "<PARAGRAPH id=\"%s\" score=\"%s\" source=\"%s\">%s</PARAGRAPH>\n",
				xmlEscapeText(p.ID), formatScore(p.Score), xmlEscapeText(p.Source), xmlEscapeText(p.Text))
		}
		sb.WriteString("</ISA_CONTEXT>\n")
	}

	if ctx.RepairFeedback != "" {
		writeSection(&sb, "REPAIR_FEEDBACK", ctx.RepairFeedback)
	}
	if ctx.WebSources != "" {
		writeSection(&sb, "WEB_SOURCES", ctx.WebSources)
	}
	if ctx.WebResearchContext != "" {
		writeSection(&sb, "WEB_RESEARCH_CONTEXT", ctx.WebResearchContext)
	}
	if ctx.PriorAnswer != "" {
		writeSection(&sb, "PRIOR_ANSWER", ctx.PriorAnswer)
	}
	if ctx.PriorSections != "" {
		writeSection(&sb, "PRIOR_SECTIONS", ctx.PriorSections)
	}

	return sb.String()
}

func writeSection(sb *strings.Builder, tag, body string) {
	sb.WriteString("<")
	sb.WriteString(tag)
	sb.WriteString(">\n")
	sb.WriteString(body)
	sb.WriteString("\n</")
	sb.WriteString(tag)
	sb.WriteString(">\n")
}

func sortedByScoreDesc(paragraphs []bridge.RetrievalParagraph) []bridge.RetrievalParagraph {
	out := make([]bridge.RetrievalParagraph, len(paragraphs))
	copy(out, paragraphs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.4f", score)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscapeText(s string) string {
	return xmlEscaper.Replace(s)
}

// EstimateTokens is an intentionally conservative (over-estimating) token
// count: ceil(chars/4 * 1.10).
func EstimateTokens(text string) int {
	chars := float64(len([]rune(text)))
	return int(math.Ceil(chars / 4 * 1.10))
}

// TruncateByTokenBudget returns the longest prefix of paragraphs (in the
// given order) whose summed EstimateTokens stays strictly under budget.
func TruncateByTokenBudget(paragraphs []bridge.RetrievalParagraph, budget int) []bridge.RetrievalParagraph {
	var out []bridge.RetrievalParagraph
	used := 0
	for _, p := range paragraphs {
		cost := EstimateTokens(p.Text)
		if used+cost >= budget {
			break
		}
		out = append(out, p)
		used += cost
	}
	return out
}
