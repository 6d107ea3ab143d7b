package followup

import "strings"

const maxHintSubQueries = 5

var hintEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// BuildPriorContextHint renders an XML-safe summary of the prior run for
// injection into stage 0's enhanced user message: at most
// maxHintSubQueries prior sub-queries, every prior section heading, and an
// explicit "do not duplicate" directive.
func BuildPriorContextHint(ctx Context) string {
	var b strings.Builder
	b.WriteString("<PRIOR_RESEARCH_CONTEXT>\n")

	if len(ctx.PriorSubQueries) > 0 {
		b.WriteString("<PRIOR_SUB_QUERIES>\n")
		for _, q := range capped(ctx.PriorSubQueries, maxHintSubQueries) {
			b.WriteString("- " + hintEscaper.Replace(q) + "\n")
		}
		b.WriteString("</PRIOR_SUB_QUERIES>\n")
	}

	if len(ctx.PriorSections) > 0 {
		b.WriteString("<PRIOR_SECTION_HEADINGS>\n")
		for _, s := range ctx.PriorSections {
			b.WriteString("- " + hintEscaper.Replace(s.Heading) + "\n")
		}
		b.WriteString("</PRIOR_SECTION_HEADINGS>\n")
	}

	b.WriteString("Do not duplicate the sub-queries or section headings listed above; extend or deepen the prior research instead.\n")
	b.WriteString("</PRIOR_RESEARCH_CONTEXT>")
	return b.String()
}

func capped(items []string, limit int) []string {
	if len(items) <= limit {
		return items
	}
	return items[:limit]
}
