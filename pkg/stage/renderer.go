package stage

import (
	"fmt"
	"strings"
)

// MarkdownRenderer is the built-in Renderer: a deterministic markdown
// template requiring no external collaborator. Production deployments may
// substitute a richer Renderer (e.g. one delegating to a presentation
// service) without touching stage 5's aggregation logic.
type MarkdownRenderer struct{}

// Render produces the final markdown document for a FinalAnswer.
func (MarkdownRenderer) Render(answer FinalAnswer) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research: %s\n\n", answer.Query)
	b.WriteString(answer.Synthesis)
	b.WriteString("\n")

	if len(answer.SubQueries) > 0 {
		b.WriteString("\n## Sub-Queries Explored\n\n")
		for _, q := range answer.SubQueries {
			b.WriteString("- " + q + "\n")
		}
	}

	if answer.FollowUpNumber > 0 {
		fmt.Fprintf(&b, "\n_Follow-up research session #%d._\n", answer.FollowUpNumber)
	}

	return b.String(), nil
}
