package postprocess

import "strings"

// section is one "## "-delimited chunk of the synthesis text, stored with
// its full source text (including the heading line, if any).
type section struct {
	heading string
	body    string
}

func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var cur *section
	var buf strings.Builder

	flush := func() {
		if cur != nil {
			cur.body = buf.String()
			sections = append(sections, *cur)
		}
		buf.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &section{heading: strings.TrimPrefix(line, "## ")}
		} else if cur == nil {
			cur = &section{}
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return sections
}

func joinSections(sections []section) string {
	var b strings.Builder
	for _, s := range sections {
		b.WriteString(s.body)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// sourcesBlockRange finds the "> **Sources**" blockquote within a section's
// body, returning the [start,end) line index range of its blockquote lines
// (start is the "> **Sources**" line itself), or ok=false if absent.
func sourcesBlockRange(lines []string) (start, end int, ok bool) {
	for i, line := range lines {
		if strings.TrimSpace(line) == "> **Sources**" {
			start = i
			end = i + 1
			for end < len(lines) && strings.HasPrefix(lines[end], ">") {
				end++
			}
			return start, end, true
		}
	}
	return 0, 0, false
}

// appendSourcesMarker inserts markerLine into (or creates) the section's
// Sources blockquote, returning the updated body text.
func appendSourcesMarker(body, markerLine string) string {
	trimmed := strings.TrimRight(body, "\n")
	lines := strings.Split(trimmed, "\n")

	if _, end, ok := sourcesBlockRange(lines); ok {
		inserted := make([]string, 0, len(lines)+1)
		inserted = append(inserted, lines[:end]...)
		inserted = append(inserted, "> "+markerLine)
		inserted = append(inserted, lines[end:]...)
		return strings.Join(inserted, "\n") + "\n"
	}

	lines = append(lines, "", "> **Sources**", "> "+markerLine)
	return strings.Join(lines, "\n") + "\n"
}
