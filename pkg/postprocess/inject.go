package postprocess

import "strings"

// labelOverlapThreshold is the minimum keyword-overlap score a candidate
// sentence must clear before an inline label may be anchored to it.
const labelOverlapThreshold = 0.05

func markerPrefix(item refItem) string {
	if idx := strings.Index(item.markerLine, "|"); idx >= 0 {
		return item.markerLine[:idx]
	}
	return item.markerLine
}

func hasMarker(sections []section, item refItem) bool {
	prefix := markerPrefix(item) + "|"
	for _, s := range sections {
		for _, line := range strings.Split(s.body, "\n") {
			idx := strings.Index(line, prefix)
			if idx < 0 {
				continue
			}
			rest := line[idx:]
			if strings.Contains(rest, item.markerKey) {
				return true
			}
			if item.altMatch != "" && strings.Contains(rest, item.altMatch) {
				return true
			}
		}
	}
	return false
}

// injectMarkers ensures every item has a WEB_REF/PRIOR_REF line inside
// some section's Sources blockquote, choosing the best-matching section by
// keyword overlap against the item's text. Items that already have a
// marker (by exact key or altMatch alias) are left untouched.
func injectMarkers(sections []section, items []refItem) []section {
	if len(sections) == 0 {
		sections = []section{{}}
	}
	for _, item := range items {
		if hasMarker(sections, item) {
			continue
		}
		itemKeywords := keywordSet(item.labelText)
		best := 0
		bestScore := -1.0
		for i, s := range sections {
			score := overlapScore(itemKeywords, keywordSet(s.body))
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		sections[best].body = appendSourcesMarker(sections[best].body, item.markerLine)
	}
	return sections
}

func hasLabel(sections []section, tag string) bool {
	for _, s := range sections {
		if strings.Contains(s.body, tag) {
			return true
		}
	}
	return false
}

func isProseLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ">") {
		return false
	}
	if strings.Contains(trimmed, "WEB_REF|") || strings.Contains(trimmed, "PRIOR_REF|") {
		return false
	}
	return true
}

// sentenceSpan locates one candidate sentence within a section's lines, by
// byte offset, so a label can be inserted precisely.
type sentenceSpan struct {
	sectionIdx int
	lineIdx    int
	start, end int
	text       string
}

func candidateSentences(sections []section) []sentenceSpan {
	var spans []sentenceSpan
	for si, s := range sections {
		lines := strings.Split(strings.TrimRight(s.body, "\n"), "\n")
		for li, line := range lines {
			if !isProseLine(line) {
				continue
			}
			start := 0
			for i := 0; i < len(line); i++ {
				c := line[i]
				if c == '.' || c == '!' || c == '?' {
					end := i + 1
					text := strings.TrimSpace(line[start:end])
					if text != "" {
						spans = append(spans, sentenceSpan{si, li, start, end, text})
					}
					start = end
				}
			}
			if start < len(line) {
				text := strings.TrimSpace(line[start:])
				if text != "" {
					spans = append(spans, sentenceSpan{si, li, start, len(line), text})
				}
			}
		}
	}
	return spans
}

// injectLabels ensures every item has an inline [Wn]/[Pn] label somewhere
// in body prose, anchoring to the best-scoring candidate sentence when one
// clears labelOverlapThreshold, else falling back to the first substantial
// prose line.
func injectLabels(sections []section, items []refItem) []section {
	for _, item := range items {
		if hasLabel(sections, item.labelTag) {
			continue
		}

		itemKeywords := keywordSet(item.labelText)
		spans := candidateSentences(sections)

		bestIdx := -1
		bestScore := -1.0
		for i, sp := range spans {
			score := overlapScore(itemKeywords, keywordSet(sp.text))
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx >= 0 && bestScore >= labelOverlapThreshold {
			sp := spans[bestIdx]
			insertLabelAtSentence(&sections[sp.sectionIdx], sp.lineIdx, sp.end, item.labelTag)
			continue
		}

		insertLabelAtFirstProseLine(sections, item.labelTag)
	}
	return sections
}

func insertLabelAtSentence(sec *section, lineIdx, sentenceEnd int, tag string) {
	trimmed := strings.TrimRight(sec.body, "\n")
	lines := strings.Split(trimmed, "\n")
	if lineIdx >= len(lines) {
		return
	}
	line := lines[lineIdx]
	insertAt := sentenceEnd
	if insertAt > len(line) {
		insertAt = len(line)
	}
	if insertAt > 0 && line[insertAt-1] == '.' {
		insertAt--
	}
	lines[lineIdx] = line[:insertAt] + " " + tag + line[insertAt:]
	sec.body = strings.Join(lines, "\n") + "\n"
}

func insertLabelAtFirstProseLine(sections []section, tag string) {
	for i := range sections {
		trimmed := strings.TrimRight(sections[i].body, "\n")
		lines := strings.Split(trimmed, "\n")
		for li, line := range lines {
			if !isProseLine(line) || len(strings.TrimSpace(line)) < 20 {
				continue
			}
			insertAt := len(line)
			if strings.HasSuffix(line, ".") {
				insertAt--
			}
			lines[li] = line[:insertAt] + " " + tag + line[insertAt:]
			sections[i].body = strings.Join(lines, "\n") + "\n"
			return
		}
	}
	if len(sections) > 0 {
		sections[0].body = strings.TrimRight(sections[0].body, "\n") + "\n" + tag + "\n"
	}
}
