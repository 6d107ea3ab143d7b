// Package followup loads the prior session's persisted answer so a new run
// can be treated as a follow-up: it extracts prior sub-queries, prior cited
// paragraph IDs (for delta retrieval), and prior sections (for
// deduplication hints and optional inclusion in the final document). Any
// schema or I/O failure degrades gracefully to "no follow-up context"
// rather than propagating an error - a missing or corrupt prior session
// must never block a fresh run.
package followup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kadirpekel/resagent/pkg/postprocess"
)

const excerptLimit = 500

// supportedSchemaVersion is the only answer.json version this loader
// understands. A missing/zero version is treated as version 1.
const supportedSchemaVersion = 1

// metadataHeadings are section headings that describe the document rather
// than its research content; they are never surfaced as prior sections.
var metadataHeadings = map[string]bool{
	"sources":    true,
	"references": true,
	"citations":  true,
	"metadata":   true,
	"footnotes":  true,
	"appendix":   true,
}

// AnswerFile is the machine-readable companion written by stage 5 of a
// prior run, read back here to build follow-up context.
type AnswerFile struct {
	Version           int      `json:"version,omitempty"`
	Query             string   `json:"query"`
	Answer            string   `json:"answer"`
	SubQueries        []string `json:"subQueries,omitempty"`
	CitedParagraphIDs []string `json:"citedParagraphIds,omitempty"`
	WebReferences     []string `json:"webReferences,omitempty"`
	FollowUpNumber    int      `json:"followUpNumber,omitempty"`
}

// Context is the derived follow-up context a new run consumes.
type Context struct {
	FollowUpNumber    int
	PriorQuery        string
	PriorAnswer       string
	PriorSubQueries   []string
	PriorParagraphIDs []string
	PriorSections     []postprocess.PriorSection
}

func answerPath(sessionsDir, previousSessionID string) string {
	return filepath.Join(sessionsDir, previousSessionID, "data", "answer.json")
}

// Load reads and validates the prior session's answer file, returning
// (ctx, true) on success or (Context{}, false) on any schema or I/O
// failure.
func Load(sessionsDir, previousSessionID string) (Context, bool) {
	raw, err := os.ReadFile(answerPath(sessionsDir, previousSessionID))
	if err != nil {
		return Context{}, false
	}

	var file AnswerFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return Context{}, false
	}

	if file.Version != 0 && file.Version != supportedSchemaVersion {
		return Context{}, false
	}
	if strings.TrimSpace(file.Answer) == "" {
		return Context{}, false
	}

	return Context{
		FollowUpNumber:    file.FollowUpNumber + 1,
		PriorQuery:        file.Query,
		PriorAnswer:       file.Answer,
		PriorSubQueries:   file.SubQueries,
		PriorParagraphIDs: file.CitedParagraphIDs,
		PriorSections:     parseSections(file.Answer),
	}, true
}

func parseSections(answer string) []postprocess.PriorSection {
	var sections []postprocess.PriorSection
	n := 0
	for _, raw := range splitHeadingSections(answer) {
		if raw.heading == "" || metadataHeadings[strings.ToLower(strings.TrimSpace(raw.heading))] {
			continue
		}
		n++
		sections = append(sections, postprocess.PriorSection{
			ID:      fmt.Sprintf("P%d", n),
			Heading: raw.heading,
			Excerpt: truncateAtWordBoundary(raw.body, excerptLimit),
		})
	}
	return sections
}

type headingSection struct {
	heading string
	body    string
}

// splitHeadingSections splits text by "## " headings, discarding any
// preamble before the first heading (a prior answer's preamble is never a
// citable section).
func splitHeadingSections(text string) []headingSection {
	lines := strings.Split(text, "\n")
	var sections []headingSection
	var cur *headingSection
	var buf strings.Builder

	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(buf.String())
			sections = append(sections, *cur)
		}
		buf.Reset()
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &headingSection{heading: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		if cur == nil {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return sections
}

// truncateAtWordBoundary truncates to at most limit runes, backing off to
// the last space so a word is never split, then appends an ellipsis.
func truncateAtWordBoundary(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && runes[cut-1] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = limit
	}
	return strings.TrimRight(string(runes[:cut]), " ") + "…"
}
