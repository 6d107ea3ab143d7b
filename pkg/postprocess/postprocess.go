// Package postprocess implements the deterministic safety net that runs on
// every synthesis-stage answer before verification: it guarantees that
// every web source and every prior (follow-up) section the model was given
// is both marked with a machine-readable reference line and labeled inline
// in the prose, regardless of whether the model remembered to do so
// itself. Measured LLM compliance with citation conventions is unreliable;
// this package is the contract, not the model.
package postprocess

import (
	"regexp"
	"strconv"
	"strings"
)

// WebSource is one web-search result surfaced to the synthesis stage.
type WebSource struct {
	URL     string
	Insight string
}

// PriorSection is one section of a prior (follow-up) run's answer.
type PriorSection struct {
	ID      string
	Heading string
	Excerpt string
}

// refItem is the common shape both WebSource and PriorSection reduce to
// before injection, so the marker/label algorithm is written once.
type refItem struct {
	markerKey  string // identity used to detect an existing marker (URL or section ID)
	markerLine string // full "KIND_REF|..." line to inject
	altMatch   string // secondary identity accepted as "already present" (hostname for URLs)
	labelTag   string // "[W3]" / "[P2]"
	labelText  string // text scored for keyword overlap against candidate sentences/sections
}

func webRefItems(sources []WebSource) []refItem {
	items := make([]refItem, len(sources))
	for i, s := range sources {
		items[i] = refItem{
			markerKey:  s.URL,
			markerLine: "WEB_REF|" + s.URL + "|" + s.Insight,
			altMatch:   hostOf(s.URL),
			labelTag:   "[W" + strconv.Itoa(i+1) + "]",
			labelText:  s.Insight,
		}
	}
	return items
}

func priorRefItems(sections []PriorSection) []refItem {
	items := make([]refItem, len(sections))
	for i, s := range sections {
		items[i] = refItem{
			markerKey:  s.ID,
			markerLine: "PRIOR_REF|" + s.ID + "|" + s.Heading + "|" + s.Excerpt,
			labelTag:   "[P" + strconv.Itoa(i+1) + "]",
			labelText:  s.Heading + " " + s.Excerpt,
		}
	}
	return items
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "have": true, "has": true, "are": true,
	"was": true, "were": true, "will": true, "shall": true, "should": true,
	"which": true, "their": true, "there": true, "these": true, "those": true,
	"into": true, "about": true, "such": true, "when": true, "where": true,
	"also": true, "been": true, "being": true, "than": true, "then": true,
	"over": true, "under": true, "while": true, "each": true, "some": true,
}

var punctuationPattern = regexp.MustCompile(`[^\w\s]`)

// keywordSet lower-cases, strips punctuation, drops tokens of length <= 3,
// and drops a fixed stop-word list, returning a set for overlap scoring.
func keywordSet(text string) map[string]bool {
	cleaned := punctuationPattern.ReplaceAllString(strings.ToLower(text), " ")
	out := map[string]bool{}
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) <= 3 || stopWords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

func overlapScore(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for k := range a {
		if b[k] {
			shared++
		}
	}
	denom := len(a)
	if len(b) < denom {
		denom = len(b)
	}
	return float64(shared) / float64(denom)
}

func hostOf(url string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

// Process runs the full injection pipeline in the spec-mandated fixed
// order: WEB markers, W labels, PRIOR markers, P labels. It is idempotent
// - re-running it on its own output is a no-op, because every step first
// scans for an existing marker/label before injecting.
func Process(synthesis string, webSources []WebSource, priorSections []PriorSection) string {
	sections := splitSections(synthesis)

	webItems := webRefItems(webSources)
	sections = injectMarkers(sections, webItems)
	sections = injectLabels(sections, webItems)

	priorItems := priorRefItems(priorSections)
	sections = injectMarkers(sections, priorItems)
	sections = injectLabels(sections, priorItems)

	return joinSections(sections)
}
