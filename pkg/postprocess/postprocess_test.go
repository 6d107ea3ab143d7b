package postprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcess_InjectsWebMarkerAndLabel(t *testing.T) {
	synthesis := "## Revenue Recognition\n\nAuditors must assess revenue recognition policies against ISA 315 risk criteria carefully.\n"
	sources := []WebSource{{URL: "https://ifac.org/isa315", Insight: "ISA 315 risk criteria assessment"}}

	out := Process(synthesis, sources, nil)

	assert.Contains(t, out, "WEB_REF|https://ifac.org/isa315|ISA 315 risk criteria assessment")
	assert.Contains(t, out, "[W1]")
	assert.Contains(t, out, "> **Sources**")
}

func TestProcess_IdempotentOnSecondRun(t *testing.T) {
	synthesis := "## Section\n\nSome prose about risk assessment criteria for audits.\n"
	sources := []WebSource{{URL: "https://example.com/a", Insight: "risk assessment criteria"}}

	once := Process(synthesis, sources, nil)
	twice := Process(once, sources, nil)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(once, "WEB_REF|https://example.com/a"))
	assert.Equal(t, 1, strings.Count(once, "[W1]"))
}

func TestProcess_SkipsExistingMarkerMatchedByHostname(t *testing.T) {
	synthesis := "## Section\n\nSome prose about audit risk.\n\n> **Sources**\n> WEB_REF|https://example.com/a/different-path|already here\n"
	sources := []WebSource{{URL: "https://example.com/a/original-path", Insight: "audit risk"}}

	out := Process(synthesis, sources, nil)

	assert.Equal(t, 1, strings.Count(out, "WEB_REF|"))
}

func TestProcess_PriorSectionsUseSeparateMarkersAndLabels(t *testing.T) {
	synthesis := "## Follow-up\n\nThis discusses internal controls testing in detail.\n"
	prior := []PriorSection{{ID: "p1", Heading: "Internal Controls", Excerpt: "internal controls testing overview"}}

	out := Process(synthesis, nil, prior)

	assert.Contains(t, out, "PRIOR_REF|p1|Internal Controls|internal controls testing overview")
	assert.Contains(t, out, "[P1]")
}

func TestProcess_OrderIsWebThenPrior(t *testing.T) {
	synthesis := "## Section\n\nDiscussion of audit evidence gathering and internal controls testing.\n"
	web := []WebSource{{URL: "https://example.com/w", Insight: "audit evidence gathering"}}
	prior := []PriorSection{{ID: "p1", Heading: "Controls", Excerpt: "internal controls testing"}}

	out := Process(synthesis, web, prior)

	webMarkerIdx := strings.Index(out, "WEB_REF|")
	webLabelIdx := strings.Index(out, "[W1]")
	priorMarkerIdx := strings.Index(out, "PRIOR_REF|")
	priorLabelIdx := strings.Index(out, "[P1]")

	assert.True(t, webMarkerIdx >= 0 && webLabelIdx >= 0 && priorMarkerIdx >= 0 && priorLabelIdx >= 0)
	assert.Less(t, webMarkerIdx, priorMarkerIdx)
}

func TestProcess_FallsBackToFirstSubstantialProseLineBelowThreshold(t *testing.T) {
	synthesis := "## Section\n\nThis is a reasonably long opening sentence about something unrelated entirely.\n"
	sources := []WebSource{{URL: "https://example.com/z", Insight: "xenobiotic metabolite pharmacokinetics"}}

	out := Process(synthesis, sources, nil)

	assert.Contains(t, out, "[W1]")
}

func TestProcess_NoSourcesIsNoOp(t *testing.T) {
	synthesis := "## Section\n\nPlain text with nothing to cite.\n"
	out := Process(synthesis, nil, nil)
	assert.Equal(t, strings.TrimRight(synthesis, "\n")+"\n", out)
}

func TestKeywordSet_DropsShortTokensAndStopWords(t *testing.T) {
	set := keywordSet("The quick and that audit controls testing framework")
	assert.False(t, set["the"])
	assert.False(t, set["and"])
	assert.False(t, set["that"])
	assert.True(t, set["quick"])
	assert.True(t, set["audit"])
	assert.True(t, set["controls"])
}

func TestOverlapScore_ZeroWhenNoSharedKeywords(t *testing.T) {
	a := keywordSet("audit controls testing")
	b := keywordSet("unrelated topics entirely")
	assert.Equal(t, 0.0, overlapScore(a, b))
}

func TestSplitSections_PreambleBecomesOwnSection(t *testing.T) {
	text := "Intro line.\n## First\nbody\n"
	sections := splitSections(text)
	assert.Len(t, sections, 2)
	assert.Equal(t, "", sections[0].heading)
	assert.Equal(t, "First", sections[1].heading)
}
