package followup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kadirpekel/resagent/pkg/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAnswerFile(t *testing.T, sessionsDir, sessionID string, file AnswerFile) {
	t.Helper()
	dir := filepath.Join(sessionsDir, sessionID, "data")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "answer.json"), raw, 0o644))
}

func TestLoad_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeAnswerFile(t, dir, "s1", AnswerFile{
		Query:             "What is ISA 315?",
		Answer:            "## Risk Assessment\nISA 315 covers risk identification.\n\n## Sources\nsome refs\n",
		SubQueries:        []string{"Q1", "Q2"},
		CitedParagraphIDs: []string{"p-1", "p-2"},
		FollowUpNumber:    0,
	})

	ctx, ok := Load(dir, "s1")
	require.True(t, ok)
	assert.Equal(t, 1, ctx.FollowUpNumber)
	assert.Equal(t, "What is ISA 315?", ctx.PriorQuery)
	assert.Equal(t, []string{"Q1", "Q2"}, ctx.PriorSubQueries)
	assert.Equal(t, []string{"p-1", "p-2"}, ctx.PriorParagraphIDs)

	require.Len(t, ctx.PriorSections, 1)
	assert.Equal(t, "P1", ctx.PriorSections[0].ID)
	assert.Equal(t, "Risk Assessment", ctx.PriorSections[0].Heading)
}

func TestLoad_FiltersMetadataHeadings(t *testing.T) {
	dir := t.TempDir()
	writeAnswerFile(t, dir, "s1", AnswerFile{
		Query:  "Q",
		Answer: "## Findings\nbody one\n\n## References\nref body\n\n## Appendix\nappendix body\n",
	})

	ctx, ok := Load(dir, "s1")
	require.True(t, ok)
	require.Len(t, ctx.PriorSections, 1)
	assert.Equal(t, "Findings", ctx.PriorSections[0].Heading)
}

func TestLoad_IncrementsFollowUpNumber(t *testing.T) {
	dir := t.TempDir()
	writeAnswerFile(t, dir, "s1", AnswerFile{Query: "Q", Answer: "## A\nbody\n", FollowUpNumber: 2})

	ctx, ok := Load(dir, "s1")
	require.True(t, ok)
	assert.Equal(t, 3, ctx.FollowUpNumber)
}

func TestLoad_MissingFileReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	_, ok := Load(dir, "does-not-exist")
	assert.False(t, ok)
}

func TestLoad_MalformedJSONReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "s1", "data")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "answer.json"), []byte("{not json"), 0o644))

	_, ok := Load(dir, "s1")
	assert.False(t, ok)
}

func TestLoad_EmptyAnswerReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeAnswerFile(t, dir, "s1", AnswerFile{Query: "Q", Answer: "   "})

	_, ok := Load(dir, "s1")
	assert.False(t, ok)
}

func TestLoad_UnsupportedVersionReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeAnswerFile(t, dir, "s1", AnswerFile{Version: 2, Query: "Q", Answer: "## A\nbody\n"})

	_, ok := Load(dir, "s1")
	assert.False(t, ok)
}

func TestTruncateAtWordBoundary_CutsOnSpaceNotWord(t *testing.T) {
	text := strings.Repeat("word ", 200) // well over 500 runes
	out := truncateAtWordBoundary(text, 500)
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(out, "…"), "wor"))
	assert.LessOrEqual(t, len([]rune(out)), 501)
}

func TestTruncateAtWordBoundary_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short text", truncateAtWordBoundary("short text", 500))
}

func TestBuildPriorContextHint_CapsSubQueriesAndListsAllHeadings(t *testing.T) {
	ctx := Context{
		PriorSubQueries: []string{"Q1", "Q2", "Q3", "Q4", "Q5", "Q6"},
		PriorSections: []postprocess.PriorSection{
			{ID: "P1", Heading: "Risk Assessment"},
			{ID: "P2", Heading: "Controls & Testing"},
		},
	}

	hint := BuildPriorContextHint(ctx)

	assert.Contains(t, hint, "<PRIOR_RESEARCH_CONTEXT>")
	assert.Contains(t, hint, "Q1")
	assert.Contains(t, hint, "Q5")
	assert.NotContains(t, hint, "Q6")
	assert.Contains(t, hint, "Risk Assessment")
	assert.Contains(t, hint, "Controls &amp; Testing")
	assert.Contains(t, hint, "Do not duplicate")
}

func TestBuildPriorContextHint_OmitsEmptySections(t *testing.T) {
	hint := BuildPriorContextHint(Context{})
	assert.NotContains(t, hint, "PRIOR_SUB_QUERIES")
	assert.NotContains(t, hint, "PRIOR_SECTION_HEADINGS")
}
