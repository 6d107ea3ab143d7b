package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	envelopes map[string]Envelope
	errs      map[string]error
	calls     []string
}

func (f *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return Envelope{}, err
	}
	return f.envelopes[name], nil
}

func textEnv(json string) Envelope {
	return Envelope{Content: []ContentBlock{{Type: "text", Text: json}}}
}

func TestWebSearch_UnwrappedArray(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolWebSearch: textEnv(`[{"url":"https://a.test","title":"A","snippet":"s1"}]`),
	}}
	b := New(fake)

	results, err := b.WebSearch(context.Background(), "ISA 315")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://a.test", results[0].URL)
}

func TestKBSearch_WrappedResultsSortedByScore(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolKBSearch: textEnv(`{"results":[
			{"id":"p1","text":"low", "score":0.2, "source":"doc1"},
			{"id":"p2","text":"high","score":0.9,"source":"doc2"}
		]}`),
	}}
	b := New(fake)

	paragraphs, err := b.KBSearch(context.Background(), "query", KBSearchOptions{MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, paragraphs, 2)
	assert.Equal(t, "p2", paragraphs[0].ID, "must be sorted descending by score")
	assert.Equal(t, "p1", paragraphs[1].ID)
}

func TestCitationVerify_ObjectSchema(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolCitationVerify: textEnv(`{"verified": true, "reason": "matched"}`),
	}}
	b := New(fake)

	result, err := b.CitationVerify(context.Background(), CitationVerifyParams{ParagraphID: "p1", ClaimText: "x"})
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, "matched", result.Reason)
}

func TestParseMcpResult_ErrorFlag(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolKBSearch: {IsError: true, Content: []ContentBlock{{Type: "text", Text: "server down"}}},
	}}
	b := New(fake)

	_, err := b.KBSearch(context.Background(), "q", KBSearchOptions{})
	require.Error(t, err)
	var toolErr *ToolError
	assert.ErrorAs(t, err, &toolErr)
}

func TestParseMcpResult_MalformedJSON(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolKBSearch: textEnv(`not json`),
	}}
	b := New(fake)

	_, err := b.KBSearch(context.Background(), "q", KBSearchOptions{})
	require.Error(t, err)
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseMcpResult_SchemaMismatch(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolKBSearch: textEnv(`{"notResults": 5}`),
	}}
	b := New(fake)

	_, err := b.KBSearch(context.Background(), "q", KBSearchOptions{})
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestBridge_UnavailableWithNilCaller(t *testing.T) {
	b := New(nil)
	assert.False(t, b.Available())

	_, err := b.WebSearch(context.Background(), "q")
	require.Error(t, err)
	var toolErr *ToolError
	assert.ErrorAs(t, err, &toolErr)
}

func TestFormatContext_UsesExtractMcpText(t *testing.T) {
	fake := &fakeCaller{envelopes: map[string]Envelope{
		toolFormatContext: {Content: []ContentBlock{{Type: "text", Text: "pre-rendered block"}}},
	}}
	b := New(fake)

	text, err := b.FormatContext(context.Background(), []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, "pre-rendered block", text)
}
