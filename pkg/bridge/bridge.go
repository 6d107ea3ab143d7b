package bridge

import (
	"context"
	"sort"
)

// Tool names on the wire, fixed per spec §4.4.
const (
	toolWebSearch      = "web_search"
	toolKBSearch       = "kb_search"
	toolCitationVerify = "citation_verify"
	toolHopRetrieve    = "hop_retrieve"
	toolFormatContext  = "format_context"
	toolEntityVerify   = "entity_verify"
)

// Bridge is the typed facade over the MCP tool protocol. It is
// polymorphic over Caller, not over a concrete transport, per spec §9's
// "polymorphism over capability sets" design note.
type Bridge struct {
	caller Caller
}

// New wraps a Caller as a Bridge. A nil caller is valid and makes every
// method return a ToolError - this is how "MCP bridge absent" is modeled
// for stage 1's short-circuit behavior.
func New(caller Caller) *Bridge {
	return &Bridge{caller: caller}
}

// Available reports whether a caller is configured at all.
func (b *Bridge) Available() bool {
	return b != nil && b.caller != nil
}

func (b *Bridge) call(ctx context.Context, tool string, args map[string]any) (Envelope, error) {
	if !b.Available() {
		return Envelope{}, &ToolError{ToolName: tool, Detail: "no bridge caller configured"}
	}
	return b.caller.CallTool(ctx, tool, args)
}

// WebSearchResult is one hit from a web search query.
type WebSearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// WebSearch performs one web search query.
func (b *Bridge) WebSearch(ctx context.Context, query string) ([]WebSearchResult, error) {
	env, err := b.call(ctx, toolWebSearch, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	payload, err := parseMcpResult(toolWebSearch, env, listSchema("results"))
	if err != nil {
		return nil, err
	}

	list := asList(payload, "results")
	out := make([]WebSearchResult, 0, len(list))
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, WebSearchResult{
			URL:     firstString(obj, "url", "link"),
			Title:   firstString(obj, "title"),
			Snippet: firstString(obj, "snippet", "description"),
		})
	}
	return out, nil
}

// KBSearchOptions configures a knowledge-base search call.
type KBSearchOptions struct {
	MaxResults int
}

// KBSearch queries the knowledge base and returns canonical paragraphs
// sorted by descending relevance score.
func (b *Bridge) KBSearch(ctx context.Context, query string, opts KBSearchOptions) ([]RetrievalParagraph, error) {
	args := map[string]any{"query": query}
	if opts.MaxResults > 0 {
		args["maxResults"] = opts.MaxResults
	}

	env, err := b.call(ctx, toolKBSearch, args)
	if err != nil {
		return nil, err
	}
	payload, err := parseMcpResult(toolKBSearch, env, listSchema("results"))
	if err != nil {
		return nil, err
	}

	list := asList(payload, "results")
	paragraphs := make([]RetrievalParagraph, 0, len(list))
	for _, raw := range list {
		if p, ok := toParagraph(raw); ok {
			paragraphs = append(paragraphs, p)
		}
	}

	sort.SliceStable(paragraphs, func(i, j int) bool {
		return paragraphs[i].Score > paragraphs[j].Score
	})
	return paragraphs, nil
}

// CitationVerifyParams identifies one citation to verify.
type CitationVerifyParams struct {
	ParagraphID string
	ClaimText   string
}

// CitationVerifyResult reports whether a citation held up.
type CitationVerifyResult struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// CitationVerify checks one citation against the knowledge base.
func (b *Bridge) CitationVerify(ctx context.Context, params CitationVerifyParams) (CitationVerifyResult, error) {
	env, err := b.call(ctx, toolCitationVerify, map[string]any{
		"paragraphId": params.ParagraphID,
		"claimText":   params.ClaimText,
	})
	if err != nil {
		return CitationVerifyResult{}, err
	}
	payload, err := parseMcpResult(toolCitationVerify, env, objectSchema)
	if err != nil {
		return CitationVerifyResult{}, err
	}
	obj := payload.(map[string]any)

	result := CitationVerifyResult{Reason: firstString(obj, "reason", "detail")}
	if v, ok := obj["verified"].(bool); ok {
		result.Verified = v
	}
	return result, nil
}

// HopRetrieve follows a citation graph hop from a paragraph.
func (b *Bridge) HopRetrieve(ctx context.Context, paragraphID string, depth int) ([]RetrievalParagraph, error) {
	env, err := b.call(ctx, toolHopRetrieve, map[string]any{
		"paragraphId": paragraphID,
		"depth":       depth,
	})
	if err != nil {
		return nil, err
	}
	payload, err := parseMcpResult(toolHopRetrieve, env, listSchema("results"))
	if err != nil {
		return nil, err
	}

	list := asList(payload, "results")
	paragraphs := make([]RetrievalParagraph, 0, len(list))
	for _, raw := range list {
		if p, ok := toParagraph(raw); ok {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs, nil
}

// FormatContext asks the bridge to pre-render a set of paragraph IDs into
// a provider-formatted text block (used for providers that prefer to do
// their own XML/markdown framing).
func (b *Bridge) FormatContext(ctx context.Context, paragraphIDs []string) (string, error) {
	env, err := b.call(ctx, toolFormatContext, map[string]any{"paragraphIds": paragraphIDs})
	if err != nil {
		return "", err
	}
	return extractMcpText(env)
}

// EntityVerifyParams identifies an entity claim to check.
type EntityVerifyParams struct {
	EntityName string
	EntityType string
}

// EntityVerifyResult reports whether an entity claim held up.
type EntityVerifyResult struct {
	Recognized bool   `json:"recognized"`
	Detail     string `json:"detail"`
}

// EntityVerify checks an entity reference against the knowledge base.
func (b *Bridge) EntityVerify(ctx context.Context, params EntityVerifyParams) (EntityVerifyResult, error) {
	env, err := b.call(ctx, toolEntityVerify, map[string]any{
		"entityName": params.EntityName,
		"entityType": params.EntityType,
	})
	if err != nil {
		return EntityVerifyResult{}, err
	}
	payload, err := parseMcpResult(toolEntityVerify, env, objectSchema)
	if err != nil {
		return EntityVerifyResult{}, err
	}
	obj := payload.(map[string]any)

	result := EntityVerifyResult{Detail: firstString(obj, "detail", "reason")}
	if v, ok := obj["recognized"].(bool); ok {
		result.Recognized = v
	}
	return result, nil
}
