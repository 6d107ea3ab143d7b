package bridge

import (
	"encoding/json"
	"fmt"
)

// parseMcpResult performs, in order: error-flag check, non-empty content
// check, text-block extraction, JSON parse, and schema validation against
// the supplied checker. Each failure mode returns a distinctly typed error
// so callers (and tests) can distinguish them with errors.As.
func parseMcpResult(toolName string, env Envelope, check schemaCheck) (any, error) {
	if env.IsError {
		return nil, &ToolError{ToolName: toolName, Detail: firstBlockText(env)}
	}
	if len(env.Content) == 0 {
		return nil, &ToolError{ToolName: toolName, Detail: "empty content"}
	}

	text, err := firstTextBlock(env)
	if err != nil {
		return nil, &ToolError{ToolName: toolName, Detail: err.Error()}
	}

	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, &ParseError{ToolName: toolName, Excerpt: excerpt(text)}
	}

	if check != nil {
		if detail, ok := check(payload); !ok {
			return nil, &SchemaError{ToolName: toolName, Detail: detail}
		}
	}

	return payload, nil
}

func firstTextBlock(env Envelope) (string, error) {
	for _, block := range env.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content block present")
}

// schemaCheck validates a decoded JSON payload, returning a human detail
// string and false on failure.
type schemaCheck func(payload any) (detail string, ok bool)

// listSchema accepts either a bare JSON array or an object wrapping it
// under wrapperKey (e.g. {"results": [...]}). This tolerance is required
// because MCP servers in the wild disagree on whether list results get a
// wrapper object.
func listSchema(wrapperKey string) schemaCheck {
	return func(payload any) (string, bool) {
		if _, ok := payload.([]any); ok {
			return "", true
		}
		if obj, ok := payload.(map[string]any); ok {
			if _, ok := obj[wrapperKey].([]any); ok {
				return "", true
			}
		}
		return fmt.Sprintf("expected a JSON array or an object with a %q array field", wrapperKey), false
	}
}

// asList normalizes a payload that passed listSchema into a plain slice.
func asList(payload any, wrapperKey string) []any {
	if list, ok := payload.([]any); ok {
		return list
	}
	if obj, ok := payload.(map[string]any); ok {
		if list, ok := obj[wrapperKey].([]any); ok {
			return list
		}
	}
	return nil
}

// objectSchema accepts any JSON object, rejecting bare arrays/scalars.
func objectSchema(payload any) (string, bool) {
	if _, ok := payload.(map[string]any); ok {
		return "", true
	}
	return "expected a JSON object", false
}

// toParagraph maps a provider-shaped retrieval item into the canonical
// RetrievalParagraph, tolerating several common field-name variants.
func toParagraph(raw any) (RetrievalParagraph, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return RetrievalParagraph{}, false
	}

	p := RetrievalParagraph{
		ID:     firstString(obj, "id", "paragraphId", "paragraph_id"),
		Text:   firstString(obj, "text", "content", "body"),
		Source: firstString(obj, "source", "url", "origin"),
	}
	if p.ID == "" && p.Text == "" {
		return RetrievalParagraph{}, false
	}

	switch vv := firstValue(obj, "score", "relevance", "relevanceScore").(type) {
	case float64:
		p.Score = vv
	}

	return p, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}
