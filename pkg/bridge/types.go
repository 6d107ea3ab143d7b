// Package bridge implements the typed facade over the external MCP tool
// protocol used for retrieval, web search, and citation verification.
//
// Grounded on the teacher's pkg/tool/mcptoolset package: the same lazy
// stdio/HTTP dual-transport connection strategy, the same JSON-RPC
// envelope shape, generalized here from a generic Toolset into the six
// fixed, named operations this system's stages actually call.
package bridge

import (
	"fmt"
	"strings"
)

// RetrievalParagraph is the canonical shape every bridge method that
// returns retrieved text normalizes into, regardless of the provider's
// own field names.
type RetrievalParagraph struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Envelope is the raw MCP tool-call response shape: a list of typed
// content blocks plus an optional error flag.
type Envelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one block of an Envelope's content list.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SchemaError is returned by parseMcpResult when the decoded JSON payload
// fails the tool-specific shape check.
type SchemaError struct {
	ToolName string
	Detail   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("bridge: %s response failed schema validation: %s", e.ToolName, e.Detail)
}

// ToolError is returned when the envelope itself carries an error flag,
// or the tool returned no content.
type ToolError struct {
	ToolName string
	Detail   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("bridge: tool %s failed: %s", e.ToolName, e.Detail)
}

// ParseError is returned when the extracted text block is not valid JSON.
type ParseError struct {
	ToolName string
	Excerpt  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bridge: failed to parse %s response as JSON: %s", e.ToolName, e.Excerpt)
}

const excerptLimit = 200

func excerpt(s string) string {
	if len(s) <= excerptLimit {
		return s
	}
	return s[:excerptLimit] + "…"
}

// extractMcpText returns the concatenated text of every "text" content
// block in the envelope, without attempting any JSON parsing. Used by
// tools whose payload is already a pre-formatted human string.
func extractMcpText(env Envelope) (string, error) {
	if env.IsError {
		return "", &ToolError{Detail: firstBlockText(env)}
	}
	if len(env.Content) == 0 {
		return "", &ToolError{Detail: "empty content"}
	}
	var sb strings.Builder
	for _, block := range env.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func firstBlockText(env Envelope) string {
	for _, block := range env.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return "unknown error"
}
