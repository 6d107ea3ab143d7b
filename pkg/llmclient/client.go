// Package llmclient implements the streaming model-invocation client
// described in spec §4.6: always-streaming, no temperature, adaptive
// thinking always on, tools never exposed, dynamic max-tokens via the
// context budgeter.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/resagent/pkg/httpclient"
)

// StreamEventKind discriminates the two streaming increments a caller can
// observe mid-call.
type StreamEventKind string

const (
	StreamEventTextDelta     StreamEventKind = "text_delta"
	StreamEventThinkingDelta StreamEventKind = "thinking_delta"
)

// StreamEvent is one incremental chunk delivered to onStreamEvent during
// a call.
type StreamEvent struct {
	Kind StreamEventKind
	Text string
}

// CallParams is the input to Call.
type CallParams struct {
	SystemPrompt     string
	UserMessage      string
	Model            string
	DesiredMaxTokens int
	Effort           string
	OnStreamEvent    func(StreamEvent)
}

// StopReason mirrors the provider's own stop-reason vocabulary.
type StopReason string

// CallResult is the aggregated outcome of one streaming call.
type CallResult struct {
	Text                 string
	ThinkingSummary      string
	RedactedThinkingCount int
	InputTokens          int
	OutputTokens         int
	StopReason           StopReason
	Model                string
}

// TokenProvider supplies a fresh bearer token before every call.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Model          string
	APIVersion     string
	BetaThinking   string
	MaxOutputTokens int
	TokenProvider  TokenProvider
}

// Client is a streaming LLM client, grounded on the teacher's Anthropic
// SSE-streaming pattern but shedding its a2a.Message/tool-call coupling:
// this system never exposes tools to the model and needs only plain
// system-prompt/user-message calls.
type Client struct {
	cfg        Config
	httpClient *httpclient.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llmclient: base URL is required")
	}
	if cfg.TokenProvider == nil {
		return nil, fmt.Errorf("llmclient: token provider is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-06-01"
	}
	if cfg.BetaThinking == "" {
		cfg.BetaThinking = "interleaved-thinking-2025-05-14"
	}

	return &Client{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 10 * time.Minute}),
			httpclient.WithMaxRetries(3),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}, nil
}

type apiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []apiMessage    `json:"messages"`
	Stream    bool            `json:"stream"`
	Thinking  *apiThinkingCfg `json:"thinking,omitempty"`
}

type apiThinkingCfg struct {
	Type string `json:"type"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Call always streams (spec §4.6: "forces streaming for all calls"),
// fetching a fresh token immediately before issuing the request. Thinking
// is always enabled; temperature and tools are never sent.
func (c *Client) Call(ctx context.Context, params CallParams) (CallResult, error) {
	token, err := c.cfg.TokenProvider.Token(ctx)
	if err != nil {
		return CallResult{}, fmt.Errorf("llmclient: failed to fetch auth token: %w", err)
	}

	model := params.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := params.DesiredMaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxOutputTokens
	}

	apiReq := apiRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    params.SystemPrompt,
		Messages:  []apiMessage{{Role: "user", Content: params.UserMessage}},
		Stream:    true,
		Thinking:  &apiThinkingCfg{Type: "adaptive"},
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("llmclient: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return CallResult{}, fmt.Errorf("llmclient: failed to create request: %w", err)
	}
	c.setHeaders(httpReq, token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return CallResult{}, fmt.Errorf("llmclient: API error (status %d): %s", resp.StatusCode, string(raw))
	}

	result := CallResult{Model: model}
	agg := newAggregator()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return CallResult{}, fmt.Errorf("llmclient: stream read error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var event sseEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		agg.process(event, params.OnStreamEvent)
	}

	agg.finalize(&result)
	return result, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-version", c.cfg.APIVersion)
	req.Header.Set("anthropic-beta", c.cfg.BetaThinking)
}
