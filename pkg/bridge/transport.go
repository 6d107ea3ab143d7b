package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/resagent/pkg/httpclient"
)

// TransportConfig configures a connection to one MCP server. Exactly one
// of Command (stdio) or URL (HTTP, sse/streamable-http) must be set.
type TransportConfig struct {
	Name       string
	URL        string
	Transport  string
	Command    string
	Args       []string
	Env        map[string]string
	MaxRetries int
	SSETimeout time.Duration
}

// DefaultSSEResponseTimeout mirrors the teacher's default: long enough for
// slow knowledge-base servers without hanging forever on a dead one.
const DefaultSSEResponseTimeout = 5 * time.Minute

// MCPCaller is the production Caller: it connects lazily to a single MCP
// server over stdio or HTTP and issues tools/call JSON-RPC requests.
type MCPCaller struct {
	cfg TransportConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	connected  bool
}

// NewMCPCaller constructs a caller for the given server config. The
// connection itself is established lazily on first CallTool.
func NewMCPCaller(cfg TransportConfig) (*MCPCaller, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("bridge: either url or command is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSEResponseTimeout
	}
	return &MCPCaller{cfg: cfg}, nil
}

func (c *MCPCaller) usesStdio() bool {
	return c.cfg.Command != "" || c.cfg.Transport == "stdio"
}

// CallTool connects if needed, then issues a tools/call request.
func (c *MCPCaller) CallTool(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		if err := c.connect(ctx); err != nil {
			return Envelope{}, fmt.Errorf("bridge: failed to connect to %s: %w", c.cfg.Name, err)
		}
	}

	if c.usesStdio() {
		return c.callStdio(ctx, name, args)
	}
	return c.callHTTP(ctx, name, args)
}

func (c *MCPCaller) connect(ctx context.Context) error {
	if c.usesStdio() {
		return c.connectStdio(ctx)
	}
	return c.connectHTTP(ctx)
}

func (c *MCPCaller) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "resagent", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	c.stdio = mcpClient
	c.connected = true
	slog.Info("bridge: connected to MCP server (stdio)", "name", c.cfg.Name, "command", c.cfg.Command)
	return nil
}

func (c *MCPCaller) connectHTTP(ctx context.Context) error {
	c.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(c.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	resp, err := c.jsonRPC(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "resagent", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("MCP init error: %s", resp.Error.Message)
	}

	c.connected = true
	slog.Info("bridge: connected to MCP server (http)", "name", c.cfg.Name, "url", c.cfg.URL)
	return nil
}

func (c *MCPCaller) callStdio(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.stdio.CallTool(ctx, req)
	if err != nil {
		return Envelope{}, fmt.Errorf("tools/call failed: %w", err)
	}

	env := Envelope{IsError: result.IsError}
	for _, block := range result.Content {
		if tc, ok := block.(mcp.TextContent); ok {
			env.Content = append(env.Content, ContentBlock{Type: "text", Text: tc.Text})
		}
	}
	return env, nil
}

func (c *MCPCaller) callHTTP(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	resp, err := c.jsonRPC(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("tools/call failed: %w", err)
	}
	if resp.Error != nil {
		return Envelope{}, fmt.Errorf("MCP error: %s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("unexpected tools/call result shape")
	}

	env := Envelope{}
	if isErr, ok := resultMap["isError"].(bool); ok {
		env.IsError = isErr
	}
	if contentList, ok := resultMap["content"].([]any); ok {
		for _, raw := range contentList {
			block, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := block["type"].(string)
			text, _ := block["text"].(string)
			env.Content = append(env.Content, ContentBlock{Type: typ, Text: text})
		}
	}
	return env, nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *MCPCaller) jsonRPC(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	raw, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer raw.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(raw.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &rpcResp, nil
}
