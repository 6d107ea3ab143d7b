// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/bridge"
	"github.com/kadirpekel/resagent/pkg/cost"
	"github.com/kadirpekel/resagent/pkg/llmclient"
	"github.com/kadirpekel/resagent/pkg/orchestrator"
	"github.com/kadirpekel/resagent/pkg/sessionindex"
	"github.com/kadirpekel/resagent/pkg/stage"
)

// runtime bundles everything a subcommand needs to drive one or more
// orchestrator runs: the loaded agent definition, a wired Driver, and the
// session index used by list-sessions and follow-up discovery. agent is
// guarded by agentMu since --watch reloads it from a background goroutine
// while a run may be reading it.
type runtime struct {
	agentMu sync.RWMutex
	agent   agentconfig.AgentConfig

	driver      *orchestrator.Driver
	index       *sessionindex.Index
	sessionsDir string
	watcher     *agentconfig.Watcher
}

func (rt *runtime) currentAgent() agentconfig.AgentConfig {
	rt.agentMu.RLock()
	defer rt.agentMu.RUnlock()
	return rt.agent
}

func (rt *runtime) setAgent(cfg agentconfig.AgentConfig) {
	rt.agentMu.Lock()
	defer rt.agentMu.Unlock()
	rt.agent = cfg
}

// buildRuntime loads the agent definition and wires the full call chain:
// model client -> Stage Runner -> Orchestrator Driver, plus the MCP bridge
// and session index. Every concrete collaborator spec.md places out of
// scope (LLM provider, MCP servers, credential storage) is reached here
// through the same interfaces the orchestrator and Stage Runner are
// already polymorphic over - this file never reaches back into pipeline
// internals.
func buildRuntime(cli *CLI) (*runtime, error) {
	cfg, err := loadAgent(cli)
	if err != nil {
		return nil, err
	}
	if cli.BudgetUSD > 0 {
		cfg.Orchestrator.BudgetUSD = cli.BudgetUSD
	}

	caller, err := bridgeCaller(cli)
	if err != nil {
		return nil, err
	}

	client, err := llmclient.New(llmclient.Config{
		BaseURL:       cli.AnthropicBaseURL,
		Model:         cfg.Orchestrator.Model,
		TokenProvider: llmclient.NewCachingTokenProvider(tokenFetcher),
	})
	if err != nil {
		return nil, fmt.Errorf("research: failed to construct model client: %w", err)
	}

	if err := os.MkdirAll(cli.SessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("research: failed to create sessions dir: %w", err)
	}

	runner := stage.New(stage.Config{
		Caller:        client,
		Bridge:        bridge.New(caller),
		ContextWindow: cfg.Orchestrator.ContextWindow,
		PromptsDir:    cfg.PromptsDir,
		SessionDir:    cli.SessionsDir,
	})

	driver := orchestrator.New(orchestrator.Config{
		Runner:      runner,
		SessionsDir: cli.SessionsDir,
		Rates:       cost.DefaultRates,
	})

	if err := os.MkdirAll(filepath.Dir(cli.IndexPath), 0o755); err != nil {
		return nil, fmt.Errorf("research: failed to create session index dir: %w", err)
	}
	index, err := sessionindex.Open(cli.IndexPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{agent: cfg, driver: driver, index: index, sessionsDir: cli.SessionsDir}

	if cli.Watch {
		if err := rt.watchAgent(cli); err != nil {
			return nil, err
		}
	}

	return rt, nil
}

// watchAgent hot-reloads the agent definition from --agents-dir whenever
// its YAML file changes, so a long-running `serve` process picks up
// control-flow or prompt edits without a restart.
func (rt *runtime) watchAgent(cli *CLI) error {
	w, err := agentconfig.NewWatcher(cli.AgentsDir)
	if err != nil {
		return fmt.Errorf("research: failed to start agent watcher: %w", err)
	}
	rt.watcher = w

	go w.Run(
		func(cfg agentconfig.AgentConfig) {
			if cfg.Slug != cli.Agent {
				return
			}
			if cli.BudgetUSD > 0 {
				cfg.Orchestrator.BudgetUSD = cli.BudgetUSD
			}
			rt.setAgent(cfg)
			slog.Info("research: reloaded agent definition", "agent", cfg.Slug)
		},
		func(err error) {
			slog.Warn("research: agent watch error", "error", err)
		},
	)
	return nil
}

func (rt *runtime) Close() error {
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	return rt.index.Close()
}

// loadAgent reads the requested agent slug out of --agents-dir. A single
// file named "<slug>.yaml" is tried first so a flat agents directory never
// requires loading every sibling definition just to run one agent.
func loadAgent(cli *CLI) (agentconfig.AgentConfig, error) {
	direct := filepath.Join(cli.AgentsDir, cli.Agent+".yaml")
	if _, err := os.Stat(direct); err == nil {
		return agentconfig.Load(direct)
	}

	all, err := agentconfig.LoadAll(cli.AgentsDir)
	if err != nil {
		return agentconfig.AgentConfig{}, fmt.Errorf("research: failed to load agents from %s: %w", cli.AgentsDir, err)
	}
	cfg, ok := all[cli.Agent]
	if !ok {
		return agentconfig.AgentConfig{}, fmt.Errorf("research: no agent definition for slug %q in %s", cli.Agent, cli.AgentsDir)
	}
	return cfg, nil
}

// bridgeCaller constructs the MCP caller the Bridge dispatches tool calls
// through. Neither --mcp-command nor --mcp-url set is a valid, supported
// configuration: it models "MCP bridge absent" per stage 1's documented
// short-circuit, letting the pipeline run with web-search/retrieval/
// verification stages all degrading gracefully rather than failing to
// start.
func bridgeCaller(cli *CLI) (bridge.Caller, error) {
	if cli.MCPCommand == "" && cli.MCPURL == "" {
		return nil, nil
	}
	return bridge.NewMCPCaller(bridge.TransportConfig{
		Name:    "research-bridge",
		Command: cli.MCPCommand,
		Args:    cli.MCPArgs,
		URL:     cli.MCPURL,
	})
}

// tokenFetcher retrieves the bearer token from the environment. Real
// credential storage is out of scope per spec.md §1; this is the minimal
// stand-in a CLI can offer in its place.
func tokenFetcher(_ context.Context) (string, error) {
	token := os.Getenv("ANTHROPIC_API_KEY")
	if token == "" {
		return "", fmt.Errorf("research: ANTHROPIC_API_KEY is not set")
	}
	return token, nil
}
