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

// Command research is a thin external-collaborator shim around the
// orchestrator: a stdio CLI standing in for the desktop UI shell the
// pipeline itself never talks to directly.
//
// Usage:
//
//	research run --agent research --agents-dir ./agents "what is ISA 315?"
//	research resume --agent research <session-id> "yes, proceed"
//	research list-sessions --agent research
//	research serve --agent research
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/resagent/pkg/agentconfig"
	"github.com/kadirpekel/resagent/pkg/logger"
	"github.com/kadirpekel/resagent/pkg/telemetry"
)

// CLI defines the command-line interface.
type CLI struct {
	Run          RunCmd          `cmd:"" help:"Start a fresh research run and stream its events."`
	Resume       ResumeCmd       `cmd:"" help:"Resume a paused research run."`
	ListSessions ListSessionsCmd `cmd:"" name:"list-sessions" help:"List recorded sessions for an agent."`
	Serve        ServeCmd        `cmd:"" help:"Run an interactive stdio research loop."`

	AgentsDir   string `help:"Directory of agent definition YAML files." type:"path" default:"./agents"`
	Agent       string `help:"Agent slug to load from --agents-dir." default:"research"`
	SessionsDir string `help:"Directory where per-session state is persisted." type:"path" default:"./sessions"`
	IndexPath   string `name:"index" help:"Path to the session index database." type:"path" default:"./sessions/sessions.db"`

	MCPCommand string   `name:"mcp-command" help:"Command to launch the MCP bridge server over stdio."`
	MCPArgs    []string `name:"mcp-args" help:"Arguments passed to --mcp-command."`
	MCPURL     string   `name:"mcp-url" help:"URL of an HTTP/SSE MCP bridge server, instead of --mcp-command."`

	AnthropicBaseURL string  `name:"anthropic-base-url" help:"Base URL for the model API." default:"https://api.anthropic.com"`
	BudgetUSD        float64 `name:"budget-usd" help:"Soft per-run USD budget." default:"1.0"`

	Tracing      bool    `help:"Enable OpenTelemetry tracing (stdout exporter)."`
	SamplingRate float64 `name:"sampling-rate" help:"Trace sampling ratio when --tracing is set." default:"1.0"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`

	Watch bool `help:"Hot-reload the agent definition on change."`
}

func main() {
	_ = agentconfig.LoadEnvFile(".env")

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("research"),
		kong.Description("Deterministic research-pipeline orchestrator CLI"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "research: invalid log level %q\n", cli.LogLevel)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "research: failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = f
	}
	logger.Init(level, output, cli.LogFormat)

	shutdownCtx, cancelShutdown := context.WithCancel(context.Background())
	defer cancelShutdown()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancelShutdown()
	}()

	_, shutdownTracing, err := telemetry.InitTracerProvider(shutdownCtx, telemetry.Config{
		Enabled:      cli.Tracing,
		ServiceName:  telemetry.DefaultServiceName,
		SamplingRate: cli.SamplingRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "research: failed to init tracing: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	err = kctx.Run(&cli, shutdownCtx)
	kctx.FatalIfErrorf(err)
}
