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
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/resagent/pkg/orchestrator"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/sessionindex"
)

// ServeCmd is the minimal stdio driver standing in for the desktop UI
// shell: it reads one query per line from stdin, runs it, and - if the
// pipeline pauses - feeds the next stdin line back in as the resume
// response, looping until EOF. Every OrchestratorEvent is printed to
// stdout as NDJSON as it happens; a one-line human-readable cue precedes
// each prompt for input, but never interleaves with the event stream.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sink := newNDJSONSink(os.Stdout)
	reader := bufio.NewReader(os.Stdin)

	fmt.Fprintln(os.Stderr, "research serve: type a query and press enter; Ctrl-D to quit")

	var activeSessionID string
	for {
		prompt := "query> "
		if activeSessionID != "" {
			prompt = "resume> "
		}
		fmt.Fprint(os.Stderr, prompt)

		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			return nil
		}
		if line == "" {
			continue
		}

		if activeSessionID == "" {
			activeSessionID, err = c.startSession(ctx, rt, sink, line)
		} else {
			activeSessionID, err = c.continueSession(ctx, rt, sink, activeSessionID, line)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "research serve: %v\n", err)
			activeSessionID = ""
		}
	}
}

// startSession begins a new run and returns the session ID to resume next
// if the run paused, or "" if it finished (completed or errored).
func (c *ServeCmd) startSession(ctx context.Context, rt *runtime, sink *ndjsonSink, query string) (string, error) {
	sessionID := uuid.NewString()
	if err := rt.index.Record(ctx, sessionindex.Record{
		SessionID: sessionID,
		AgentSlug: rt.currentAgent().Slug,
		Query:     query,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", err
	}

	if err := rt.driver.Run(ctx, sink, orchestrator.RunParams{
		SessionID:   sessionID,
		UserMessage: query,
		AgentConfig: rt.currentAgent(),
	}); err != nil {
		return "", err
	}
	return c.nextPromptFor(rt, sessionID)
}

func (c *ServeCmd) continueSession(ctx context.Context, rt *runtime, sink *ndjsonSink, sessionID, response string) (string, error) {
	if err := rt.driver.Resume(ctx, sink, orchestrator.ResumeParams{
		SessionID:    sessionID,
		UserResponse: response,
		AgentConfig:  rt.currentAgent(),
	}); err != nil {
		return "", err
	}
	return c.nextPromptFor(rt, sessionID)
}

// nextPromptFor reports whether the session just left the loop paused
// (continue prompting for a resume response) or finished (mark it
// completed and start fresh on the next line).
func (c *ServeCmd) nextPromptFor(rt *runtime, sessionID string) (string, error) {
	state, ok := pipeline.LoadFrom(filepath.Join(rt.sessionsDir, sessionID))
	if ok && state.IsPaused() {
		return sessionID, nil
	}
	return "", rt.index.MarkCompleted(context.Background(), sessionID)
}
