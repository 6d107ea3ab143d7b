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
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/resagent/pkg/orchestrator"
	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/sessionindex"
)

// RunCmd starts a fresh pipeline run and streams its OrchestratorEvents as
// NDJSON to stdout until the run pauses, completes, or errors.
type RunCmd struct {
	Query             string `arg:"" help:"The research query to run."`
	PreviousSessionID string `name:"previous-session" help:"Prior session ID, for a follow-up run."`
}

func (c *RunCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessionID := uuid.NewString()
	if err := rt.index.Record(ctx, sessionindex.Record{
		SessionID: sessionID,
		AgentSlug: rt.currentAgent().Slug,
		Query:     c.Query,
		CreatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("research: failed to record session: %w", err)
	}

	sink := newNDJSONSink(os.Stdout)
	err = rt.driver.Run(ctx, sink, orchestrator.RunParams{
		SessionID:         sessionID,
		UserMessage:       c.Query,
		AgentConfig:       rt.currentAgent(),
		PreviousSessionID: c.PreviousSessionID,
	})
	if err != nil {
		return err
	}
	return markIfDone(ctx, rt, sessionID)
}

// markIfDone marks a session completed in the index only when the run
// actually finished, as opposed to pausing for user input.
func markIfDone(ctx context.Context, rt *runtime, sessionID string) error {
	state, ok := pipeline.LoadFrom(filepath.Join(rt.sessionsDir, sessionID))
	if !ok || state.IsPaused() {
		return nil
	}
	return rt.index.MarkCompleted(ctx, sessionID)
}
