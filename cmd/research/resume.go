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
	"os"

	"github.com/kadirpekel/resagent/pkg/orchestrator"
)

// ResumeCmd continues a paused research run with the user's response and
// streams the remaining OrchestratorEvents as NDJSON.
type ResumeCmd struct {
	SessionID string `arg:"" name:"session" help:"Session ID to resume."`
	Response  string `arg:"" help:"The user's response to the pause prompt."`
}

func (c *ResumeCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	sink := newNDJSONSink(os.Stdout)
	err = rt.driver.Resume(ctx, sink, orchestrator.ResumeParams{
		SessionID:    c.SessionID,
		UserResponse: c.Response,
		AgentConfig:  rt.currentAgent(),
	})
	if err != nil {
		return err
	}
	return markIfDone(ctx, rt, c.SessionID)
}
