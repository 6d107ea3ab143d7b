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
)

// ListSessionsCmd lists every session recorded for an agent slug, most
// recent first.
type ListSessionsCmd struct{}

func (c *ListSessionsCmd) Run(cli *CLI, ctx context.Context) error {
	rt, err := buildRuntime(cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.index.ListByAgent(ctx, cli.Agent)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No sessions recorded for agent %q\n", cli.Agent)
		return nil
	}

	for _, r := range records {
		status := "paused/running"
		if r.Completed {
			status = "completed"
		}
		fmt.Printf("%s  %-16s %s  %q\n", r.CreatedAt.Format("2006-01-02 15:04:05"), status, r.SessionID, r.Query)
	}
	return nil
}
