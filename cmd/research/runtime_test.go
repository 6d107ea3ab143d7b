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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/resagent/pkg/pipeline"
	"github.com/kadirpekel/resagent/pkg/sessionindex"
)

func openTestIndex(t *testing.T, dir string) *sessionindex.Index {
	t.Helper()
	idx, err := sessionindex.Open(filepath.Join(dir, "sessions.db"))
	require.NoError(t, err)
	return idx
}

func writeAgentYAML(t *testing.T, dir, slug string) string {
	t.Helper()
	path := filepath.Join(dir, slug+".yaml")
	content := "slug: " + slug + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAgent_PrefersDirectFileNamedAfterSlug(t *testing.T) {
	dir := t.TempDir()
	writeAgentYAML(t, dir, "research")
	writeAgentYAML(t, dir, "other")

	cli := &CLI{AgentsDir: dir, Agent: "research"}
	cfg, err := loadAgent(cli)
	require.NoError(t, err)
	assert.Equal(t, "research", cfg.Slug)
}

func TestLoadAgent_FallsBackToLoadAllWhenNoDirectFile(t *testing.T) {
	dir := t.TempDir()
	// Slug doesn't match its filename, so only LoadAll's slug-keyed scan finds it.
	path := filepath.Join(dir, "definitions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slug: research\n"), 0o644))

	cli := &CLI{AgentsDir: dir, Agent: "research"}
	cfg, err := loadAgent(cli)
	require.NoError(t, err)
	assert.Equal(t, "research", cfg.Slug)
}

func TestLoadAgent_ErrorsWhenSlugNotFound(t *testing.T) {
	dir := t.TempDir()
	writeAgentYAML(t, dir, "other")

	cli := &CLI{AgentsDir: dir, Agent: "missing"}
	_, err := loadAgent(cli)
	assert.Error(t, err)
}

func TestBridgeCaller_NilWhenNoTransportConfigured(t *testing.T) {
	cli := &CLI{}
	caller, err := bridgeCaller(cli)
	require.NoError(t, err)
	assert.Nil(t, caller)
}

func TestBridgeCaller_BuildsMCPCallerWhenCommandSet(t *testing.T) {
	cli := &CLI{MCPCommand: "true"}
	caller, err := bridgeCaller(cli)
	require.NoError(t, err)
	assert.NotNil(t, caller)
}

func TestMarkIfDone_SkipsIndexUpdateWhenPaused(t *testing.T) {
	dir := t.TempDir()
	sessionID := "sess-paused"
	state := pipeline.Create(sessionID, "research", "")
	state = state.AddEvent(pipeline.EventPauseRequested, 0, nil)
	state = state.AddEvent(pipeline.EventPauseFormatted, 0, map[string]any{"message": "pause"})
	require.NoError(t, state.SaveTo(filepath.Join(dir, sessionID)))

	rt := &runtime{sessionsDir: dir, index: openTestIndex(t, dir)}
	defer rt.index.Close()

	err := markIfDone(context.Background(), rt, sessionID)
	require.NoError(t, err)
}

func TestMarkIfDone_NoStateIsANoop(t *testing.T) {
	dir := t.TempDir()
	rt := &runtime{sessionsDir: dir, index: openTestIndex(t, dir)}
	defer rt.index.Close()

	err := markIfDone(context.Background(), rt, "never-ran")
	require.NoError(t, err)
}
