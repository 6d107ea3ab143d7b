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

package pipeline

import "errors"

// Sentinel errors shared across the orchestrator. Callers compare against
// these with errors.Is; wrapping with fmt.Errorf("...: %w", err) is the
// norm throughout this module.
var (
	// ErrNotPaused is returned by Resume when the pipeline is not
	// currently in a paused state.
	ErrNotPaused = errors.New("pipeline: run is not paused")

	// ErrNotResumableAfterBreakout is returned by ResumeFromBreakout when
	// IsResumableAfterBreakout does not hold.
	ErrNotResumableAfterBreakout = errors.New("pipeline: run is not resumable after breakout")

	// ErrBudgetExceeded is returned when the cost tracker reports the
	// cumulative cost has crossed the configured budget.
	ErrBudgetExceeded = errors.New("pipeline: budget exceeded")

	// ErrContextOverflow is returned when estimated input plus the
	// minimum output floor exceeds the model's context window.
	ErrContextOverflow = errors.New("pipeline: context window overflow")

	// ErrMissingPrecondition is returned by a stage handler when a
	// required upstream output is absent (e.g. retrieve with no query
	// source available).
	ErrMissingPrecondition = errors.New("pipeline: missing stage precondition")

	// ErrStateLoadFailed is returned by resume operations when the
	// persisted state cannot be loaded or parsed.
	ErrStateLoadFailed = errors.New("pipeline: failed to load persisted state")
)
