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
	"encoding/json"
	"io"
	"sync"

	"github.com/kadirpekel/resagent/pkg/orchestrator"
)

// wireEvent is the NDJSON wire shape of one orchestrator.Event.
type wireEvent struct {
	Kind  string         `json:"kind"`
	Stage int            `json:"stage"`
	Data  map[string]any `json:"data,omitempty"`
}

// ndjsonSink writes one JSON object per line per event, flushing
// immediately so a consumer tailing the process sees each event as it
// happens rather than buffered until exit.
type ndjsonSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newNDJSONSink(w io.Writer) *ndjsonSink {
	return &ndjsonSink{enc: json.NewEncoder(w)}
}

func (s *ndjsonSink) Emit(_ context.Context, ev orchestrator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(wireEvent{Kind: string(ev.Kind), Stage: ev.Stage, Data: ev.Data})
}
