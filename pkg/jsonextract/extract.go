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

// Package jsonextract pulls a single JSON object out of raw LLM output
// that may wrap it in prose, markdown fences, or trailing commentary.
// Extraction never panics and never returns an error that a caller must
// treat as fatal - failure is signaled by the ok bool, and stage handlers
// are expected to fall back to rawText when extraction fails.
package jsonextract

import (
	"encoding/json"
	"strings"
)

// Extract attempts to locate and parse one JSON object within text.
// It tries, in order: the whole trimmed text; the contents of a fenced
// ```json or ``` code block; the substring between the first "{" and the
// last "}". The first candidate that parses as a JSON object wins.
func Extract(text string) (map[string]any, bool) {
	candidates := candidateSlices(text)
	for _, c := range candidates {
		if obj, ok := tryParseObject(c); ok {
			return obj, true
		}
	}
	return nil, false
}

func candidateSlices(text string) []string {
	trimmed := strings.TrimSpace(text)
	var out []string
	out = append(out, trimmed)

	if fenced, ok := extractFenced(trimmed); ok {
		out = append(out, fenced)
	}

	if braced, ok := extractBraced(trimmed); ok {
		out = append(out, braced)
	}

	return out
}

func extractFenced(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	// Skip an optional language tag (e.g. "json") up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		tag := strings.TrimSpace(rest[:nl])
		if tag != "" && !strings.ContainsAny(tag, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func extractBraced(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func tryParseObject(candidate string) (map[string]any, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// GetString reads a string field from a tolerantly-extracted object,
// defaulting to "".
func GetString(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// GetBool reads a bool field, defaulting to false.
func GetBool(obj map[string]any, key string) bool {
	if obj == nil {
		return false
	}
	b, _ := obj[key].(bool)
	return b
}

// GetSlice reads a []any field, defaulting to nil.
func GetSlice(obj map[string]any, key string) []any {
	if obj == nil {
		return nil
	}
	s, _ := obj[key].([]any)
	return s
}

// GetMap reads a nested map[string]any field, defaulting to nil.
func GetMap(obj map[string]any, key string) map[string]any {
	if obj == nil {
		return nil
	}
	m, _ := obj[key].(map[string]any)
	return m
}
