// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package models resolves model names to context windows and provider
// capabilities.
package models

import "strings"

// DefaultContextWindow is assumed when a model is unknown.
const DefaultContextWindow = 128_000

// aliases map shorthand names to canonical ids.
var aliases = map[string]string{
	"flash-lite": "gemini-2.5-flash-lite",
	"flash":      "gemini-2.5-flash",
	"sonnet":     "claude-sonnet-4-5",
	"haiku":      "claude-haiku-4-5",
}

// contextWindows lists known model families by id substring. First match
// wins, so more specific entries come first.
var contextWindows = []struct {
	marker string
	window int
}{
	{"gemini-2.5-pro", 2_000_000},
	{"gemini", 1_000_000},
	{"flash", 1_000_000},
	{"gpt-5", 400_000},
	{"gpt-4.1", 1_000_000},
	{"claude", 200_000},
	{"sonnet", 200_000},
	{"haiku", 200_000},
	{"gpt-4o", 128_000},
}

// Resolve maps a model name to its canonical id.
func Resolve(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[lower]; ok {
		return canonical
	}
	// Provider-prefixed ids like "gemini/gemini-2.5-flash-lite".
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		return lower[idx+1:]
	}
	return lower
}

// ContextWindow returns the model's context window in tokens.
func ContextWindow(name string) int {
	resolved := Resolve(name)
	for _, entry := range contextWindows {
		if strings.Contains(resolved, entry.marker) {
			return entry.window
		}
	}
	return DefaultContextWindow
}

// IsGeminiClass reports whether a model supports explicit prompt cache
// directives (Gemini and flash variants).
func IsGeminiClass(name string) bool {
	resolved := Resolve(name)
	return strings.Contains(resolved, "gemini") || strings.Contains(resolved, "flash")
}
