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

// Package tools exposes the memory-fetch and KV-cache tool surfaces to
// the agent. Tools are a flat mapping from name to a uniform capability
// of schema plus invoke; there is no tool class hierarchy.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Result is a uniform tool outcome.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps a successful output.
func Ok(output any) *Result {
	return &Result{Success: true, Output: output}
}

// Fail wraps a failure message.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// InvokeFunc executes one tool call with decoded arguments.
type InvokeFunc func(ctx context.Context, args map[string]any) *Result

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	// Schema is a JSON Schema object describing the arguments.
	Schema map[string]any
	Invoke InvokeFunc
}

// Registry maps tool names to capabilities. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

// Register adds a tool; the last registration for a name wins.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke validates raw arguments against the tool's schema and runs it.
// Schema violations fail without touching the tool.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return Fail("unknown tool %q", name)
	}
	if len(rawArgs) == 0 || string(rawArgs) == "null" {
		rawArgs = json.RawMessage("{}")
	}

	if tool.Schema != nil {
		schemaLoader := gojsonschema.NewGoLoader(tool.Schema)
		docLoader := gojsonschema.NewBytesLoader(rawArgs)
		validation, err := gojsonschema.Validate(schemaLoader, docLoader)
		if err != nil {
			return Fail("argument validation failed: %v", err)
		}
		if !validation.Valid() {
			var problems []string
			for _, desc := range validation.Errors() {
				problems = append(problems, desc.String())
			}
			return Fail("invalid arguments: %s", strings.Join(problems, "; "))
		}
	}

	var args map[string]any
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return Fail("arguments must be a JSON object: %v", err)
	}
	return tool.Invoke(ctx, args)
}
