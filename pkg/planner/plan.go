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

// Package planner decides, per turn, which cached instruction bundles
// and offloaded artifacts should be hydrated into the next prompt. A
// small LLM makes the call; a deterministic keyword heuristic covers
// every failure mode.
package planner

import "time"

// InstructionCandidate is one instruction bundle offered to the planner.
type InstructionCandidate struct {
	Tag            string         `json:"tag"`
	Description    string         `json:"description"`
	TokensEstimate int            `json:"tokens_estimate,omitempty"`
	LastUpdated    string         `json:"last_updated,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ArtifactCandidate is a scoped artifact entry projected for planner
// consumption.
type ArtifactCandidate struct {
	Key         string         `json:"key"`
	Scope       string         `json:"scope"`
	Description string         `json:"description,omitempty"`
	Preview     string         `json:"preview,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	SizeTokens  int            `json:"size_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ArtifactSelection is one artifact the planner explicitly requested.
type ArtifactSelection struct {
	Key    string `json:"key"`
	Scope  string `json:"scope"`
	Reason string `json:"reason,omitempty"`
}

// ContextPlan is the planner's structured output.
type ContextPlan struct {
	InstructionTags       []string            `json:"instruction_tags"`
	Artifacts             []ArtifactSelection `json:"artifacts"`
	IncludeProjectSummary bool                `json:"include_project_summary"`
	Reasoning             string              `json:"reasoning"`
	RawResponse           map[string]any      `json:"raw_response,omitempty"`
}

// HasContext reports whether the plan selects anything at all.
func (p *ContextPlan) HasContext() bool {
	return len(p.InstructionTags) > 0 || len(p.Artifacts) > 0 || p.IncludeProjectSummary
}
