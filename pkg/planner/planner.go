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

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultMaxInstructions bounds instruction tags per plan.
	DefaultMaxInstructions = 3
	// DefaultMaxArtifacts bounds artifact selections per plan.
	DefaultMaxArtifacts = 3

	plannerTemperature = 0.1
	plannerMaxTokens   = 250

	// FallbackReasoning marks a plan produced by the keyword heuristic.
	FallbackReasoning = "Fallback keyword heuristic"
)

// Inputs carries one planning request.
type Inputs struct {
	UserRequest           string
	InstructionCatalog    []InstructionCandidate
	ArtifactCatalog       []ArtifactCandidate
	ProjectSummaryPreview string
	RecentContextHint     string
	AggressiveMode        bool
}

// Planner selects context for the next turn.
type Planner struct {
	provider        llm.Provider
	model           string
	maxInstructions int
	maxArtifacts    int
	logger          *zap.Logger
}

// Options configures a Planner.
type Options struct {
	Model           string
	MaxInstructions int
	MaxArtifacts    int
	Logger          *zap.Logger
}

// New creates a planner over the given provider. A nil provider always
// takes the deterministic fallback path.
func New(provider llm.Provider, opts Options) *Planner {
	maxInstructions := opts.MaxInstructions
	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}
	maxArtifacts := opts.MaxArtifacts
	if maxArtifacts <= 0 {
		maxArtifacts = DefaultMaxArtifacts
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		provider:        provider,
		model:           opts.Model,
		maxInstructions: maxInstructions,
		maxArtifacts:    maxArtifacts,
		logger:          logger,
	}
}

const plannerSystemPrompt = `You are the context planner. Your primary mission is to keep every turn as token-efficient as possible while still giving the agent the context it truly needs.

Rules:
1. Return *pure JSON* in this shape:
{
  "instructions": [{"tag": "<instruction_tag>", "reason": "<why>"}],
  "artifacts": [{"key": "<artifact_key>", "scope": "<scope>", "reason": "<why>"}],
  "include_project_summary": true|false,
  "reasoning": "short natural language explanation"
}
2. NEVER select more than %d instructions or %d artifacts.
3. Only reference tags/keys that exist in the catalogs provided in the user message.
4. Be ruthless about minimizing tokens: if core instructions already cover the task, don't add anything. For simple tool calls usually zero artifacts and only the relevant instruction is enough. For comprehensive tasks like document or presentation creation, include the specific instruction bundle plus ONLY the artifacts that contain essential prior research.
5. Never include artifacts just because they exist. Each must have a concrete use in the upcoming step.
6. Only include the project summary when strategic planning or continuity is clearly needed.
7. When the payload marks aggressive_mode=true, behave as if the token budget is nearly exhausted: prefer referencing artifacts via their summaries and only request full hydration when it is absolutely essential.`

// Plan asks the planner model which context to load. Every failure mode
// falls back to the keyword heuristic; Plan never returns an error to
// the orchestrator.
func (p *Planner) Plan(ctx context.Context, in Inputs) *ContextPlan {
	if in.UserRequest == "" {
		return &ContextPlan{}
	}
	if p.provider == nil {
		return p.fallbackPlan(in.UserRequest)
	}

	payload := map[string]any{
		"user_request":            in.UserRequest,
		"recent_context_hint":     in.RecentContextHint,
		"project_summary_preview": trimTo(in.ProjectSummaryPreview, 400),
		"instruction_catalog":     in.InstructionCatalog,
		"artifact_catalog":        in.ArtifactCatalog,
		"aggressive_mode":         in.AggressiveMode,
		"limits": map[string]int{
			"max_instructions": p.maxInstructions,
			"max_artifacts":    p.maxArtifacts,
		},
	}
	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		p.logger.Warn("planner payload marshal failed, using heuristic fallback", zap.Error(err))
		return p.fallbackPlan(in.UserRequest)
	}

	req := llm.Request{
		Model:       p.model,
		Temperature: plannerTemperature,
		MaxTokens:   plannerMaxTokens,
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: fmt.Sprintf(plannerSystemPrompt, p.maxInstructions, p.maxArtifacts)},
			{Role: types.RoleUser, Content: string(payloadJSON)},
		},
	}

	text, err := llm.Complete(ctx, p.provider, req)
	if err != nil || text == "" {
		p.logger.Warn("context planner failed, using heuristic fallback", zap.Error(err))
		return p.fallbackPlan(in.UserRequest)
	}

	planDict, err := parsePlanJSON(text)
	if err != nil {
		p.logger.Warn("context planner returned unparseable output, using heuristic fallback",
			zap.String("output", trimTo(text, 200)), zap.Error(err))
		return p.fallbackPlan(in.UserRequest)
	}

	plan := p.sanitize(planDict, in.InstructionCatalog, in.ArtifactCatalog)
	if !plan.HasContext() {
		if heuristic := p.fallbackPlan(in.UserRequest); heuristic.HasContext() {
			return heuristic
		}
	}
	return plan
}

// sanitize validates the raw plan against the catalogs: unknown tags and
// (scope, key) pairs are dropped, limits enforced, scope defaulted.
func (p *Planner) sanitize(data map[string]any, instructions []InstructionCandidate, artifacts []ArtifactCandidate) *ContextPlan {
	catalogTags := map[string]bool{}
	for _, candidate := range instructions {
		catalogTags[candidate.Tag] = true
	}
	artifactMap := map[[2]string]bool{}
	for _, candidate := range artifacts {
		artifactMap[[2]string{candidate.Scope, candidate.Key}] = true
	}

	plan := &ContextPlan{RawResponse: data}

	if rawInstructions, ok := data["instructions"].([]any); ok {
		for _, entry := range rawInstructions {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			tag, _ := obj["tag"].(string)
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" || !catalogTags[tag] || containsString(plan.InstructionTags, tag) {
				continue
			}
			plan.InstructionTags = append(plan.InstructionTags, tag)
			if len(plan.InstructionTags) >= p.maxInstructions {
				break
			}
		}
	}

	if rawArtifacts, ok := data["artifacts"].([]any); ok {
		for _, entry := range rawArtifacts {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			key, _ := obj["key"].(string)
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			scope, _ := obj["scope"].(string)
			scope = strings.TrimSpace(scope)
			if scope == "" {
				scope = "artifacts"
			}
			if !artifactMap[[2]string{scope, key}] {
				continue
			}
			reason, _ := obj["reason"].(string)
			plan.Artifacts = append(plan.Artifacts, ArtifactSelection{Key: key, Scope: scope, Reason: reason})
			if len(plan.Artifacts) >= p.maxArtifacts {
				break
			}
		}
	}

	if include, ok := data["include_project_summary"].(bool); ok {
		plan.IncludeProjectSummary = include
	}
	if reasoning, ok := data["reasoning"].(string); ok {
		plan.Reasoning = strings.TrimSpace(reasoning)
	}
	return plan
}

// EnforceInvariants applies the post-processing rules: document
// creation always brings visualization instructions along.
func EnforceInvariants(plan *ContextPlan) {
	if containsString(plan.InstructionTags, "document_creation") && !containsString(plan.InstructionTags, "visualization") {
		plan.InstructionTags = append(plan.InstructionTags, "visualization")
	}
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func trimTo(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
