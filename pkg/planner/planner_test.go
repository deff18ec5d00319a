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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/llm"
)

// stubProvider returns a fixed response or error for every call.
type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Chat(_ context.Context, _ llm.Request) (*llm.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Result{Text: s.text}, nil
}

func (s *stubProvider) ChatStream(_ context.Context, _ llm.Request) (llm.Stream, error) {
	return nil, errors.New("not streamed")
}

func testCatalogs() ([]InstructionCandidate, []ArtifactCandidate) {
	instructions := []InstructionCandidate{
		{Tag: "presentation", Description: "slides"},
		{Tag: "document_creation", Description: "documents"},
		{Tag: "research", Description: "research"},
		{Tag: "visualization", Description: "charts"},
	}
	artifacts := []ArtifactCandidate{
		{Key: "search_results_1", Scope: "artifacts", Summary: "prior research"},
		{Key: "summary", Scope: "project", Summary: "project summary"},
	}
	return instructions, artifacts
}

func TestPlanParsesIdealJSON(t *testing.T) {
	instructions, artifacts := testCatalogs()
	provider := &stubProvider{text: `{
		"instructions": [{"tag": "research", "reason": "prior results"}],
		"artifacts": [{"key": "search_results_1", "scope": "artifacts", "reason": "needed verbatim"}],
		"include_project_summary": true,
		"reasoning": "research continuation"
	}`}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "continue the research",
		InstructionCatalog: instructions,
		ArtifactCatalog:    artifacts,
	})
	assert.Equal(t, []string{"research"}, plan.InstructionTags)
	require.Len(t, plan.Artifacts, 1)
	assert.Equal(t, "search_results_1", plan.Artifacts[0].Key)
	assert.True(t, plan.IncludeProjectSummary)
	assert.Equal(t, "research continuation", plan.Reasoning)
}

func TestPlanExtractsJSONFromProse(t *testing.T) {
	instructions, artifacts := testCatalogs()
	provider := &stubProvider{text: `Sure! Here is the plan you asked for:
{"instructions": [{"tag": "presentation", "reason": "deck"}], "artifacts": [], "include_project_summary": false, "reasoning": "slides only"}
Let me know if you need anything else.`}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "build a deck",
		InstructionCatalog: instructions,
		ArtifactCatalog:    artifacts,
	})
	assert.Equal(t, []string{"presentation"}, plan.InstructionTags)
	assert.Equal(t, "slides only", plan.Reasoning)
}

// Non-JSON planner output plus a slide-deck request must yield the
// keyword fallback plan.
func TestPlanFallbackOnParseFailure(t *testing.T) {
	instructions, artifacts := testCatalogs()
	provider := &stubProvider{text: "please see above"}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "help me build a slide deck",
		InstructionCatalog: instructions,
		ArtifactCatalog:    artifacts,
	})
	assert.Equal(t, []string{"presentation"}, plan.InstructionTags)
	assert.Empty(t, plan.Artifacts)
	assert.False(t, plan.IncludeProjectSummary)
	assert.Equal(t, FallbackReasoning, plan.Reasoning)
}

func TestPlanFallbackOnProviderError(t *testing.T) {
	instructions, artifacts := testCatalogs()
	provider := &stubProvider{err: errors.New("timeout")}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "research the market and write a report",
		InstructionCatalog: instructions,
		ArtifactCatalog:    artifacts,
	})
	assert.Equal(t, FallbackReasoning, plan.Reasoning)
	assert.Contains(t, plan.InstructionTags, "document_creation")
	assert.Contains(t, plan.InstructionTags, "research")
}

// Planner subset: emitted tags and artifact references always come from
// the offered catalogs.
func TestPlanSubsetInvariant(t *testing.T) {
	instructions, artifacts := testCatalogs()
	provider := &stubProvider{text: `{
		"instructions": [
			{"tag": "research", "reason": "valid"},
			{"tag": "made_up_tag", "reason": "hallucinated"},
			{"tag": "presentation", "reason": "valid"}
		],
		"artifacts": [
			{"key": "search_results_1", "scope": "artifacts", "reason": "valid"},
			{"key": "ghost_artifact", "scope": "artifacts", "reason": "hallucinated"},
			{"key": "summary", "scope": "task", "reason": "wrong scope"}
		],
		"include_project_summary": false,
		"reasoning": "mixed"
	}`}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "anything",
		InstructionCatalog: instructions,
		ArtifactCatalog:    artifacts,
	})

	catalogTags := map[string]bool{}
	for _, c := range instructions {
		catalogTags[c.Tag] = true
	}
	for _, tag := range plan.InstructionTags {
		assert.True(t, catalogTags[tag], "tag %q must come from the catalog", tag)
	}
	assert.NotContains(t, plan.InstructionTags, "made_up_tag")

	require.Len(t, plan.Artifacts, 1, "only the (scope, key) pair present in the catalog survives")
	assert.Equal(t, "search_results_1", plan.Artifacts[0].Key)
}

func TestPlanLimitsEnforced(t *testing.T) {
	instructions, _ := testCatalogs()
	provider := &stubProvider{text: `{
		"instructions": [
			{"tag": "presentation"}, {"tag": "document_creation"},
			{"tag": "research"}, {"tag": "visualization"}
		],
		"artifacts": [], "include_project_summary": false, "reasoning": "all of them"
	}`}
	p := New(provider, Options{})

	plan := p.Plan(context.Background(), Inputs{
		UserRequest:        "anything",
		InstructionCatalog: instructions,
	})
	assert.Len(t, plan.InstructionTags, DefaultMaxInstructions)
}

// Visualization enforcement: document_creation always pulls
// visualization in.
func TestVisualizationEnforcement(t *testing.T) {
	plan := &ContextPlan{InstructionTags: []string{"document_creation"}}
	EnforceInvariants(plan)
	assert.Contains(t, plan.InstructionTags, "visualization")

	// Already present: no duplicate.
	plan = &ContextPlan{InstructionTags: []string{"document_creation", "visualization"}}
	EnforceInvariants(plan)
	assert.Equal(t, []string{"document_creation", "visualization"}, plan.InstructionTags)

	// Unrelated plans untouched.
	plan = &ContextPlan{InstructionTags: []string{"research"}}
	EnforceInvariants(plan)
	assert.Equal(t, []string{"research"}, plan.InstructionTags)
}

func TestEmptyRequestYieldsEmptyPlan(t *testing.T) {
	p := New(&stubProvider{text: "{}"}, Options{})
	plan := p.Plan(context.Background(), Inputs{UserRequest: ""})
	assert.False(t, plan.HasContext())
}

func TestBalancedBraceExtraction(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`, true},
		{"prose wrapped", `before {"a": {"b": 2}} after`, `{"a": {"b": 2}}`, true},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`, true},
		{"escaped quote", `{"a": "\"}"}`, `{"a": "\"}"}`, true},
		{"no json", `nothing here`, ``, false},
		{"unbalanced", `{"a": 1`, ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := firstBalancedBraceSpan(tc.in)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
