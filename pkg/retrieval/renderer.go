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

// Package retrieval hydrates planner-selected artifacts and
// instructions into the AUTO-LOADED CONTEXT block appended to the
// system prompt for one turn.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/planner"
	"github.com/teradata-labs/weft/pkg/types"
)

// Hydration size gates, in estimated tokens.
const (
	hydrateAlwaysNormal     = 2000
	hydrateKeywordNormal    = 5000
	hydrateAlwaysAggressive = 900
	hydrateKeywordAggressiv = 3200

	summaryTrimNormal     = 480
	summaryTrimAggressive = 280
	reasonTrim            = 300

	excerptCharsNormal     = 4000
	excerptCharsAggressive = 1500

	projectSummaryNormal     = 800
	projectSummaryAggressive = 300
)

// hydrationKeywords in a planner reason indicate the full payload is
// about to be used verbatim.
var hydrationKeywords = []string{
	"insert", "include", "verbatim", "quote", "paste", "deliverable",
	"final draft", "document body", "table", "chart data", "appendix",
}

// ArtifactStat records one artifact's rendering outcome for telemetry.
type ArtifactStat struct {
	Key        string `json:"key"`
	Scope      string `json:"scope"`
	Hydrated   bool   `json:"hydrated"`
	Reason     string `json:"reason,omitempty"`
	SizeTokens int    `json:"size_tokens,omitempty"`
	SizeChars  int    `json:"size_chars,omitempty"`
}

// Telemetry summarizes one rendering pass.
type Telemetry struct {
	AggressiveMode    bool           `json:"aggressive_mode"`
	InstructionCount  int            `json:"instruction_count"`
	ArtifactCount     int            `json:"artifact_count"`
	HydratedCount     int            `json:"hydrated_count"`
	StubCount         int            `json:"stub_count"`
	EstTokensHydrated int            `json:"est_tokens_hydrated"`
	EstTokensStubbed  int            `json:"est_tokens_stubbed"`
	ArtifactStats     []ArtifactStat `json:"artifact_stats,omitempty"`
	Instructions      []string       `json:"instructions,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// Result is the rendered section plus its telemetry.
type Result struct {
	Section   string
	Telemetry Telemetry
}

// Renderer renders context plans into prompt sections.
type Renderer struct {
	store  *kvstore.Store
	logger *zap.Logger
}

// New creates a renderer over the artifact store.
func New(store *kvstore.Store, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{store: store, logger: logger}
}

// Render produces the AUTO-LOADED CONTEXT block for a plan. An empty
// section with a reason is returned when there is nothing to load.
func (r *Renderer) Render(ctx context.Context, plan *planner.ContextPlan, projectSummary string, aggressiveMode bool) Result {
	empty := func(reason string) Result {
		return Result{Telemetry: Telemetry{AggressiveMode: aggressiveMode, Reason: reason}}
	}
	if r.store == nil {
		return empty("kv_unavailable")
	}
	if plan == nil || !plan.HasContext() {
		return empty("empty_plan")
	}

	planner.EnforceInvariants(plan)

	var sections []string

	// The project summary leads the block when requested.
	if plan.IncludeProjectSummary && projectSummary != "" {
		limit := projectSummaryNormal
		if aggressiveMode {
			limit = projectSummaryAggressive
		}
		sections = append(sections, "## Project Summary\n"+trimText(projectSummary, limit))
	}

	if len(plan.InstructionTags) > 0 {
		var blocks []string
		for _, tag := range plan.InstructionTags {
			key := kvstore.InstructionKey(tag)
			content, err := r.store.Get(ctx, kvstore.ScopeInstructions, key, kvstore.AsString)
			if err != nil {
				r.logger.Debug("planner requested missing instruction",
					zap.String("tag", tag), zap.Error(err))
				continue
			}
			text, _ := content.(string)
			if text == "" {
				continue
			}
			blocks = append(blocks, fmt.Sprintf("### Instruction: %s\n%s", titleFromTag(tag), text))
		}
		if len(blocks) > 0 {
			sections = append(sections, "## Auto-loaded Instructions\n"+strings.Join(blocks, "\n\n"))
		}
	}

	var stats []ArtifactStat
	if len(plan.Artifacts) > 0 {
		var blocks []string
		for _, selection := range plan.Artifacts {
			block, stat := r.renderArtifact(ctx, selection, aggressiveMode)
			if block != "" {
				blocks = append(blocks, block)
				stats = append(stats, stat)
			}
		}
		if len(blocks) > 0 {
			sections = append(sections, "## Cached Artifacts\n"+strings.Join(blocks, "\n\n"))
		}
	}

	if len(sections) == 0 {
		return empty("no_sections_generated")
	}

	telemetry := Telemetry{
		AggressiveMode:   aggressiveMode,
		InstructionCount: len(plan.InstructionTags),
		ArtifactCount:    len(plan.Artifacts),
		ArtifactStats:    stats,
		Instructions:     plan.InstructionTags,
	}
	for _, stat := range stats {
		if stat.Hydrated {
			telemetry.HydratedCount++
			telemetry.EstTokensHydrated += stat.SizeTokens
		} else {
			telemetry.StubCount++
			telemetry.EstTokensStubbed += stat.SizeTokens
		}
	}

	plannerNote := ""
	if plan.Reasoning != "" {
		plannerNote = "Planner rationale: " + plan.Reasoning + "\n"
	}
	section := "\n\n# AUTO-LOADED CONTEXT\n" + plannerNote + strings.Join(sections, "\n")
	return Result{Section: section, Telemetry: telemetry}
}

// renderArtifact renders one selected artifact as a stub or a hydrated
// block, and reports its stat record.
func (r *Renderer) renderArtifact(ctx context.Context, selection planner.ArtifactSelection, aggressive bool) (string, ArtifactStat) {
	scope := selection.Scope
	if scope == "" {
		scope = kvstore.ScopeArtifacts
	}

	var metadata map[string]any
	info, err := r.store.GetMetadata(ctx, scope, selection.Key)
	if err != nil {
		r.logger.Debug("failed to load artifact metadata",
			zap.String("key", selection.Key), zap.Error(err))
	} else {
		metadata = info.Metadata
	}

	sizeTokens := artifactSizeTokens(metadata)
	sizeChars := intFromAny(metadata["size_chars"])
	hydrate := shouldHydrate(metadata, selection.Reason, aggressive)

	stat := ArtifactStat{
		Key:        selection.Key,
		Scope:      scope,
		Hydrated:   hydrate,
		Reason:     selection.Reason,
		SizeTokens: sizeTokens,
		SizeChars:  sizeChars,
	}

	reasonLine := ""
	if selection.Reason != "" {
		reasonLine = "\nReason: " + selection.Reason
	}
	stub := formatStub(metadata, selection.Reason, aggressive)
	header := fmt.Sprintf("### Cached Artifact: %s%s\n%s", selection.Key, reasonLine, stub)

	if !hydrate {
		return header, stat
	}

	payload, err := r.store.Get(ctx, scope, selection.Key, kvstore.AsAuto)
	if err != nil {
		r.logger.Debug("failed to hydrate artifact",
			zap.String("key", selection.Key), zap.Error(err))
		stat.Hydrated = false
		return header + "\n- note: full artifact unavailable (cache miss)", stat
	}

	maxChars := excerptCharsNormal
	if aggressive {
		maxChars = excerptCharsAggressive
	}
	return header + "\n\nHydrated excerpt:\n" + serializeExcerpt(payload, maxChars), stat
}

// shouldHydrate decides hydrate-in-full vs stub-only per the size gates
// and keyword triggers.
func shouldHydrate(metadata map[string]any, reason string, aggressive bool) bool {
	if forcedFor, _ := metadata["forced_for_tool"].(string); forcedFor == "create_document" {
		return true
	}

	sizeTokens := artifactSizeTokens(metadata)
	keyword := reasonHasKeyword(reason)

	if sizeTokens == 0 {
		return keyword && !aggressive
	}
	if aggressive {
		if sizeTokens <= hydrateAlwaysAggressive {
			return true
		}
		return keyword && sizeTokens <= hydrateKeywordAggressiv
	}
	if sizeTokens <= hydrateAlwaysNormal {
		return true
	}
	return keyword && sizeTokens <= hydrateKeywordNormal
}

func reasonHasKeyword(reason string) bool {
	lower := strings.ToLower(reason)
	for _, keyword := range hydrationKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func artifactSizeTokens(metadata map[string]any) int {
	if tokens := intFromAny(metadata["size_tokens"]); tokens > 0 {
		return tokens
	}
	if chars := intFromAny(metadata["size_chars"]); chars > 0 {
		tokens := chars / 4
		if tokens < 1 {
			tokens = 1
		}
		return tokens
	}
	return 0
}

// formatStub renders the non-hydrated artifact view: summary, reason,
// sizing, cache timing, and the standing note about on-demand slices.
func formatStub(metadata map[string]any, reason string, aggressive bool) string {
	summary, _ := metadata["summary"].(string)
	if summary == "" {
		summary, _ = metadata["preview"].(string)
	}
	limit := summaryTrimNormal
	if aggressive {
		limit = summaryTrimAggressive
	}
	summaryLine := "No summary stored."
	if summary != "" {
		summaryLine = trimText(summary, limit)
	}

	lines := []string{"- summary: " + summaryLine}
	if reason != "" {
		lines = append(lines, "- planner_reason: "+trimText(reason, reasonTrim))
	}
	if sizeTokens := intFromAny(metadata["size_tokens"]); sizeTokens > 0 {
		lines = append(lines, fmt.Sprintf("- est_tokens: %d", sizeTokens))
	}
	if sizeChars := intFromAny(metadata["size_chars"]); sizeChars > 0 {
		lines = append(lines, fmt.Sprintf("- size_chars: %d", sizeChars))
	}
	if cachedAt, _ := metadata["cached_at"].(string); cachedAt != "" {
		lines = append(lines, "- cached_at: "+cachedAt)
	}
	if forcedFor, _ := metadata["forced_for_tool"].(string); forcedFor != "" {
		lines = append(lines, "- origin_tool: "+forcedFor)
	}
	lines = append(lines, "- note: Full artifact stays cached; planner hydrates the needed slices automatically. No get_artifact tool calls are required.")
	return strings.Join(lines, "\n")
}

// serializeExcerpt renders a payload for inline display, truncated to
// the mode's character cap.
func serializeExcerpt(value any, maxChars int) string {
	var rendered string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		rendered = v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			rendered = types.ValueString(v)
		} else {
			rendered = string(data)
		}
	}
	if len(rendered) > maxChars {
		return rendered[:maxChars] + "...\n[truncated]"
	}
	return rendered
}

func trimText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "\n...[truncated]"
}

func titleFromTag(tag string) string {
	words := strings.Split(tag, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
