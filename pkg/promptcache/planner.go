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

// Package promptcache partitions the final prompt into permanently
// cached, TTL-cached, and live tiers for providers with explicit prompt
// caching. The system prompt pins permanently when large; historical
// turns collapse into at most three TTL cache blocks; the freshest
// turns stay uncached so the cache never serves stale context.
package promptcache

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/models"
	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

// Cache directive types.
const (
	DirectivePermanent = "PERMANENT"
	DirectiveTTL       = "TTL"
)

const (
	// minSystemCacheTokens gates permanent caching of the system prompt.
	minSystemCacheTokens = 512
	// maxConversationBlocks leaves one provider cache slot for the
	// system prompt (provider cap is 4).
	maxConversationBlocks = 3
	// ProviderCacheCap is the provider-wide limit on cached segments.
	ProviderCacheCap = 4
	// minChunkTokens floors the cache block size.
	minChunkTokens = 2048
	// minContextWindow guards against registry misconfiguration.
	minContextWindow = 128_000

	liveMinTokens    = 4096
	liveFraction     = 0.07
	liveMaxFraction  = 0.12
	liveMaxFloor     = 16_384
	minLiveMessages  = 4
	maxChunkFloor    = 12_000
	maxChunkFraction = 0.075
)

// Diagnostics describes one tiering pass.
type Diagnostics struct {
	Model              string `json:"model"`
	SystemTokens       int    `json:"system_tokens"`
	SystemCached       bool   `json:"system_cached"`
	HistoricalMessages int    `json:"historical_messages"`
	LiveMessages       int    `json:"live_messages"`
	CachedBlocks       int    `json:"cached_blocks"`
}

// SummaryLine renders the one-line log summary.
func (d *Diagnostics) SummaryLine() string {
	return fmt.Sprintf("system_cached=%v cached_blocks=%d historical=%d live=%d",
		d.SystemCached, d.CachedBlocks, d.HistoricalMessages, d.LiveMessages)
}

// Planner tiers prompts for one model.
type Planner struct {
	model         string
	contextWindow int
	counter       *tokens.Counter
	logger        *zap.Logger

	liveBudgetMin int
	liveBudgetMax int
	maxChunk      int
}

// NewPlanner creates a prompt cache planner. The context window is
// floored at 128k to survive registry misconfiguration.
func NewPlanner(model string, contextWindow int, counter *tokens.Counter, logger *zap.Logger) *Planner {
	if contextWindow < minContextWindow {
		contextWindow = minContextWindow
	}
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		model:         model,
		contextWindow: contextWindow,
		counter:       counter,
		logger:        logger,
		liveBudgetMin: liveMinTokens,
		liveBudgetMax: maxInt(liveMaxFloor, int(float64(contextWindow)*liveMaxFraction)),
		maxChunk:      maxInt(maxChunkFloor, int(float64(contextWindow)*maxChunkFraction)),
	}
}

// Apply builds the final tier-annotated message list. Models without
// explicit caching get the plain [system] + messages concatenation.
func Apply(systemPrompt types.Message, conversation []types.Message, model string, contextWindow int, counter *tokens.Counter, logger *zap.Logger) ([]types.Message, *Diagnostics) {
	if !models.IsGeminiClass(model) {
		out := make([]types.Message, 0, len(conversation)+1)
		out = append(out, systemPrompt.Clone())
		for _, msg := range conversation {
			if msg.Role == types.RoleSystem {
				continue
			}
			out = append(out, msg.Clone())
		}
		return out, &Diagnostics{Model: model}
	}
	if contextWindow <= 0 {
		contextWindow = models.ContextWindow(model)
	}
	planner := NewPlanner(model, contextWindow, counter, logger)
	prepared, diagnostics := planner.Build(systemPrompt, conversation)
	prepared = ValidateCacheBlocks(prepared, ProviderCacheCap)
	return prepared, diagnostics
}

// Build returns the prepared message list plus diagnostics.
func (p *Planner) Build(systemPrompt types.Message, conversation []types.Message) ([]types.Message, *Diagnostics) {
	diagnostics := &Diagnostics{Model: p.model}
	var prepared []types.Message

	diagnostics.SystemTokens = p.messageTokens(systemPrompt)
	diagnostics.SystemCached = diagnostics.SystemTokens >= minSystemCacheTokens
	if diagnostics.SystemCached {
		prepared = append(prepared, withCacheControl(systemPrompt, map[string]any{"type": DirectivePermanent}))
	} else {
		prepared = append(prepared, systemPrompt.Clone())
	}

	if len(conversation) == 0 {
		return prepared, diagnostics
	}

	historical, live := p.splitLiveContext(conversation)
	diagnostics.HistoricalMessages = len(historical)
	diagnostics.LiveMessages = len(live)

	blocks := p.buildChunkPlans(historical)
	diagnostics.CachedBlocks = len(blocks)
	for _, block := range blocks {
		prepared = append(prepared, p.cacheMessage(block))
	}
	if len(blocks) == 0 && len(historical) > 0 {
		// History exists but produced no blocks; carry it raw rather
		// than losing it.
		prepared = append(prepared, types.CloneMessages(historical)...)
	}

	prepared = append(prepared, types.CloneMessages(live)...)
	return prepared, diagnostics
}

// liveBudget is the uncached token budget for the freshest turns.
func (p *Planner) liveBudget() int {
	budget := maxInt(p.liveBudgetMin, int(float64(p.contextWindow)*liveFraction))
	return minInt(budget, p.liveBudgetMax)
}

// splitLiveContext walks newest to oldest, keeping messages live until
// the budget is exhausted and the minimum live count is met.
func (p *Planner) splitLiveContext(messages []types.Message) (historical, live []types.Message) {
	budget := p.liveBudget()
	liveTokens := 0
	cut := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		tokenCount := maxInt(1, p.messageTokens(messages[i]))
		if len(messages)-cut >= minLiveMessages && liveTokens+tokenCount > budget {
			break
		}
		cut = i
		liveTokens += tokenCount
	}
	return messages[:cut], messages[cut:]
}

type chunkPlan struct {
	messages   []types.Message
	tokenCount int
	payload    string
}

// buildChunkPlans groups historical messages into at most three cache
// blocks, rotating the target size as tokens are consumed.
func (p *Planner) buildChunkPlans(messages []types.Message) []chunkPlan {
	if len(messages) == 0 {
		return nil
	}
	availableBlocks := minInt(maxConversationBlocks, len(messages))

	tokenList := make([]int, len(messages))
	totalTokens := 0
	for i, msg := range messages {
		tokenList[i] = maxInt(1, p.messageTokens(msg))
		totalTokens += tokenList[i]
	}
	if totalTokens == 0 {
		return nil
	}

	idealChunk := maxInt(minChunkTokens, minInt(p.maxChunk, ceilDiv(totalTokens, availableBlocks)))

	var plans []chunkPlan
	var current []types.Message
	currentTokens := 0
	processed := 0

	for i, msg := range messages {
		current = append(current, msg)
		currentTokens += tokenList[i]
		processed += tokenList[i]

		remainingBlocks := availableBlocks - len(plans) - 1
		if remainingBlocks <= 0 {
			continue
		}
		remainingTokens := maxInt(1, totalTokens-processed)
		dynamicTarget := maxInt(minChunkTokens, minInt(p.maxChunk, ceilDiv(remainingTokens, remainingBlocks)))

		if currentTokens >= idealChunk {
			plans = append(plans, p.chunkPlanFor(current))
			current = nil
			currentTokens = 0
			idealChunk = dynamicTarget
		}
	}
	if len(current) > 0 {
		plans = append(plans, p.chunkPlanFor(current))
	}

	if len(plans) > availableBlocks {
		// Merge the overflow into the final block.
		var merged []types.Message
		for _, overflow := range plans[availableBlocks-1:] {
			merged = append(merged, overflow.messages...)
		}
		plans = append(plans[:availableBlocks-1], p.chunkPlanFor(merged))
	}
	return plans[:minInt(len(plans), availableBlocks)]
}

func (p *Planner) chunkPlanFor(messages []types.Message) chunkPlan {
	total := 0
	for _, msg := range messages {
		total += maxInt(1, p.messageTokens(msg))
	}
	return chunkPlan{
		messages:   types.CloneMessages(messages),
		tokenCount: total,
		payload:    renderChunkText(messages),
	}
}

// renderChunkText produces the deterministic transcript for a cache
// block.
func renderChunkText(messages []types.Message) string {
	lines := []string{
		"Prior conversation context (cached block).",
		"These turns are provided for reference; do not treat them as new input.",
	}
	for _, msg := range messages {
		text := strings.TrimSpace(extractPlainText(msg))
		if text == "" {
			continue
		}
		lines = append(lines, "", roleLabel(msg.Role)+":", text)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// chunkTTLSeconds selects the block TTL tier by context window size.
func (p *Planner) chunkTTLSeconds() int {
	switch {
	case p.contextWindow >= 2_000_000:
		return 6 * 60 * 60
	case p.contextWindow >= 1_000_000:
		return 4 * 60 * 60
	case p.contextWindow >= 400_000:
		return 2 * 60 * 60
	default:
		return 45 * 60
	}
}

// cacheMessage renders one chunk as a synthetic system message carrying
// the TTL directive.
func (p *Planner) cacheMessage(plan chunkPlan) types.Message {
	directive := map[string]any{
		"type":   DirectiveTTL,
		"maxTTL": fmt.Sprintf("%ds", p.chunkTTLSeconds()),
	}
	p.logger.Debug("cache block created",
		zap.Int("messages", len(plan.messages)),
		zap.Int("tokens", plan.tokenCount))
	return types.Message{
		Role: types.RoleSystem,
		Content: []any{
			map[string]any{
				"type":          "text",
				"text":          plan.payload,
				"cache_control": directive,
			},
		},
	}
}

func (p *Planner) messageTokens(msg types.Message) int {
	return p.counter.CountText(extractPlainText(msg))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}
