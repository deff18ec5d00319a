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

// Package compressor shrinks message lists deterministically so that
// identical inputs compress to identical outputs across requests, which
// keeps downstream prompt caching effective. Compression is role
// targeted: tool results first, then user turns, then assistant turns,
// with recursive threshold halving and a middle-omit fallback.
package compressor

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/models"
	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultTokenThreshold is the starting per-message token threshold;
	// halved on each recursion down to a floor of 1.
	DefaultTokenThreshold = 4096
	// DefaultMaxIterations bounds the recursive tightening.
	DefaultMaxIterations = 5
	// DefaultMaxMessages is the hard middle-out message-count cap.
	DefaultMaxMessages = 320

	omitBatchSize     = 10
	omitMinMessages   = 10
	omitSafetyLimit   = 500
	fallbackMaxTokens = 100_000
)

// Options configures one compression run.
type Options struct {
	// MaxTokens overrides the context-window-derived ceiling.
	MaxTokens *int
	// TokenThreshold is the starting per-message threshold.
	TokenThreshold int
	// MaxIterations is the recursion budget.
	MaxIterations int
	// ActualTotalTokens short-circuits the initial count when the caller
	// already knows it.
	ActualTotalTokens *int
	// SystemPrompt is included in token totals but never compressed.
	SystemPrompt *types.Message
	// PointerMode preserves memory_refs metadata verbatim and never
	// hydrates pointers during compression.
	PointerMode bool
	// MaxMessages overrides the middle-out cap.
	MaxMessages int
}

// Report summarizes one compression run for logs.
type Report struct {
	InitialTokens       int `json:"initial_tokens"`
	FinalTokens         int `json:"final_tokens"`
	InitialMessages     int `json:"initial_messages"`
	FinalMessages       int `json:"final_messages"`
	Iterations          int `json:"iterations"`
	ToolCompressed      int `json:"tool_compressed"`
	UserCompressed      int `json:"user_compressed"`
	AssistantCompressed int `json:"assistant_compressed"`
	OmittedMessages     int `json:"omitted_messages"`
	MiddleOutTrimmed    int `json:"middle_out_trimmed"`
}

// SummaryLine renders the one-line log summary.
func (r *Report) SummaryLine() string {
	return fmt.Sprintf("tokens %d->%d, messages %d->%d, iterations=%d, compressed tool=%d user=%d assistant=%d, omitted=%d, middle_out=%d",
		r.InitialTokens, r.FinalTokens, r.InitialMessages, r.FinalMessages,
		r.Iterations, r.ToolCompressed, r.UserCompressed, r.AssistantCompressed,
		r.OmittedMessages, r.MiddleOutTrimmed)
}

// Compressor is the deterministic message shrinker.
type Compressor struct {
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates a compressor.
func New(counter *tokens.Counter, logger *zap.Logger) *Compressor {
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{counter: counter, logger: logger}
}

// Compress shrinks a message list for the given model. The input slice
// is never mutated; every changed message is a fresh copy.
func (c *Compressor) Compress(messages []types.Message, model string, opts Options) ([]types.Message, *Report) {
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = DefaultTokenThreshold
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}

	maxTokens := c.effectiveMaxTokens(model, opts.MaxTokens)

	report := &Report{InitialMessages: len(messages)}
	result := types.CloneMessages(messages)
	result = c.removeMetaMessages(result)

	total := 0
	if opts.ActualTotalTokens != nil {
		total = *opts.ActualTotalTokens
	} else {
		total = c.totalTokens(result, opts.SystemPrompt)
	}
	report.InitialTokens = total

	// Pointer-carrying messages already hold an offload summary; in
	// pointer mode they pass through untouched so memory_refs survive
	// verbatim.
	guard := func(match func(types.Message) bool) func(types.Message) bool {
		if !opts.PointerMode {
			return match
		}
		return func(msg types.Message) bool {
			return match(msg) && msg.MemoryRefs() == nil
		}
	}

	threshold := opts.TokenThreshold
	iterations := opts.MaxIterations
	for {
		report.Iterations++
		result = c.compressRole(result, guard(isToolResult), threshold, maxTokens, total, &report.ToolCompressed)
		result = c.compressRole(result, guard(isRole(types.RoleUser)), threshold, maxTokens, total, &report.UserCompressed)
		result = c.compressRole(result, guard(isRole(types.RoleAssistant)), threshold, maxTokens, total, &report.AssistantCompressed)

		total = c.totalTokens(result, opts.SystemPrompt)
		if total <= maxTokens {
			break
		}
		iterations--
		if iterations <= 0 {
			c.logger.Warn("compression recursion budget exhausted, omitting messages",
				zap.Int("tokens", total), zap.Int("max_tokens", maxTokens))
			before := len(result)
			result = c.omitFromMiddle(result, maxTokens, opts.SystemPrompt)
			report.OmittedMessages = before - len(result)
			break
		}
		threshold /= 2
		if threshold < 1 {
			threshold = 1
		}
	}

	before := len(result)
	result = middleOut(result, opts.MaxMessages)
	report.MiddleOutTrimmed = before - len(result)

	report.FinalMessages = len(result)
	report.FinalTokens = c.totalTokens(result, opts.SystemPrompt)
	return result, report
}

// effectiveMaxTokens derives the ceiling from the model's context window
// with tiered output reserves, unless the caller pinned one.
func (c *Compressor) effectiveMaxTokens(model string, override *int) int {
	if override != nil && *override > 0 {
		return *override
	}
	window := models.ContextWindow(model)
	switch {
	case window >= 1_000_000:
		return window - 300_000
	case window >= 400_000:
		return window - 64_000
	case window >= 200_000:
		return window - 32_000
	case window >= 100_000:
		return window - 16_000
	default:
		return window - 8_000
	}
}

func (c *Compressor) totalTokens(messages []types.Message, systemPrompt *types.Message) int {
	total := c.counter.CountMessages(messages)
	if systemPrompt != nil {
		total += c.counter.CountMessage(*systemPrompt)
	}
	return total
}

// removeMetaMessages strips tool_execution arguments from structured
// content. The result stays valid JSON.
func (c *Compressor) removeMetaMessages(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		classified := types.Classify(msg.Content)
		if classified.Kind != types.ContentToolExecution || classified.Object == nil {
			out = append(out, msg)
			continue
		}
		toolExec, ok := classified.Object["tool_execution"].(map[string]any)
		if !ok {
			out = append(out, msg)
			continue
		}
		if _, has := toolExec["arguments"]; !has {
			out = append(out, msg)
			continue
		}
		copied := types.CloneValue(classified.Object).(map[string]any)
		execCopy := copied["tool_execution"].(map[string]any)
		delete(execCopy, "arguments")
		rendered, err := json.Marshal(copied)
		if err != nil {
			out = append(out, msg)
			continue
		}
		next := msg.Clone()
		next.Content = string(rendered)
		out = append(out, next)
	}
	return out
}

func isToolResult(msg types.Message) bool {
	return types.IsToolResult(msg)
}

func isRole(role types.Role) func(types.Message) bool {
	return func(msg types.Message) bool { return msg.Role == role }
}

// compressRole walks newest to oldest over messages matching the
// predicate. The most recent match is middle-truncated generously; older
// matches are head-truncated with an expand-message pointer. Metadata,
// including memory_refs, is never touched.
func (c *Compressor) compressRole(messages []types.Message, match func(types.Message) bool, threshold, maxTokens, totalTokens int, compressed *int) []types.Message {
	if totalTokens <= maxTokens {
		return messages
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)

	seen := 0
	for i := len(out) - 1; i >= 0; i-- {
		msg := out[i]
		if !match(msg) {
			continue
		}
		seen++
		if c.counter.CountMessage(msg) <= threshold {
			continue
		}
		next := msg.Clone()
		if seen > 1 {
			if msg.MessageID == "" {
				c.logger.Warn("message missing message_id, skipping pointer truncation",
					zap.String("role", string(msg.Role)))
				continue
			}
			next.Content = headTruncate(next.Content, next.MessageID, threshold*3)
		} else {
			next.Content = safeTruncate(next.Content, 2*maxTokens)
		}
		if !sameContent(next.Content, msg.Content) {
			*compressed++
		}
		out[i] = next
	}
	return out
}

func sameContent(a, b any) bool {
	return types.ValueString(a) == types.ValueString(b)
}

// omitFromMiddle drops message batches from the center of the list until
// the token total fits. Short lists drop from the earliest half instead.
func (c *Compressor) omitFromMiddle(messages []types.Message, maxTokens int, systemPrompt *types.Message) []types.Message {
	if len(messages) == 0 {
		return messages
	}
	maxAllowed := maxTokens
	if maxAllowed <= 0 {
		maxAllowed = fallbackMaxTokens
	}

	result := messages
	current := c.totalTokens(result, systemPrompt)
	if current <= maxAllowed {
		return result
	}

	for safety := omitSafetyLimit; safety > 0 && current > maxAllowed; safety-- {
		if len(result) <= omitMinMessages {
			c.logger.Warn("cannot omit further",
				zap.Int("messages", len(result)), zap.Int("min", omitMinMessages))
			break
		}
		if len(result) > omitBatchSize*2 {
			middleStart := len(result)/2 - omitBatchSize/2
			middleEnd := middleStart + omitBatchSize
			next := make([]types.Message, 0, len(result)-omitBatchSize)
			next = append(next, result[:middleStart]...)
			next = append(next, result[middleEnd:]...)
			result = next
		} else {
			toRemove := omitBatchSize
			if half := len(result) / 2; toRemove > half {
				toRemove = half
			}
			if toRemove == 0 {
				break
			}
			result = result[toRemove:]
		}
		current = c.totalTokens(result, systemPrompt)
	}
	return result
}

// middleOut enforces the hard message-count cap, keeping an even split
// of head and tail.
func middleOut(messages []types.Message, maxMessages int) []types.Message {
	if len(messages) <= maxMessages {
		return messages
	}
	keepStart := maxMessages / 2
	keepEnd := maxMessages - keepStart
	out := make([]types.Message, 0, maxMessages)
	out = append(out, messages[:keepStart]...)
	out = append(out, messages[len(messages)-keepEnd:]...)
	return out
}
