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

package promptcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

// wordMessage builds a message of roughly tokenCount tokens.
func wordMessage(role types.Role, tokenCount int) types.Message {
	return types.Message{Role: role, Content: strings.TrimSpace(strings.Repeat("word ", tokenCount))}
}

func systemPrompt(tokenCount int) types.Message {
	return wordMessage(types.RoleSystem, tokenCount)
}

func conversation(count, tokensEach int) []types.Message {
	out := make([]types.Message, count)
	for i := range out {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out[i] = wordMessage(role, tokensEach)
	}
	return out
}

func cacheDirective(t *testing.T, msg types.Message) map[string]any {
	t.Helper()
	parts, ok := msg.Content.([]any)
	require.True(t, ok)
	for _, part := range parts {
		obj, ok := part.(map[string]any)
		require.True(t, ok)
		if directive, ok := obj["cache_control"].(map[string]any); ok {
			return directive
		}
	}
	t.Fatal("no cache_control directive found")
	return nil
}

func TestPassThroughForNonCachingProvider(t *testing.T) {
	system := systemPrompt(2000)
	conv := conversation(10, 100)

	out, diag := Apply(system, conv, "claude-sonnet-4-5", 200_000, nil, nil)
	require.Len(t, out, 11)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	for _, msg := range out {
		assert.False(t, HasCacheControl(msg))
	}
	assert.Zero(t, diag.CachedBlocks)
}

// A 2000-token system prompt with 50 conversation messages totaling
// ~40k tokens on a Gemini-class 1M window.
func TestGeminiTieringScenario(t *testing.T) {
	system := systemPrompt(2000)
	conv := conversation(50, 800)

	out, diag := Apply(system, conv, "gemini-2.5-flash", 1_000_000, nil, nil)
	require.NotEmpty(t, out)

	// System prompt leads and is permanently cached.
	assert.Equal(t, types.RoleSystem, out[0].Role)
	require.True(t, HasCacheControl(out[0]))
	assert.Equal(t, DirectivePermanent, cacheDirective(t, out[0])["type"])

	// Every conversation cache block is a system-role TTL block at the
	// 1M tier (4h).
	counter := tokens.Default()
	liveTokens := 0
	liveCount := 0
	cachedTotal := 0
	for _, msg := range out {
		if HasCacheControl(msg) {
			cachedTotal++
			directive := cacheDirective(t, msg)
			if directive["type"] == DirectiveTTL {
				assert.Equal(t, types.RoleSystem, msg.Role)
				assert.Equal(t, "14400s", directive["maxTTL"])
			}
			continue
		}
		if msg.Role != types.RoleSystem {
			liveCount++
			liveTokens += counter.CountText(extractPlainText(msg))
		}
	}

	assert.LessOrEqual(t, diag.CachedBlocks, 3)
	assert.LessOrEqual(t, cachedTotal, ProviderCacheCap)
	assert.GreaterOrEqual(t, liveCount, 4, "at least the last four turns stay live")
	assert.LessOrEqual(t, liveTokens, 120_000, "live budget cap for a 1M window")

	// The freshest turns come last and uncompressed.
	last := out[len(out)-1]
	assert.False(t, HasCacheControl(last))
	assert.Equal(t, conv[len(conv)-1].Content, last.Content)
}

func TestLargeHistoryProducesCacheBlocks(t *testing.T) {
	system := systemPrompt(2000)
	conv := conversation(200, 800) // ~160k tokens, well past the live budget

	out, diag := Apply(system, conv, "gemini-2.5-flash", 1_000_000, nil, nil)

	assert.Positive(t, diag.CachedBlocks, "history beyond the live budget collapses into blocks")
	assert.LessOrEqual(t, diag.CachedBlocks, 3)
	assert.GreaterOrEqual(t, diag.LiveMessages, 4)

	ttlBlocks := 0
	for _, msg := range out {
		if HasCacheControl(msg) && cacheDirective(t, msg)["type"] == DirectiveTTL {
			ttlBlocks++
			text := extractPlainText(msg)
			assert.True(t, strings.HasPrefix(text, "Prior conversation context (cached block)."))
		}
	}
	assert.Equal(t, diag.CachedBlocks, ttlBlocks)
}

// Cache cap: cache_control-bearing messages never exceed 4.
func TestCacheCapInvariant(t *testing.T) {
	for _, count := range []int{0, 1, 10, 50, 200, 400} {
		system := systemPrompt(3000)
		conv := conversation(count, 500)
		out, _ := Apply(system, conv, "gemini-2.5-flash", 1_000_000, nil, nil)

		cached := 0
		for _, msg := range out {
			if HasCacheControl(msg) {
				cached++
			}
		}
		assert.LessOrEqual(t, cached, ProviderCacheCap, "count=%d", count)
	}
}

// Live-budget monotonicity: a bigger context window never shrinks the
// live message count.
func TestLiveBudgetMonotonicity(t *testing.T) {
	conv := conversation(120, 800)
	windows := []int{200_000, 400_000, 1_000_000, 2_000_000}

	previous := -1
	for _, window := range windows {
		planner := NewPlanner("gemini-2.5-flash", window, nil, nil)
		_, live := planner.splitLiveContext(conv)
		assert.GreaterOrEqual(t, len(live), previous,
			"window %d must not shrink live context", window)
		previous = len(live)
	}
}

func TestSmallSystemPromptNotCached(t *testing.T) {
	system := systemPrompt(100) // below the 512-token gate
	conv := conversation(6, 50)

	out, diag := Apply(system, conv, "gemini-2.5-flash", 1_000_000, nil, nil)
	assert.False(t, diag.SystemCached)
	assert.False(t, HasCacheControl(out[0]))
}

func TestTTLTiers(t *testing.T) {
	cases := []struct {
		window int
		want   int
	}{
		{2_000_000, 6 * 60 * 60},
		{1_000_000, 4 * 60 * 60},
		{400_000, 2 * 60 * 60},
		{200_000, 45 * 60},
	}
	for _, tc := range cases {
		planner := NewPlanner("gemini-2.5-flash", tc.window, nil, nil)
		assert.Equal(t, tc.want, planner.chunkTTLSeconds(), "window %d", tc.window)
	}
}

func TestValidateCacheBlocksStripsOverflow(t *testing.T) {
	directive := map[string]any{"type": DirectiveTTL, "maxTTL": "2700s"}
	messages := make([]types.Message, 7)
	messages[0] = withCacheControl(systemPrompt(600), map[string]any{"type": DirectivePermanent})
	for i := 1; i < 7; i++ {
		messages[i] = withCacheControl(wordMessage(types.RoleSystem, 50), directive)
	}

	out := ValidateCacheBlocks(messages, 4)
	cached := 0
	for _, msg := range out {
		if HasCacheControl(msg) {
			cached++
		}
	}
	assert.Equal(t, 4, cached)
	assert.True(t, HasCacheControl(out[0]), "the pinned system prompt keeps its slot")
	assert.False(t, HasCacheControl(out[1]), "the oldest conversation blocks lose theirs first")
	assert.False(t, HasCacheControl(out[2]))
}

func TestEmptyConversation(t *testing.T) {
	system := systemPrompt(2000)
	out, diag := Apply(system, nil, "gemini-2.5-flash", 1_000_000, nil, nil)
	require.Len(t, out, 1)
	assert.True(t, diag.SystemCached)
	assert.Zero(t, diag.LiveMessages)
}
