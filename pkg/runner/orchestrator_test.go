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

package runner

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/threads"
	"github.com/teradata-labs/weft/pkg/types"
)

// scriptedProvider returns queued outcomes, one per call.
type scriptedProvider struct {
	mu       sync.Mutex
	outcomes []scriptedOutcome
	calls    int
	models   []string
}

type scriptedOutcome struct {
	text string
	err  error
}

func (p *scriptedProvider) Chat(_ context.Context, req llm.Request) (*llm.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.models = append(p.models, req.Model)
	if len(p.outcomes) == 0 {
		return &llm.Result{Text: "default response"}, nil
	}
	outcome := p.outcomes[0]
	p.outcomes = p.outcomes[1:]
	if outcome.err != nil {
		return nil, outcome.err
	}
	return &llm.Result{Text: outcome.text, Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20}}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ llm.Request) (llm.Stream, error) {
	return nil, errors.New("streaming not scripted")
}

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, event := range s.events {
		out[i] = event.Type
	}
	return out
}

type fixture struct {
	orchestrator *Orchestrator
	store        *threads.SQLiteStore
	memory       *memstore.Store
	kv           *kvstore.Store
	provider     *scriptedProvider
	sink         *recordingSink
	threadID     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	memory, err := memstore.Open(filepath.Join(dir, ".aga_mem"), nil)
	require.NoError(t, err)
	store, err := threads.OpenSQLite(filepath.Join(dir, "threads.db"), memory, nil)
	require.NoError(t, err)
	kv := kvstore.New(sandbox.NewLocalFS(), kvstore.Options{Workspace: dir, SeedInstructions: true})
	provider := &scriptedProvider{}
	sink := &recordingSink{}

	orchestrator := New(Config{
		Store:         store,
		Memory:        memory,
		KV:            kv,
		Provider:      provider,
		FallbackModel: "claude-haiku-4-5",
		Sink:          sink,
	})

	thread, err := store.CreateThread(context.Background(), "proj", "acct")
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		memory.Close()
	})
	return &fixture{
		orchestrator: orchestrator,
		store:        store,
		memory:       memory,
		kv:           kv,
		provider:     provider,
		sink:         sink,
		threadID:     thread.ThreadID,
	}
}

func (f *fixture) addUserMessage(t *testing.T, content string) {
	t.Helper()
	_, err := f.store.InsertMessage(context.Background(), f.threadID, "user",
		map[string]any{"role": "user", "content": content}, true, threads.InsertOptions{})
	require.NoError(t, err)
}

func turnOptions(threadID string) TurnOptions {
	return TurnOptions{
		ThreadID:     threadID,
		SystemPrompt: types.Message{Role: types.RoleSystem, Content: "You are a helpful agent."},
		Model:        "claude-sonnet-4-5",
	}
}

func TestRunTurnHappyPath(t *testing.T) {
	f := newFixture(t)
	f.addUserMessage(t, "help me build a slide deck")
	f.provider.outcomes = []scriptedOutcome{{text: "Here is your deck outline."}}

	result, err := f.orchestrator.RunTurn(context.Background(), turnOptions(f.threadID))
	require.NoError(t, err)
	assert.Equal(t, "Here is your deck outline.", result.Text)
	assert.Equal(t, "claude-sonnet-4-5", result.ModelUsed)
	require.NotNil(t, result.CompressionReport)
	require.NotNil(t, result.CacheDiagnostics)

	// The assistant turn is persisted.
	messages, err := f.store.ListLLMMessages(context.Background(), f.threadID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, types.RoleAssistant, messages[1].Role)

	// Event stream framing.
	eventTypes := f.sink.eventTypes()
	assert.Contains(t, eventTypes, EventStatus)
	assert.Contains(t, eventTypes, EventAssistant)
	assert.Contains(t, eventTypes, EventFinish)
	assert.Equal(t, EventThreadRunEnd, eventTypes[len(eventTypes)-1])
}

func TestRunTurnRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	f.addUserMessage(t, "hello")
	f.provider.outcomes = []scriptedOutcome{
		{err: errors.New("connection reset")},
		{text: "recovered"},
	}

	result, err := f.orchestrator.RunTurn(context.Background(), turnOptions(f.threadID))
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 2, f.provider.calls)
}

func TestRunTurnBenignErrorNoFallback(t *testing.T) {
	f := newFixture(t)
	f.addUserMessage(t, "hello")
	f.provider.outcomes = []scriptedOutcome{{err: errors.New("request cancelled by user")}}

	_, err := f.orchestrator.RunTurn(context.Background(), turnOptions(f.threadID))
	require.Error(t, err)
	assert.Equal(t, 1, f.provider.calls, "benign errors never retry or fall back")
	for _, model := range f.provider.models {
		assert.NotEqual(t, "claude-haiku-4-5", model)
	}
}

func TestRunTurnRateLimitFallsBack(t *testing.T) {
	f := newFixture(t)
	f.addUserMessage(t, "hello")
	f.provider.outcomes = []scriptedOutcome{
		{err: errors.New("429 too many requests")},
		{text: "served by fallback"},
	}

	result, err := f.orchestrator.RunTurn(context.Background(), turnOptions(f.threadID))
	require.NoError(t, err)
	assert.Equal(t, "served by fallback", result.Text)
	assert.Equal(t, "claude-haiku-4-5", result.ModelUsed)
	assert.Equal(t, "claude-haiku-4-5", f.provider.models[len(f.provider.models)-1])
}

func TestRunTurnPrefetchesMatchingMemories(t *testing.T) {
	f := newFixture(t)

	// A large tool output whose title shares a token with the request.
	payload := strings.Repeat("benchmark results row\n", 1000)
	_, err := f.store.InsertMessage(context.Background(), f.threadID, "tool", payload, true,
		threads.InsertOptions{Metadata: map[string]any{"tool_name": "benchmark_tool"}})
	require.NoError(t, err)
	f.addUserMessage(t, "summarize the benchmark_tool output please")
	f.provider.outcomes = []scriptedOutcome{{text: "summary"}}

	result, err := f.orchestrator.RunTurn(context.Background(), turnOptions(f.threadID))
	require.NoError(t, err)
	assert.Equal(t, 1, result.PrefetchedSlices)
}

func TestUsageTrackerWindow(t *testing.T) {
	tracker := NewUsageTracker()
	totals := tracker.Record(llm.Usage{PromptTokens: 100, CacheReadInputTokens: 60})
	assert.Equal(t, 1, totals.Events)
	assert.Equal(t, 100, totals.Prompt)

	totals = tracker.Record(llm.Usage{PromptTokens: 50, CompletionTokens: 10})
	assert.Equal(t, 2, totals.Events)
	assert.Equal(t, 150, totals.Prompt)
	assert.Equal(t, 60, totals.CacheRead)
	assert.Equal(t, 10, totals.Completion)
}
