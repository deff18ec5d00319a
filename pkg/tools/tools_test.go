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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
)

func newMemoryFetchRegistry(t *testing.T) (*Registry, *memstore.Store) {
	t.Helper()
	memory, err := memstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { memory.Close() })
	registry := NewRegistry()
	registry.Register(NewMemoryFetchTool(memory))
	return registry, memory
}

func invoke(t *testing.T, registry *Registry, name string, args map[string]any) *Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return registry.Invoke(context.Background(), name, raw)
}

func TestMemoryFetchLineRange(t *testing.T) {
	registry, memory := newMemoryFetchRegistry(t)

	var lines []string
	for i := 1; i <= 300; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	ref, err := memory.PutText(strings.Join(lines, "\n"), memstore.TypeToolOutput, memstore.PutOptions{})
	require.NoError(t, err)

	result := invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": ref.MemoryID, "line_start": 5, "line_end": 7,
	})
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]any)
	assert.Equal(t, "line 5\nline 6\nline 7", output["content"])
}

// Memory slice bounds: over-limit ranges refuse without touching the
// store.
func TestMemoryFetchRefusesLargeLineRange(t *testing.T) {
	registry, memory := newMemoryFetchRegistry(t)

	ref, err := memory.PutText("content", memstore.TypeToolOutput, memstore.PutOptions{})
	require.NoError(t, err)

	result := invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": ref.MemoryID, "line_start": 1, "line_end": 2002,
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "line range too large")

	// Exactly at the limit passes.
	result = invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": ref.MemoryID, "line_start": 1, "line_end": 2000,
	})
	assert.True(t, result.Success, result.Error)
}

func TestMemoryFetchRefusesLargeByteRange(t *testing.T) {
	registry, memory := newMemoryFetchRegistry(t)

	ref, err := memory.PutText(strings.Repeat("x", 200_000), memstore.TypeToolOutput, memstore.PutOptions{})
	require.NoError(t, err)

	result := invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": ref.MemoryID, "byte_offset": 0, "byte_length": 70_000,
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "byte range too large")

	result = invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": ref.MemoryID, "byte_offset": 100, "byte_length": 65_536,
	})
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]any)
	assert.EqualValues(t, 65_536, output["byte_length"])
}

func TestMemoryFetchInvalidRanges(t *testing.T) {
	registry, _ := newMemoryFetchRegistry(t)

	result := invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": "whatever", "line_start": 0, "line_end": 5,
	})
	assert.False(t, result.Success)

	result = invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": "whatever", "line_start": 9, "line_end": 3,
	})
	assert.False(t, result.Success)

	result = invoke(t, registry, "memory_fetch", map[string]any{"memory_id": "whatever"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "line range")
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	registry, _ := newMemoryFetchRegistry(t)

	// Missing required memory_id.
	result := invoke(t, registry, "memory_fetch", map[string]any{"line_start": 1})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid arguments")

	// Wrong argument type.
	result = invoke(t, registry, "memory_fetch", map[string]any{
		"memory_id": "abc", "line_start": "one", "line_end": 5,
	})
	assert.False(t, result.Success)
}

func TestUnknownTool(t *testing.T) {
	registry := NewRegistry()
	result := registry.Invoke(context.Background(), "nope", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown tool")
}

func newKVRegistry(t *testing.T) *Registry {
	t.Helper()
	store := kvstore.New(sandbox.NewLocalFS(), kvstore.Options{Workspace: t.TempDir()})
	registry := NewRegistry()
	RegisterKVCacheTools(registry, store)
	return registry
}

func TestKVCacheToolRoundTrip(t *testing.T) {
	registry := newKVRegistry(t)

	result := invoke(t, registry, "put_artifact", map[string]any{
		"key":       "research_notes",
		"value":     map[string]any{"finding": "relevant"},
		"ttl_hours": 12,
	})
	require.True(t, result.Success, result.Error)

	result = invoke(t, registry, "get_artifact", map[string]any{"key": "research_notes"})
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]any)
	value := output["value"].(map[string]any)
	assert.Equal(t, "relevant", value["finding"])
}

func TestInstructionTools(t *testing.T) {
	registry := newKVRegistry(t)

	result := invoke(t, registry, "put_instruction", map[string]any{
		"tag":     "Data_Cleaning",
		"content": "Always normalize column names first.",
	})
	require.True(t, result.Success, result.Error)

	result = invoke(t, registry, "get_instruction", map[string]any{"tag": "data_cleaning"})
	require.True(t, result.Success, result.Error)
	output := result.Output.(map[string]any)
	assert.Equal(t, "Always normalize column names first.", output["content"])

	result = invoke(t, registry, "list_instructions", nil)
	require.True(t, result.Success, result.Error)
	tags := result.Output.(map[string]any)["tags"].([]string)
	assert.Contains(t, tags, "data_cleaning")
}

func TestProjectSummaryTools(t *testing.T) {
	registry := newKVRegistry(t)

	result := invoke(t, registry, "get_project_summary", nil)
	assert.False(t, result.Success, "no summary stored yet")

	result = invoke(t, registry, "put_project_summary", map[string]any{
		"summary": "Building a migration plan.",
	})
	require.True(t, result.Success, result.Error)

	result = invoke(t, registry, "get_project_summary", nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Building a migration plan.", result.Output.(map[string]any)["summary"])
}

func TestStatsAndPruneTools(t *testing.T) {
	registry := newKVRegistry(t)

	result := invoke(t, registry, "put_artifact", map[string]any{"key": "k", "value": "vvv"})
	require.True(t, result.Success, result.Error)

	result = invoke(t, registry, "get_cache_stats", map[string]any{"scope": "artifacts"})
	require.True(t, result.Success, result.Error)
	stats := result.Output.(map[string]kvstore.ScopeStats)
	assert.Equal(t, 1, stats["artifacts"].TotalKeys)

	result = invoke(t, registry, "prune_cache", nil)
	require.True(t, result.Success, result.Error)
}
