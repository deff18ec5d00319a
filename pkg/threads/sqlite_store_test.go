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

package threads

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/types"
)

func newTestStore(t *testing.T) (*SQLiteStore, *memstore.Store) {
	t.Helper()
	dir := t.TempDir()
	memory, err := memstore.Open(filepath.Join(dir, ".aga_mem"), nil)
	require.NoError(t, err)
	store, err := OpenSQLite(filepath.Join(dir, "threads.db"), memory, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		memory.Close()
	})
	return store, memory
}

func TestThreadLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	thread, err := store.CreateThread(ctx, "proj-1", "acct-1")
	require.NoError(t, err)

	got, err := store.GetThread(ctx, thread.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "acct-1", got.AccountID)

	_, err = store.GetThread(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectSandboxDescriptor(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.UpsertProject(ctx, &Project{
		ProjectID: "proj-1",
		Sandbox:   sandbox.Descriptor{ID: "sb-1", SandboxURL: "https://sb.example", Token: "tok"},
	}))

	project, err := store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "sb-1", project.Sandbox.ID)
	assert.Equal(t, "https://sb.example", project.Sandbox.SandboxURL)
}

func TestMessagesOrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	thread, err := store.CreateThread(ctx, "", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.InsertMessage(ctx, thread.ThreadID, "user",
			map[string]any{"role": "user", "content": "message"}, true, InsertOptions{})
		require.NoError(t, err)
	}
	// Non-LLM messages are excluded from the listing.
	_, err = store.InsertMessage(ctx, thread.ThreadID, "status",
		map[string]any{"status": "running"}, false, InsertOptions{})
	require.NoError(t, err)

	messages, err := store.ListLLMMessages(ctx, thread.ThreadID)
	require.NoError(t, err)
	assert.Len(t, messages, 5)
	for _, msg := range messages {
		assert.Equal(t, types.RoleUser, msg.Role)
		assert.NotEmpty(t, msg.MessageID)
	}
}

func TestLargeToolOutputOffloadedOnInsert(t *testing.T) {
	ctx := context.Background()
	store, memory := newTestStore(t)

	thread, err := store.CreateThread(ctx, "", "")
	require.NoError(t, err)

	payload := strings.Repeat("result line\n", 2000) // ~24KB, past the 6KB threshold
	record, err := store.InsertMessage(ctx, thread.ThreadID, "tool", payload, true, InsertOptions{
		Metadata: map[string]any{"tool_name": "web_search"},
	})
	require.NoError(t, err)

	content, ok := record.Content.(map[string]any)
	require.True(t, ok, "offloaded content becomes a summary envelope")
	summary, _ := content["content"].(string)
	assert.LessOrEqual(t, len(summary), memstore.SummaryChars+60)
	assert.Contains(t, summary, "[see memory_refs for full content]")
	assert.EqualValues(t, len(payload)/4, content["tokens_saved"])

	refs, ok := content["memory_refs"].([]any)
	require.True(t, ok)
	require.Len(t, refs, 1)
	ref := refs[0].(map[string]any)

	// The full payload is retrievable from the memory store.
	memoryID := ref["id"].(string)
	slice, err := memory.GetSlice(memoryID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "result line\nresult line", slice)

	// Web-flavored tools classify as WEB_SCRAPE.
	rec, err := memory.GetMetadata(memoryID)
	require.NoError(t, err)
	assert.Equal(t, memstore.TypeWebScrape, rec.Type)

	// The listed message carries the pointer as metadata.
	messages, err := store.ListLLMMessages(ctx, thread.ThreadID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NotNil(t, messages[0].MemoryRefs())
	assert.Equal(t, memoryID, messages[0].MemoryRefs()[0].ID)
}

func TestSmallToolOutputStaysInline(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	thread, err := store.CreateThread(ctx, "", "")
	require.NoError(t, err)

	record, err := store.InsertMessage(ctx, thread.ThreadID, "tool", "small result", true, InsertOptions{
		Metadata: map[string]any{"tool_name": "ls"},
	})
	require.NoError(t, err)
	assert.Equal(t, "small result", record.Content)
}
