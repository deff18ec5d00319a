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

package offload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/types"
)

func newTestOffloader(t *testing.T) (*Offloader, *kvstore.Store) {
	t.Helper()
	store := kvstore.New(sandbox.NewLocalFS(), kvstore.Options{Workspace: t.TempDir()})
	return New(store, nil, nil), store
}

func TestOffloadOnThreshold(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	content := strings.Repeat("x", 8000)
	ref, err := o.Offload(ctx, Request{
		Content:     content,
		ContentType: "tool_output",
		SourceID:    "web_search_001",
	})
	require.NoError(t, err)
	require.NotNil(t, ref)

	assert.True(t, ref.Cached)
	assert.Equal(t, 8000, ref.SizeChars)
	assert.Equal(t, "artifacts", ref.Scope)
	assert.Equal(t, strings.Repeat("x", 200)+"...", ref.Preview)

	// The written file's SHA-256 prefix matches the index fingerprint.
	info, err := store.GetMetadata(ctx, kvstore.ScopeArtifacts, ref.ArtifactKey)
	require.NoError(t, err)
	written, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	sum := sha256.Sum256(written)
	assert.Equal(t, info.Fingerprint, hex.EncodeToString(sum[:])[:16])
}

func TestBelowThresholdPassthrough(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	ref, err := o.Offload(ctx, Request{Content: "small", ContentType: "tool_output"})
	require.NoError(t, err)
	assert.Nil(t, ref)

	infos, err := store.ListKeys(ctx, kvstore.ScopeArtifacts, kvstore.ListOptions{IncludeExpired: true})
	require.NoError(t, err)
	assert.Empty(t, infos, "no file or index change for tiny content")
}

func TestMandatoryTypeForcesCaching(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOffloader(t)

	// 150 chars: below the generic thresholds but above MinCacheChars.
	ref, err := o.Offload(ctx, Request{
		Content:     strings.Repeat("t", 150),
		ContentType: "terminal_output",
	})
	require.NoError(t, err)
	assert.NotNil(t, ref, "mandatory content types cache above the minimum size")
}

func TestWebSearchSkipsOnlyTinyContent(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOffloader(t)

	ref, err := o.Offload(ctx, Request{Content: "tiny", ContentType: "web_search"})
	require.NoError(t, err)
	assert.Nil(t, ref)

	ref, err = o.Offload(ctx, Request{
		Content:     strings.Repeat("r", 60),
		ContentType: "web_search",
	})
	require.NoError(t, err)
	assert.NotNil(t, ref, "web search caches anything above 50 chars")
}

func TestSummaryIsSentenceAligned(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOffloader(t)

	sentence := "This is a complete sentence about the result. "
	content := strings.Repeat(sentence, 40)
	ref, err := o.Offload(ctx, Request{Content: content, ContentType: "tool_output"})
	require.NoError(t, err)
	require.NotNil(t, ref)

	assert.LessOrEqual(t, len(ref.Summary), 404, "summary stays near the 400 char budget plus ellipsis")
	assert.True(t, strings.HasSuffix(ref.Summary, " ..."))
	assert.True(t, strings.HasPrefix(ref.Summary, "This is a complete sentence"))
}

func TestRecentExpansionFastPath(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	_, err := store.Put(ctx, kvstore.ScopeArtifacts, "K", "FULL", kvstore.PutOptions{})
	require.NoError(t, err)

	ref := map[string]any{"_cached": true, "artifact_key": "K", "scope": "artifacts"}
	messages := make([]types.Message, 12)
	for i := range messages {
		if i >= 9 {
			messages[i] = types.Message{Role: types.RoleTool, Content: types.CloneValue(ref)}
		} else {
			messages[i] = types.Message{Role: types.RoleUser, Content: "plain message"}
		}
	}

	out := o.ExpandCachedRefs(ctx, messages, ExpandOptions{
		AutoExpand:         true,
		ExpandRecentOnly:   true,
		RecentMessageCount: 3,
	})
	require.Len(t, out, 12)
	for i := 0; i < 9; i++ {
		assert.Equal(t, messages[i].Content, out[i].Content, "older message %d unchanged", i)
	}
	for i := 9; i < 12; i++ {
		assert.Equal(t, "FULL", out[i].Content, "recent message %d hydrated", i)
	}
}

func TestExpansionFailureKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOffloader(t)

	ref := map[string]any{"_cached": true, "artifact_key": "missing", "scope": "artifacts"}
	messages := []types.Message{{Role: types.RoleTool, Content: ref}}

	out := o.ExpandCachedRefs(ctx, messages, ExpandOptions{
		AutoExpand:         true,
		ExpandRecentOnly:   true,
		RecentMessageCount: 3,
	})
	require.Len(t, out, 1)
	obj, ok := out[0].Content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "missing", obj["artifact_key"], "cache miss keeps the reference")
}

func TestNoRefsSkipsAllIO(t *testing.T) {
	ctx := context.Background()
	// A real store, but no reference in the window: the fast path returns
	// the identical slice before any retrieval.
	o, _ := newTestOffloader(t)
	messages := []types.Message{{Role: types.RoleUser, Content: "hello"}}
	out := o.ExpandCachedRefs(ctx, messages, ExpandOptions{AutoExpand: true})
	assert.Equal(t, messages, out)
}

func TestOffloadToolOutputWebSearchForced(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOffloader(t)

	// 80 chars: below generic thresholds, but web search is mandatory.
	ref, err := o.OffloadToolOutput(ctx, strings.Repeat("w", 80), "web_search", "call_1", nil)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "web_search", ref.ContentType)
	assert.Contains(t, ref.ArtifactKey, "tool_output_web_search_call_1")
}

func TestOffloadFileContentTTL(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	ref, err := o.OffloadFileContent(ctx, strings.Repeat("line\n", 1000), "/workspace/src/main.go", nil)
	require.NoError(t, err)
	require.NotNil(t, ref)

	info, err := store.GetMetadata(ctx, kvstore.ScopeArtifacts, ref.ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, 24, info.TTLHours, "file content carries the shorter TTL")
}

func TestQuotaFailureReturnsNilRef(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	// Fill the project scope (20MB quota) so the next summary write fails.
	_, err := store.Put(ctx, kvstore.ScopeProject, "filler", make([]byte, 19*1024*1024), kvstore.PutOptions{})
	require.NoError(t, err)

	ref, err := o.Offload(ctx, Request{
		Content:     strings.Repeat("s", 2*1024*1024),
		ContentType: "conversation_summary",
	})
	require.NoError(t, err, "quota failure is not an error, the content stays inline")
	assert.Nil(t, ref)
}

func TestRetrieveContent(t *testing.T) {
	ctx := context.Background()
	o, store := newTestOffloader(t)

	_, err := store.Put(ctx, kvstore.ScopeArtifacts, "stored", "payload", kvstore.PutOptions{})
	require.NoError(t, err)

	assert.Equal(t, "payload", o.RetrieveContent(ctx, "stored", ""))
	assert.Nil(t, o.RetrieveContent(ctx, "absent", ""))
}
