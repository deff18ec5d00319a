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

package memstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutTextAndSlice(t *testing.T) {
	store := newTestStore(t)

	var lines []string
	for i := 1; i <= 100; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	content := strings.Join(lines, "\n")

	ref, err := store.PutText(content, TypeToolOutput, PutOptions{Title: "listing"})
	require.NoError(t, err)
	assert.Equal(t, "zstd", ref.Compression)
	assert.Equal(t, len(content), ref.Bytes)
	assert.Len(t, ref.MemoryID, 64)

	slice, err := store.GetSlice(ref.MemoryID, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, "line 10\nline 11\nline 12", slice)
}

func TestContentAddressing(t *testing.T) {
	store := newTestStore(t)

	ref1, err := store.PutText("identical payload", TypeDocChunk, PutOptions{})
	require.NoError(t, err)
	ref2, err := store.PutText("identical payload", TypeDocChunk, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, ref1.MemoryID, ref2.MemoryID, "identical content shares one memory id")

	// The id is the digest of the compressed bytes on disk.
	stored, err := os.ReadFile(filepath.Join(store.baseDir, ref1.Path))
	require.NoError(t, err)
	sum := sha256.Sum256(stored)
	assert.Equal(t, ref1.MemoryID, hex.EncodeToString(sum[:]))
}

func TestShardedLayout(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.PutText("sharded", TypeToolOutput, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("warm", ref.MemoryID[:2], ref.MemoryID+".zst"), ref.Path)
}

func TestGetBytesRange(t *testing.T) {
	store := newTestStore(t)

	content := strings.Repeat("abcdefgh", 1000)
	ref, err := store.PutText(content, TypeToolOutput, PutOptions{})
	require.NoError(t, err)

	chunk, err := store.GetBytes(ref.MemoryID, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(chunk))

	// Range past the end clamps.
	tail, err := store.GetBytes(ref.MemoryID, len(content)-4, 100)
	require.NoError(t, err)
	assert.Equal(t, "efgh", string(tail))

	// Fully out of range yields empty.
	empty, err := store.GetBytes(ref.MemoryID, len(content)+10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInvalidRanges(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.PutText("content", TypeToolOutput, PutOptions{})
	require.NoError(t, err)

	_, err = store.GetSlice(ref.MemoryID, 0, 5)
	assert.Error(t, err)
	_, err = store.GetSlice(ref.MemoryID, 10, 5)
	assert.Error(t, err)
	_, err = store.GetBytes(ref.MemoryID, -1, 10)
	assert.Error(t, err)
	_, err = store.GetBytes(ref.MemoryID, 0, 0)
	assert.Error(t, err)
}

func TestMissingMemory(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSlice("deadbeef", 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetMetadata("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSliceRefusesNonText(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.PutBytes([]byte{0x1, 0x2, 0x3}, TypeToolOutput, PutOptions{Mime: "application/octet-stream"})
	require.NoError(t, err)

	_, err = store.GetSlice(ref.MemoryID, 1, 10)
	assert.Error(t, err, "line slices only apply to text mimes")
}

func TestMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)

	ref, err := store.PutText("tagged payload", TypeWebScrape, PutOptions{
		Subtype: "web_search",
		Title:   "search output",
		Tags:    []string{"web_search", "golang"},
	})
	require.NoError(t, err)

	rec, err := store.GetMetadata(ref.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, TypeWebScrape, rec.Type)
	assert.Equal(t, "web_search", rec.Subtype)
	assert.Equal(t, "search output", rec.Title)
	assert.Equal(t, []string{"web_search", "golang"}, rec.Tags)
	assert.Equal(t, len("tagged payload"), rec.Bytes)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestCompressionRatioLogged(t *testing.T) {
	store := newTestStore(t)

	// Highly repetitive content compresses well.
	_, err := store.PutText(strings.Repeat("compress me ", 5000), TypeToolOutput, PutOptions{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.baseDir, logsDirname, compressionLog))
	require.NoError(t, err)
	assert.Contains(t, string(data), "bytes_saved")
	assert.Contains(t, string(data), "ratio")
}

func TestListMemories(t *testing.T) {
	store := newTestStore(t)

	_, err := store.PutText("one", TypeToolOutput, PutOptions{})
	require.NoError(t, err)
	_, err = store.PutText("two", TypeWebScrape, PutOptions{})
	require.NoError(t, err)

	all, err := store.ListMemories("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scrapes, err := store.ListMemories(TypeWebScrape, 10)
	require.NoError(t, err)
	require.Len(t, scrapes, 1)
	assert.Equal(t, TypeWebScrape, scrapes[0].Type)
}
