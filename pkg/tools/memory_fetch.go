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

	"github.com/teradata-labs/weft/pkg/memstore"
)

// Memory fetch range limits, enforced before any store access.
const (
	// MaxSliceLines bounds a line-range fetch.
	MaxSliceLines = 2000
	// MaxByteLength bounds a byte-range fetch.
	MaxByteLength = 65536
)

// NewMemoryFetchTool builds the memory_fetch tool over a memory store.
func NewMemoryFetchTool(store *memstore.Store) *Tool {
	return &Tool{
		Name:        "memory_fetch",
		Description: "Fetch a slice of an offloaded memory by line range or byte range. Use tight ranges; full payloads are never returned.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"memory_id"},
			"properties": map[string]any{
				"memory_id":   map[string]any{"type": "string"},
				"line_start":  map[string]any{"type": "integer"},
				"line_end":    map[string]any{"type": "integer"},
				"byte_offset": map[string]any{"type": "integer"},
				"byte_length": map[string]any{"type": "integer"},
			},
		},
		Invoke: func(_ context.Context, args map[string]any) *Result {
			memoryID, _ := args["memory_id"].(string)
			if memoryID == "" {
				return Fail("memory_id is required")
			}

			if hasArg(args, "line_start") || hasArg(args, "line_end") {
				lineStart := intArg(args, "line_start")
				lineEnd := intArg(args, "line_end")
				if lineStart < 1 || lineEnd < lineStart {
					return Fail("line range must satisfy 1 <= line_start <= line_end")
				}
				if lineEnd-lineStart+1 > MaxSliceLines {
					return Fail("line range too large: at most %d lines per fetch", MaxSliceLines)
				}
				slice, err := store.GetSlice(memoryID, lineStart, lineEnd)
				if err != nil {
					return Fail("fetch slice: %v", err)
				}
				return Ok(map[string]any{
					"memory_id":  memoryID,
					"line_start": lineStart,
					"line_end":   lineEnd,
					"content":    slice,
				})
			}

			if hasArg(args, "byte_offset") || hasArg(args, "byte_length") {
				offset := intArg(args, "byte_offset")
				length := intArg(args, "byte_length")
				if offset < 0 || length <= 0 {
					return Fail("byte range must satisfy byte_offset >= 0 and byte_length > 0")
				}
				if length > MaxByteLength {
					return Fail("byte range too large: at most %d bytes per fetch", MaxByteLength)
				}
				data, err := store.GetBytes(memoryID, offset, length)
				if err != nil {
					return Fail("fetch bytes: %v", err)
				}
				return Ok(map[string]any{
					"memory_id":   memoryID,
					"byte_offset": offset,
					"byte_length": len(data),
					"content":     string(data),
				})
			}

			return Fail("provide a line range (line_start, line_end) or a byte range (byte_offset, byte_length)")
		},
	}
}

func hasArg(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
