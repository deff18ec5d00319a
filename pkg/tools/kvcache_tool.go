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
	"strings"

	"github.com/teradata-labs/weft/pkg/kvstore"
)

// projectSummaryKey is the fixed key of the project summary entry.
const projectSummaryKey = "summary"

// RegisterKVCacheTools adds the KV cache tool surface to a registry.
func RegisterKVCacheTools(registry *Registry, store *kvstore.Store) {
	registry.Register(putInstructionTool(store))
	registry.Register(getInstructionTool(store))
	registry.Register(listInstructionsTool(store))
	registry.Register(putArtifactTool(store))
	registry.Register(getArtifactTool(store))
	registry.Register(putProjectSummaryTool(store))
	registry.Register(getProjectSummaryTool(store))
	registry.Register(cacheStatsTool(store))
	registry.Register(pruneCacheTool(store))
}

func metadataArg(args map[string]any) map[string]any {
	metadata, _ := args["metadata"].(map[string]any)
	return metadata
}

func putInstructionTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "put_instruction",
		Description: "Store an instruction bundle under a tag for later auto-loading.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"tag", "content"},
			"properties": map[string]any{
				"tag":      map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
				"metadata": map[string]any{"type": "object"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			tag := strings.ToLower(strings.TrimSpace(args["tag"].(string)))
			content, _ := args["content"].(string)
			metadata := metadataArg(args)
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["tag"] = tag
			path, err := store.Put(ctx, kvstore.ScopeInstructions, kvstore.InstructionKey(tag), content, kvstore.PutOptions{Metadata: metadata})
			if err != nil {
				return Fail("failed to store instruction: %v", err)
			}
			return Ok(map[string]any{"tag": tag, "path": path})
		},
	}
}

func getInstructionTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "get_instruction",
		Description: "Retrieve a stored instruction bundle by tag.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"tag"},
			"properties": map[string]any{
				"tag": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			tag := strings.ToLower(strings.TrimSpace(args["tag"].(string)))
			content, err := store.Get(ctx, kvstore.ScopeInstructions, kvstore.InstructionKey(tag), kvstore.AsString)
			if err != nil {
				return Fail("instruction %q not found: %v", tag, err)
			}
			return Ok(map[string]any{"tag": tag, "content": content})
		},
	}
}

func listInstructionsTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "list_instructions",
		Description: "List all stored instruction tags.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke: func(ctx context.Context, _ map[string]any) *Result {
			entries, err := store.ListKeys(ctx, kvstore.ScopeInstructions, kvstore.ListOptions{})
			if err != nil {
				return Fail("failed to list instructions: %v", err)
			}
			var tags []string
			for _, entry := range entries {
				if strings.HasPrefix(entry.Key, "instruction_") {
					tags = append(tags, strings.TrimPrefix(entry.Key, "instruction_"))
				}
			}
			return Ok(map[string]any{"tags": tags})
		},
	}
}

func putArtifactTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "put_artifact",
		Description: "Store an artifact value in the cache with an optional TTL.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"key", "value"},
			"properties": map[string]any{
				"key":       map[string]any{"type": "string"},
				"value":     map[string]any{},
				"ttl_hours": map[string]any{"type": "integer"},
				"metadata":  map[string]any{"type": "object"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			key, _ := args["key"].(string)
			opts := kvstore.PutOptions{Metadata: metadataArg(args)}
			if hasArg(args, "ttl_hours") {
				ttl := intArg(args, "ttl_hours")
				opts.TTLHours = &ttl
			}
			path, err := store.Put(ctx, kvstore.ScopeArtifacts, key, args["value"], opts)
			if err != nil {
				return Fail("failed to store artifact: %v", err)
			}
			return Ok(map[string]any{"key": key, "path": path})
		},
	}
}

func getArtifactTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "get_artifact",
		Description: "Retrieve a cached artifact value by key.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"key"},
			"properties": map[string]any{
				"key": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			key, _ := args["key"].(string)
			value, err := store.Get(ctx, kvstore.ScopeArtifacts, key, kvstore.AsAuto)
			if err != nil {
				return Fail("artifact %q not found: %v", key, err)
			}
			return Ok(map[string]any{"key": key, "value": value})
		},
	}
}

func putProjectSummaryTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "put_project_summary",
		Description: "Store or replace the project summary used for planning continuity.",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"summary"},
			"properties": map[string]any{
				"summary":  map[string]any{"type": "string"},
				"metadata": map[string]any{"type": "object"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			summary, _ := args["summary"].(string)
			path, err := store.Put(ctx, kvstore.ScopeProject, projectSummaryKey, summary, kvstore.PutOptions{Metadata: metadataArg(args)})
			if err != nil {
				return Fail("failed to store project summary: %v", err)
			}
			return Ok(map[string]any{"path": path})
		},
	}
}

func getProjectSummaryTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "get_project_summary",
		Description: "Retrieve the stored project summary.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke: func(ctx context.Context, _ map[string]any) *Result {
			summary, err := store.Get(ctx, kvstore.ScopeProject, projectSummaryKey, kvstore.AsString)
			if err != nil {
				return Fail("no project summary stored: %v", err)
			}
			return Ok(map[string]any{"summary": summary})
		},
	}
}

func cacheStatsTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "get_cache_stats",
		Description: "Report cache usage and quota utilization per scope.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			scope, _ := args["scope"].(string)
			stats, err := store.GetStats(ctx, scope)
			if err != nil {
				return Fail("failed to get cache stats: %v", err)
			}
			return Ok(stats)
		},
	}
}

func pruneCacheTool(store *kvstore.Store) *Tool {
	return &Tool{
		Name:        "prune_cache",
		Description: "Remove expired cache entries from one scope or all scopes.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) *Result {
			scope, _ := args["scope"].(string)
			results, err := store.PruneExpired(ctx, scope)
			if err != nil {
				return Fail("failed to prune cache: %v", err)
			}
			total := 0
			for _, count := range results {
				if count > 0 {
					total += count
				}
			}
			return Ok(map[string]any{"pruned": total, "per_scope": results})
		},
	}
}
