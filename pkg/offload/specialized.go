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
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/types"
)

// OffloadToolOutput caches a tool's output. Web search output is
// mandatory: a first refusal is retried once with the force flag set.
func (o *Offloader) OffloadToolOutput(ctx context.Context, toolOutput any, toolName, toolCallID string, metadata map[string]any) (*types.ArtifactReference, error) {
	isWebSearch := webSearchTypes[toolName]

	toolMetadata := map[string]any{
		"tool_name":    toolName,
		"tool_call_id": toolCallID,
		"force_cached": isWebSearch,
	}
	for k, v := range metadata {
		toolMetadata[k] = v
	}

	sourceID := toolCallID
	if sourceID == "" {
		sourceID = toolName
	}
	var customKey string
	if toolCallID != "" {
		customKey = fmt.Sprintf("tool_output_%s_%s", toolName, sanitizeSourceID(toolCallID))
	} else {
		customKey = fmt.Sprintf("tool_output_%s_%s", toolName, uuid.NewString()[:8])
	}

	contentType := "tool_output"
	if isWebSearch {
		contentType = "web_search"
	}

	ref, err := o.Offload(ctx, Request{
		Content:     toolOutput,
		ContentType: contentType,
		SourceID:    sourceID,
		Metadata:    toolMetadata,
		CustomKey:   customKey,
	})
	if err != nil {
		return nil, err
	}

	if isWebSearch && ref == nil {
		o.logger.Warn("web search result not cached on first attempt, forcing",
			zap.String("tool_name", toolName))
		forced := map[string]any{}
		for k, v := range toolMetadata {
			forced[k] = v
		}
		forced["force_cached"] = true
		ref, err = o.Offload(ctx, Request{
			Content:     toolOutput,
			ContentType: "web_search",
			SourceID:    sourceID,
			Metadata:    forced,
			CustomKey:   customKey,
		})
		if err != nil {
			return nil, err
		}
	}
	return ref, nil
}

// OffloadSearchResults caches a search result set under a key derived
// from the search type.
func (o *Offloader) OffloadSearchResults(ctx context.Context, results any, searchType, query string, metadata map[string]any) (*types.ArtifactReference, error) {
	searchMetadata := map[string]any{
		"search_type": searchType,
		"query":       query,
	}
	for k, v := range metadata {
		searchMetadata[k] = v
	}
	sourceID := query
	if sourceID == "" {
		sourceID = searchType
	}
	return o.Offload(ctx, Request{
		Content:     results,
		ContentType: searchType,
		SourceID:    sourceID,
		Metadata:    searchMetadata,
		CustomKey:   "search_" + searchType,
	})
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9/_\-.]`)

// OffloadFileContent caches file contents with the shorter file TTL.
func (o *Offloader) OffloadFileContent(ctx context.Context, fileContent, filePath string, metadata map[string]any) (*types.ArtifactReference, error) {
	fileMetadata := map[string]any{
		"file_path": filePath,
	}
	for k, v := range metadata {
		fileMetadata[k] = v
	}
	safePath := unsafePathChars.ReplaceAllString(filePath, "_")
	if len(safePath) > 100 {
		safePath = safePath[:100]
	}
	ttl := 24
	return o.Offload(ctx, Request{
		Content:     fileContent,
		ContentType: "file_content",
		SourceID:    safePath,
		Metadata:    fileMetadata,
		CustomKey:   "file_content_" + safePath,
		TTLHours:    &ttl,
	})
}
