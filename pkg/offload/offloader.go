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

// Package offload is the policy layer above the artifact store. It
// detects large tool, search, and file payloads, writes them into the
// scoped KV cache, and hands back lightweight pointer references the
// pipeline keeps in-line instead of the raw content.
package offload

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

// Aggressive caching thresholds. Almost everything above these goes to
// the store; the context window only ever carries pointers and recent
// turns.
const (
	// TokenThreshold caches content above this token estimate.
	TokenThreshold = 300
	// CharThreshold caches content above this character count.
	CharThreshold = 1500
	// MinCacheChars skips content too small to justify the pointer.
	MinCacheChars = 100
	// minWebSearchChars is the only floor applied to mandatory web
	// search caching.
	minWebSearchChars = 50

	previewChars = 200
	summaryChars = 400
)

// webSearchTypes always cache regardless of thresholds.
var webSearchTypes = map[string]bool{
	"web_search": true,
	"websearch":  true,
	"search":     true,
}

// mandatoryTypes force caching above MinCacheChars. These are the
// high-volume content types that dominate token usage.
var mandatoryTypes = map[string]bool{
	"tool_output":       true,
	"file_content":      true,
	"browser_output":    true,
	"view_tasks":        true,
	"task_list":         true,
	"terminal_output":   true,
	"assistant_message": true,
	"long_response":     true,
}

// sandboxErrorMarkers classify failures as "sandbox not ready yet":
// expected early in a session, the offload succeeds on a later turn.
var sandboxErrorMarkers = []string{
	"sandbox", "not found", "not available", "not started",
	"connection", "timeout", "filesystem",
	"create_folder", "upload_file", "make_dir",
}

// Request carries the inputs of one offload decision.
type Request struct {
	Content     any
	ContentType string
	SourceID    string
	Metadata    map[string]any
	CustomKey   string
	// TTLHours overrides the content-type default when non-nil.
	TTLHours *int
}

// Offloader writes large content into the artifact store and produces
// pointer references. A nil store disables offloading entirely.
type Offloader struct {
	store   *kvstore.Store
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates an offloader over the given store.
func New(store *kvstore.Store, counter *tokens.Counter, logger *zap.Logger) *Offloader {
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Offloader{store: store, counter: counter, logger: logger}
}

// Enabled reports whether a store is attached.
func (o *Offloader) Enabled() bool { return o.store != nil }

// estimateSize returns (tokens, chars) for arbitrary content.
func (o *Offloader) estimateSize(content any) (int, int) {
	text := types.ValueString(content)
	return o.counter.CountText(text), len(text)
}

// shouldCache applies the caching policy.
func (o *Offloader) shouldCache(content any, contentType string, forceCache bool) bool {
	if o.store == nil {
		return false
	}
	_, chars := o.estimateSize(content)

	if forceCache || webSearchTypes[contentType] {
		return chars >= minWebSearchChars
	}
	if mandatoryTypes[contentType] {
		return chars > MinCacheChars
	}
	tok, _ := o.estimateSize(content)
	return (tok > TokenThreshold || chars > CharThreshold) && chars > MinCacheChars
}

var unsafeSourceChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func sanitizeSourceID(sourceID string) string {
	safe := unsafeSourceChars.ReplaceAllString(sourceID, "_")
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return safe
}

// generateKey builds the artifact key: either the custom prefix or
// {content_type}_{timestamp}_{rand8}, suffixed with the sanitized
// source id when present.
func generateKey(contentType, sourceID, customKey string) string {
	base := customKey
	if base == "" {
		base = fmt.Sprintf("%s_%s_%s",
			contentType,
			time.Now().UTC().Format("20060102_150405"),
			uuid.NewString()[:8])
	}
	if sourceID != "" {
		return base + "_" + sanitizeSourceID(sourceID)
	}
	return base
}

// scopeAndTTL picks the storage scope and default retention per content
// type.
func scopeAndTTL(contentType string) (string, int) {
	switch contentType {
	case "conversation_summary", "context_summary":
		return kvstore.ScopeProject, 72
	case "file_content", "workspace_state":
		return kvstore.ScopeArtifacts, 24
	default:
		return kvstore.ScopeArtifacts, 48
	}
}

// makePreview truncates normalized content for the pointer message.
func makePreview(content any) string {
	normalized := types.ValueString(content)
	if len(normalized) <= previewChars {
		return normalized
	}
	return normalized[:previewChars] + "..."
}

var whitespaceRun = regexp.MustCompile(`\s+`)
var sentenceSplit = regexp.MustCompile(`(?:[.!?]) +`)

// makeSummary builds a sentence-aligned summary the planner uses to
// decide when to hydrate.
func makeSummary(content any) string {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(types.ValueString(content), " "))
	if normalized == "" {
		return ""
	}
	if len(normalized) <= summaryChars {
		return normalized
	}

	var parts []string
	length := 0
	rest := normalized
	for rest != "" {
		loc := sentenceSplit.FindStringIndex(rest)
		var sentence string
		if loc == nil {
			sentence = rest
			rest = ""
		} else {
			sentence = rest[:loc[1]-1]
			rest = rest[loc[1]:]
		}
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		add := len(sentence)
		if len(parts) > 0 {
			add++
		}
		if length+add > summaryChars {
			break
		}
		parts = append(parts, sentence)
		length += add
	}

	summary := strings.TrimSpace(strings.Join(parts, " "))
	if summary == "" {
		summary = normalized[:summaryChars]
	}
	if len(summary) < len(normalized) {
		summary = strings.TrimRight(summary, " ") + " ..."
	}
	return summary
}

// retrievalHint is the fixed explanation attached to every pointer.
const retrievalHint = "Full content stored in KV cache. Planner auto-hydrates required sections without user-facing tool calls."

// Offload decides whether to cache content, writes it, and returns the
// pointer reference. A nil reference with nil error means the content
// stayed inline.
func (o *Offloader) Offload(ctx context.Context, req Request) (*types.ArtifactReference, error) {
	forceCache := false
	if req.Metadata != nil {
		forceCache, _ = req.Metadata["force_cached"].(bool)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "generic"
	}

	tokenCount, charCount := o.estimateSize(req.Content)
	if !o.shouldCache(req.Content, contentType, forceCache) {
		o.logger.Debug("content not cached",
			zap.String("content_type", contentType),
			zap.Int("size_tokens", tokenCount),
			zap.Int("size_chars", charCount))
		return nil, nil
	}

	scope, ttl := scopeAndTTL(contentType)
	if req.TTLHours != nil {
		ttl = *req.TTLHours
	}
	artifactKey := generateKey(contentType, req.SourceID, req.CustomKey)
	preview := makePreview(req.Content)
	summary := makeSummary(req.Content)

	cacheMetadata := map[string]any{
		"content_type": contentType,
		"source_id":    req.SourceID,
		"cached_at":    time.Now().UTC().Format(time.RFC3339),
		"size_tokens":  tokenCount,
		"size_chars":   charCount,
		"preview":      preview,
		"summary":      summary,
	}
	for k, v := range req.Metadata {
		cacheMetadata[k] = v
	}

	_, err := o.store.Put(ctx, scope, artifactKey, req.Content, kvstore.PutOptions{
		TTLHours: &ttl,
		Metadata: cacheMetadata,
	})
	if err != nil {
		o.classifyWriteFailure(err, contentType, req.SourceID)
		return nil, nil
	}

	o.logger.Info("offloaded content",
		zap.String("content_type", contentType),
		zap.Int("size_tokens", tokenCount),
		zap.Int("size_chars", charCount),
		zap.String("artifact_key", artifactKey),
		zap.String("scope", scope),
		zap.Int("ttl_hours", ttl))

	snapshot := map[string]any{"cached_at": cacheMetadata["cached_at"]}
	if req.Metadata != nil {
		if threadID, ok := req.Metadata["thread_id"]; ok {
			snapshot["thread_id"] = threadID
		}
		if forcedFor, ok := req.Metadata["forced_for_tool"]; ok {
			snapshot["forced_for_tool"] = forcedFor
		}
	}

	return &types.ArtifactReference{
		Cached:        true,
		ArtifactKey:   artifactKey,
		Scope:         scope,
		ContentType:   contentType,
		SourceID:      req.SourceID,
		Preview:       preview,
		Summary:       summary,
		SizeTokens:    tokenCount,
		SizeChars:     charCount,
		RetrievalHint: retrievalHint,
		Metadata:      snapshot,
	}, nil
}

// classifyWriteFailure routes store failures to the right log level.
// Quota and value errors keep the content inline; sandbox-not-ready
// failures are expected to succeed on a later turn.
func (o *Offloader) classifyWriteFailure(err error, contentType, sourceID string) {
	if errors.Is(err, kvstore.ErrQuota) || errors.Is(err, kvstore.ErrValue) {
		o.logger.Debug("kv store refused offload",
			zap.String("content_type", contentType),
			zap.String("source_id", sourceID),
			zap.Error(err))
		return
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range sandboxErrorMarkers {
		if strings.Contains(lower, marker) {
			o.logger.Debug("sandbox not ready for caching, will retry on a later turn",
				zap.String("content_type", contentType),
				zap.Error(err))
			return
		}
	}
	o.logger.Warn("failed to offload content",
		zap.String("content_type", contentType),
		zap.String("source_id", sourceID),
		zap.Error(err))
}

// RetrieveContent returns the full value of an artifact, or nil on any
// miss. The planner treats misses as cache misses and keeps the stub.
func (o *Offloader) RetrieveContent(ctx context.Context, artifactKey, scope string) any {
	if o.store == nil {
		return nil
	}
	if scope == "" {
		scope = kvstore.ScopeArtifacts
	}
	value, err := o.store.Get(ctx, scope, artifactKey, kvstore.AsAuto)
	if err != nil {
		o.logger.Debug("cache miss",
			zap.String("artifact_key", artifactKey),
			zap.String("scope", scope),
			zap.Error(err))
		return nil
	}
	return value
}
