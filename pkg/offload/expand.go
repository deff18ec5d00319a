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
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/weft/pkg/types"
)

// expandConcurrency bounds the retrieval fan-out during expansion.
const expandConcurrency = 8

// ExpandOptions controls reference expansion.
type ExpandOptions struct {
	// AutoExpand enables expansion at all; false passes messages through.
	AutoExpand bool
	// ExpandRecentOnly keeps older messages as pointers and hydrates only
	// the most recent window.
	ExpandRecentOnly bool
	// RecentMessageCount sizes the hydration window.
	RecentMessageCount int
}

// ExpandCachedRefs rewrites pointer references back into full content
// for the most recent messages. Older messages keep their references;
// per-message retrieval failures leave the original message unchanged.
func (o *Offloader) ExpandCachedRefs(ctx context.Context, messages []types.Message, opts ExpandOptions) []types.Message {
	if o.store == nil || !opts.AutoExpand || len(messages) == 0 {
		return messages
	}

	window := messages
	if opts.ExpandRecentOnly && len(messages) > opts.RecentMessageCount {
		window = messages[len(messages)-opts.RecentMessageCount:]
	}

	// Fast path: no reference anywhere in the window means no I/O.
	if !anyCachedRef(window) {
		return messages
	}

	keep := len(messages) - len(window)
	out := make([]types.Message, len(messages))
	copy(out, messages[:keep])

	expanded := make([]types.Message, len(window))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(expandConcurrency)
	for i, msg := range window {
		g.Go(func() error {
			expanded[i] = o.expandMessage(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	copy(out[keep:], expanded)
	return out
}

// anyCachedRef scans for pointer markers without decoding anything
// beyond the cheap checks.
func anyCachedRef(messages []types.Message) bool {
	for _, msg := range messages {
		switch content := msg.Content.(type) {
		case string:
			if strings.Contains(content, "_cached") && strings.Contains(content, "artifact_key") {
				return true
			}
		case map[string]any:
			if containsRef(content) {
				return true
			}
		case []any:
			for _, item := range content {
				if obj, ok := item.(map[string]any); ok && containsRef(obj) {
					return true
				}
			}
		}
	}
	return false
}

func containsRef(obj map[string]any) bool {
	if _, _, ok := types.RefFromMap(obj); ok {
		return true
	}
	for _, v := range obj {
		switch val := v.(type) {
		case map[string]any:
			if containsRef(val) {
				return true
			}
		case []any:
			for _, item := range val {
				if nested, ok := item.(map[string]any); ok && containsRef(nested) {
					return true
				}
			}
		}
	}
	return false
}

// expandMessage replaces every pointer inside one message with the full
// stored content. Any failure returns the message untouched.
func (o *Offloader) expandMessage(ctx context.Context, msg types.Message) types.Message {
	switch content := msg.Content.(type) {
	case string:
		if !strings.Contains(content, "_cached") || !strings.Contains(content, "artifact_key") {
			return msg
		}
		trimmed := strings.TrimSpace(content)
		if strings.HasPrefix(trimmed, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
				expanded := o.expandValue(ctx, obj)
				if rendered := types.ValueString(expanded); rendered != trimmed {
					out := msg.Clone()
					out.Content = rendered
					return out
				}
				return msg
			}
		}
		// Non-JSON string carrying a reference: extract the key directly.
		if key, scope, ok := extractRefFromText(content); ok {
			if full := o.RetrieveContent(ctx, key, scope); full != nil {
				out := msg.Clone()
				out.Content = types.ValueString(full)
				return out
			}
		}
		return msg
	case map[string]any:
		expanded := o.expandValue(ctx, content)
		if !sameValue(expanded, content) {
			out := msg.Clone()
			out.Content = expanded
			return out
		}
		return msg
	case []any:
		changed := false
		items := make([]any, len(content))
		for i, item := range content {
			if obj, ok := item.(map[string]any); ok {
				expanded := o.expandValue(ctx, obj)
				items[i] = expanded
				if !sameValue(expanded, obj) {
					changed = true
				}
			} else {
				items[i] = item
			}
		}
		if changed {
			out := msg.Clone()
			out.Content = items
			return out
		}
		return msg
	default:
		return msg
	}
}

// expandValue recursively replaces pointer maps with retrieved content.
func (o *Offloader) expandValue(ctx context.Context, value any) any {
	switch v := value.(type) {
	case map[string]any:
		if key, scope, ok := types.RefFromMap(v); ok {
			if full := o.RetrieveContent(ctx, key, scope); full != nil {
				return full
			}
			// Cache miss: keep the reference so the turn can continue.
			return v
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = o.expandValue(ctx, item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = o.expandValue(ctx, item)
		}
		return out
	default:
		return value
	}
}

var (
	artifactKeyPattern = regexp.MustCompile(`"artifact_key"\s*:\s*"([^"]+)"`)
	scopePattern       = regexp.MustCompile(`"scope"\s*:\s*"([^"]+)"`)
)

func extractRefFromText(text string) (key, scope string, ok bool) {
	if m := artifactKeyPattern.FindStringSubmatch(text); len(m) == 2 {
		key = m[1]
	}
	if key == "" {
		return "", "", false
	}
	if m := scopePattern.FindStringSubmatch(text); len(m) == 2 {
		scope = m[1]
	}
	if scope == "" {
		scope = "artifacts"
	}
	return key, scope, true
}

func sameValue(a, b any) bool {
	return types.ValueString(a) == types.ValueString(b)
}
