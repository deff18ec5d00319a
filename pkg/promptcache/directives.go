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

package promptcache

import (
	"strings"

	"github.com/teradata-labs/weft/pkg/types"
)

// withCacheControl deep-copies a message and attaches the directive to
// its text parts. Plain content is wrapped into a one-part list.
func withCacheControl(msg types.Message, directive map[string]any) types.Message {
	out := msg.Clone()
	if parts, ok := out.Content.([]any); ok {
		for i, part := range parts {
			obj, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if partType, _ := obj["type"].(string); partType == "text" {
				obj["cache_control"] = types.CloneValue(directive)
				parts[i] = obj
			}
		}
		out.Content = parts
		return out
	}
	text := ""
	if out.Content != nil {
		text = types.ValueString(out.Content)
	}
	out.Content = []any{
		map[string]any{
			"type":          "text",
			"text":          text,
			"cache_control": types.CloneValue(directive),
		},
	}
	return out
}

// HasCacheControl reports whether any content part carries a cache
// directive.
func HasCacheControl(msg types.Message) bool {
	parts, ok := msg.Content.([]any)
	if !ok {
		return false
	}
	for _, part := range parts {
		if obj, ok := part.(map[string]any); ok {
			if _, has := obj["cache_control"]; has {
				return true
			}
		}
	}
	return false
}

// stripCacheControl removes directives from a message copy.
func stripCacheControl(msg types.Message) types.Message {
	out := msg.Clone()
	parts, ok := out.Content.([]any)
	if !ok {
		return out
	}
	for i, part := range parts {
		if obj, ok := part.(map[string]any); ok {
			delete(obj, "cache_control")
			parts[i] = obj
		}
	}
	out.Content = parts
	return out
}

// ValidateCacheBlocks enforces the provider cap on cached segments by
// stripping directives from the oldest cached blocks first.
func ValidateCacheBlocks(messages []types.Message, maxBlocks int) []types.Message {
	count := 0
	for _, msg := range messages {
		if HasCacheControl(msg) {
			count++
		}
	}
	if count <= maxBlocks {
		return messages
	}

	over := count - maxBlocks
	out := make([]types.Message, len(messages))
	copy(out, messages)
	// Oldest conversation blocks lose their directives first; the pinned
	// system prompt at the head is the last to give up its slot.
	for i := 1; i < len(out) && over > 0; i++ {
		if HasCacheControl(out[i]) {
			out[i] = stripCacheControl(out[i])
			over--
		}
	}
	if over > 0 && len(out) > 0 && HasCacheControl(out[0]) {
		out[0] = stripCacheControl(out[0])
	}
	return out
}

// extractPlainText renders a message's content deterministically for
// transcripts and token scoring.
func extractPlainText(msg types.Message) string {
	switch content := msg.Content.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(content)
	case []any:
		var parts []string
		for _, item := range content {
			obj, ok := item.(map[string]any)
			if !ok {
				parts = append(parts, types.ValueString(item))
				continue
			}
			if text, ok := obj["text"].(string); ok {
				parts = append(parts, text)
				continue
			}
			if inner, ok := obj["content"].(string); ok {
				parts = append(parts, inner)
				continue
			}
			parts = append(parts, types.ValueString(obj))
		}
		var nonEmpty []string
		for _, part := range parts {
			if part != "" {
				nonEmpty = append(nonEmpty, part)
			}
		}
		return strings.TrimSpace(strings.Join(nonEmpty, "\n"))
	default:
		return strings.TrimSpace(types.ValueString(content))
	}
}

func roleLabel(role types.Role) string {
	switch role {
	case types.RoleUser:
		return "User"
	case types.RoleAssistant:
		return "Assistant"
	case types.RoleTool:
		return "Tool"
	case types.RoleSystem:
		return "System"
	default:
		if role == "" {
			return "Unknown"
		}
		return strings.ToUpper(string(role)[:1]) + string(role)[1:]
	}
}
