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

package types

import (
	"encoding/json"
	"strings"
)

// ContentKind tags the shape of a message payload. Classification runs
// once at ingress so downstream stages dispatch on the tag instead of
// re-inspecting strings and nested maps.
type ContentKind int

const (
	// ContentText is plain prose with no recognized structure.
	ContentText ContentKind = iota
	// ContentToolExecution carries a tool_execution envelope, either as a
	// map or as a JSON string decoding to one.
	ContentToolExecution
	// ContentInteractive carries interactive_elements emitted by browser
	// style tools.
	ContentInteractive
	// ContentObject is structured content without tool markers.
	ContentObject
)

// ClassifiedContent is the ingress-normalized view of a message payload.
type ClassifiedContent struct {
	Kind ContentKind
	// Object holds the decoded map for structured kinds; nil for text.
	Object map[string]any
	// FromJSONString records that Object was decoded from string content
	// and must be re-serialized after mutation.
	FromJSONString bool
}

// Classify inspects a content value and returns its tagged variant.
func Classify(content any) ClassifiedContent {
	switch v := content.(type) {
	case map[string]any:
		return classifyObject(v, false)
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
				c := classifyObject(obj, true)
				if c.Kind != ContentObject {
					return c
				}
			}
		}
		if strings.Contains(v, "ToolResult") {
			return ClassifiedContent{Kind: ContentToolExecution}
		}
		return ClassifiedContent{Kind: ContentText}
	default:
		return ClassifiedContent{Kind: ContentText}
	}
}

func classifyObject(obj map[string]any, fromString bool) ClassifiedContent {
	if _, ok := obj["tool_execution"]; ok {
		return ClassifiedContent{Kind: ContentToolExecution, Object: obj, FromJSONString: fromString}
	}
	if _, ok := obj["interactive_elements"]; ok {
		return ClassifiedContent{Kind: ContentInteractive, Object: obj, FromJSONString: fromString}
	}
	return ClassifiedContent{Kind: ContentObject, Object: obj, FromJSONString: fromString}
}

// IsToolResult reports whether a message carries a tool result payload:
// a "ToolResult" marker, a tool_execution envelope, or interactive
// elements, in any of their string or map encodings.
func IsToolResult(m Message) bool {
	if m.Content == nil {
		return false
	}
	switch Classify(m.Content).Kind {
	case ContentToolExecution, ContentInteractive:
		return true
	default:
		return false
	}
}
