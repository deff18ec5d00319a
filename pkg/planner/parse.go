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

package planner

import (
	"encoding/json"
	"fmt"
)

// parsePlanJSON parses planner output as strict JSON. When the model
// wraps the JSON in prose, the first balanced brace span is extracted
// and parsed instead.
func parsePlanJSON(text string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	span, ok := firstBalancedBraceSpan(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in planner output")
	}
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		return nil, fmt.Errorf("parse extracted JSON: %w", err)
	}
	return out, nil
}

// firstBalancedBraceSpan returns the first {...} substring with balanced
// braces, respecting string literals and escapes.
func firstBalancedBraceSpan(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
