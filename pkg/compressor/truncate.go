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

package compressor

import (
	"fmt"

	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// safeTruncateCeiling bounds any single truncation target.
	safeTruncateCeiling = 100_000
	// truncateMarkerReserve is the space held back for the marker text.
	truncateMarkerReserve = 150

	middleTruncatedMarker = "\n\n... (middle truncated) ...\n\n"
	selfReminder          = "\n\nThis message is too long, repeat relevant information in your response to remember it"
)

// safeTruncate removes the middle of over-long content, keeping an even
// split of head and tail around the marker. Structured content is
// serialized to JSON before the same logic applies.
func safeTruncate(content any, maxLength int) any {
	if maxLength > safeTruncateCeiling {
		maxLength = safeTruncateCeiling
	}
	switch v := content.(type) {
	case string:
		return safeTruncateString(v, maxLength)
	case map[string]any, []any:
		rendered := types.ValueString(v)
		if len(rendered) <= maxLength {
			return content
		}
		return safeTruncateString(rendered, maxLength)
	default:
		return content
	}
}

func safeTruncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	keep := maxLength - truncateMarkerReserve
	if keep < 0 {
		keep = 0
	}
	startLen := keep / 2
	endLen := keep - startLen
	start := s[:startLen]
	end := ""
	if endLen > 0 {
		end = s[len(s)-endLen:]
	}
	return start + middleTruncatedMarker + end + selfReminder
}

// headTruncate keeps the head of over-long content and appends a tail
// that names the original message and the expand-message tool.
func headTruncate(content any, messageID string, maxLength int) any {
	rendered, isString := content.(string)
	if !isString {
		rendered = types.ValueString(content)
	}
	if len(rendered) <= maxLength {
		return content
	}
	return rendered[:maxLength] + "... (truncated)" +
		fmt.Sprintf("\n\nmessage_id %q\nUse expand-message tool to see contents", messageID)
}
