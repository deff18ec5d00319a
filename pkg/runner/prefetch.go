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

package runner

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/types"
)

// Prefetch budget per turn.
const (
	prefetchScanWindow = 20
	prefetchMaxSlices  = 3
	prefetchMaxRefs    = 5
	prefetchMaxLines   = 120
	prefetchMinToken   = 4
)

// prefetchMemorySlices scans the most recent messages for memory
// pointers whose titles overlap the current user request, and injects
// small slices as preceding system messages. Individual fetch failures
// are swallowed; the turn proceeds either way.
func (o *Orchestrator) prefetchMemorySlices(messages []types.Message) ([]types.Message, int) {
	if o.memory == nil || len(messages) == 0 {
		return messages, 0
	}

	userQuery := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			userQuery = strings.ToLower(messages[i].ContentString())
			break
		}
	}
	if userQuery == "" {
		return messages, 0
	}

	window := messages
	if len(window) > prefetchScanWindow {
		window = window[len(window)-prefetchScanWindow:]
	}
	var recentRefs []types.MemoryRef
	for _, msg := range window {
		recentRefs = append(recentRefs, msg.MemoryRefs()...)
	}
	if len(recentRefs) > prefetchMaxRefs {
		recentRefs = recentRefs[:prefetchMaxRefs]
	}

	var prefetched []types.Message
	for _, ref := range recentRefs {
		if len(prefetched) >= prefetchMaxSlices {
			break
		}
		if ref.ID == "" || !titleMatchesQuery(ref.Title, userQuery) {
			continue
		}
		slice, err := o.memory.GetSlice(ref.ID, 1, prefetchMaxLines)
		if err != nil {
			o.logger.Debug("prefetch slice failed",
				zap.String("memory_id", ref.ID), zap.Error(err))
			continue
		}
		title := ref.Title
		if title == "" {
			title = "memory"
		}
		prefetched = append(prefetched, types.Message{
			Role:     types.RoleSystem,
			Content:  fmt.Sprintf("[Prefetched context from %s]\n%s", title, slice),
			Metadata: map[string]any{"prefetched": true},
		})
	}

	if len(prefetched) == 0 {
		return messages, 0
	}
	o.logger.Info("prefetched memory slices", zap.Int("count", len(prefetched)))
	out := make([]types.Message, 0, len(prefetched)+len(messages))
	out = append(out, prefetched...)
	out = append(out, messages...)
	return out, len(prefetched)
}

// titleMatchesQuery matches when any of the first three title tokens
// with at least four characters appears in the query.
func titleMatchesQuery(title, query string) bool {
	words := strings.Fields(strings.ToLower(title))
	if len(words) > 3 {
		words = words[:3]
	}
	for _, word := range words {
		if len(word) >= prefetchMinToken && strings.Contains(query, word) {
			return true
		}
	}
	return false
}
