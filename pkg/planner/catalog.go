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
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/kvstore"
)

// DefaultMaxArtifactCandidates caps the artifact catalog offered to the
// planner model.
const DefaultMaxArtifactCandidates = 8

// BuildInstructionCatalog lists every known instruction bundle: the
// built-in seed set, enriched with cache metadata for entries that are
// actually stored.
func BuildInstructionCatalog(ctx context.Context, store *kvstore.Store, logger *zap.Logger) []InstructionCandidate {
	if logger == nil {
		logger = zap.NewNop()
	}
	cached := map[string]*kvstore.EntryInfo{}
	if store != nil {
		entries, err := store.ListKeys(ctx, kvstore.ScopeInstructions, kvstore.ListOptions{})
		if err != nil {
			logger.Debug("failed to list instruction cache entries", zap.Error(err))
		}
		for _, entry := range entries {
			if !strings.HasPrefix(entry.Key, "instruction_") {
				continue
			}
			tag := strings.TrimPrefix(entry.Key, "instruction_")
			cached[tag] = entry
		}
	}

	candidates := make([]InstructionCandidate, 0, len(kvstore.InstructionSeeds))
	for _, seed := range kvstore.InstructionSeeds {
		candidate := InstructionCandidate{
			Tag:         seed.Tag,
			Description: seed.Description,
		}
		if entry, ok := cached[seed.Tag]; ok {
			// Rough tokens-per-two-bytes estimate mirrors instruction prose.
			candidate.TokensEstimate = int(entry.SizeBytes / 2)
			if candidate.TokensEstimate < 1 {
				candidate.TokensEstimate = 1
			}
			candidate.LastUpdated = entry.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
			candidate.Metadata = entry.Metadata
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// BuildArtifactCatalog projects the most recent artifacts into planner
// candidates, newest first, capped at maxCandidates.
func BuildArtifactCatalog(ctx context.Context, store *kvstore.Store, maxCandidates int, logger *zap.Logger) []ArtifactCandidate {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxArtifactCandidates
	}

	entries, err := store.ListKeys(ctx, kvstore.ScopeArtifacts, kvstore.ListOptions{})
	if err != nil {
		logger.Debug("failed to list cached artifacts", zap.Error(err))
		return nil
	}
	if len(entries) > maxCandidates {
		entries = entries[:maxCandidates]
	}

	candidates := make([]ArtifactCandidate, 0, len(entries))
	for _, entry := range entries {
		metadata := entry.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		summary, _ := metadata["summary"].(string)
		if summary == "" {
			summary, _ = metadata["description"].(string)
		}
		preview, _ := metadata["preview"].(string)
		sizeTokens := intFromAny(metadata["size_tokens"])
		if sizeTokens == 0 {
			if sizeChars := intFromAny(metadata["size_chars"]); sizeChars > 0 {
				sizeTokens = sizeChars / 4
				if sizeTokens < 1 {
					sizeTokens = 1
				}
			}
		}
		candidates = append(candidates, ArtifactCandidate{
			Key:         entry.Key,
			Scope:       kvstore.ScopeArtifacts,
			Description: summary,
			Preview:     preview,
			Summary:     summary,
			CreatedAt:   entry.CreatedAt,
			ExpiresAt:   entry.ExpiresAt,
			SizeBytes:   entry.SizeBytes,
			SizeTokens:  sizeTokens,
			Metadata:    metadata,
		})
	}
	return candidates
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
