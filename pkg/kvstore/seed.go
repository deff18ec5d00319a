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

package kvstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InstructionSeed is one built-in instruction bundle seeded into the
// instructions scope on first use.
type InstructionSeed struct {
	Tag         string
	Description string
	Content     string
}

// InstructionSeeds lists the bundled instruction files in declaration
// order. The planner's catalog and keyword fallback both follow this
// ordering.
var InstructionSeeds = []InstructionSeed{
	{
		Tag:         "presentation",
		Description: "Slide deck and presentation creation workflow: outline, themes, per-slide content, export.",
		Content: "When building presentations, start from a short outline the user approves, " +
			"then generate one slide at a time with a title, at most five bullet points, and " +
			"speaker notes. Prefer cached research artifacts over re-searching.",
	},
	{
		Tag:         "document_creation",
		Description: "Long-form document and report authoring: structure, drafting, citations, export formats.",
		Content: "When authoring documents, produce a section outline first, draft sections " +
			"incrementally, and pull verbatim source material from cached artifacts rather than " +
			"paraphrasing from memory. Embed charts through the visualization workflow.",
	},
	{
		Tag:         "research",
		Description: "Multi-source research workflow: search strategy, source tracking, synthesis.",
		Content: "For research tasks, plan searches before running them, cache every result set, " +
			"and synthesize from cached artifacts with explicit source attribution.",
	},
	{
		Tag:         "visualization",
		Description: "Chart and graph generation: data preparation, chart type selection, rendering.",
		Content: "For visualizations, normalize the underlying data first, pick the simplest " +
			"chart type that answers the question, and store generated chart data as artifacts.",
	},
	{
		Tag:         "web_development",
		Description: "Website and web app workflow: scaffolding, incremental builds, deploy checks.",
		Content: "For web projects, scaffold the minimal structure, build incrementally with " +
			"verification after each change, and keep large build output cached out of context.",
	},
}

// InstructionKey maps a tag to its key in the instructions scope.
func InstructionKey(tag string) string {
	return fmt.Sprintf("instruction_%s", tag)
}

// seedInstructions writes any missing built-in instruction files. Runs
// best-effort inside initialization; existing entries are left alone.
func (s *Store) seedInstructions(ctx context.Context) error {
	seeded := 0
	existing := s.loadIndex(ctx, ScopeInstructions)
	for _, seed := range InstructionSeeds {
		key := InstructionKey(seed.Tag)
		sanitized, err := SanitizeKey(key)
		if err != nil {
			continue
		}
		if _, ok := existing[sanitized]; ok {
			continue
		}
		_, err = s.putUnlocked(ctx, ScopeInstructions, key, seed.Content, PutOptions{
			Metadata: map[string]any{
				"tag":         seed.Tag,
				"description": seed.Description,
				"seeded":      true,
			},
		})
		if err != nil {
			s.logger.Debug("instruction seed skipped",
				zap.String("tag", seed.Tag), zap.Error(err))
			continue
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("seeded instruction files", zap.Int("count", seeded))
	}
	return nil
}
