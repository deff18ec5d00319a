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

// Package governor is the pre-LLM gate that enforces pointer-only mode
// when the prepared prompt grows past its thresholds. It never drops
// content; it only prepends directives.
package governor

import (
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

// Policy thresholds in estimated tokens.
const (
	// AdvisoryThreshold triggers the reference-and-summary reminder.
	AdvisoryThreshold = 20_000
	// StrictThreshold triggers the memory_fetch-only directive.
	StrictThreshold = 40_000
)

const advisoryDirective = "Context is growing large. Continue working from references and summaries; prefer cached artifacts and memory slices over repeating full content."

const strictDirective = "CRITICAL: Context is very large. You MUST use the memory_fetch tool to retrieve specific slices of offloaded content. Do NOT request full memories. Always use tight line ranges (<=200 lines) or byte ranges (<=64 KB)."

// Governor estimates prepared prompt size and prepends directives.
type Governor struct {
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates a governor.
func New(counter *tokens.Counter, logger *zap.Logger) *Governor {
	if counter == nil {
		counter = tokens.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{counter: counter, logger: logger}
}

// Apply returns the message list with any applicable directive
// prepended, plus the estimated token count.
func (g *Governor) Apply(messages []types.Message) ([]types.Message, int) {
	estimated := g.counter.CountMessages(messages)

	switch {
	case estimated > StrictThreshold:
		g.logger.Warn("token governor forcing pointer-only mode",
			zap.Int("estimated_tokens", estimated))
		return prepend(messages, strictDirective), estimated
	case estimated > AdvisoryThreshold:
		g.logger.Info("token governor advisory",
			zap.Int("estimated_tokens", estimated))
		return prepend(messages, advisoryDirective), estimated
	default:
		return messages, estimated
	}
}

func prepend(messages []types.Message, directive string) []types.Message {
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.Message{Role: types.RoleSystem, Content: directive})
	out = append(out, messages...)
	return out
}
