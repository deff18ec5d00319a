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
	"encoding/json"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
)

// Event types emitted over the streaming surface.
const (
	EventStatus       = "status"
	EventAssistant    = "assistant"
	EventTool         = "tool"
	EventFinish       = "finish"
	EventThreadRunEnd = "thread_run_end"
)

// Event is one SSE-framed JSON message.
type Event struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// EventSink receives turn events.
type EventSink interface {
	Emit(event Event)
}

// NopSink discards events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

// SSESink publishes events onto an r3labs SSE stream.
type SSESink struct {
	server   *sse.Server
	streamID string
	logger   *zap.Logger
}

// NewSSESink creates a sink bound to one stream. The stream is created
// if absent.
func NewSSESink(server *sse.Server, streamID string, logger *zap.Logger) *SSESink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !server.StreamExists(streamID) {
		server.CreateStream(streamID)
	}
	return &SSESink{server: server, streamID: streamID, logger: logger}
}

// Emit implements EventSink.
func (s *SSESink) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal stream event", zap.Error(err))
		return
	}
	s.server.Publish(s.streamID, &sse.Event{Data: data})
}

// UsageTracker keeps a rolling 60-second window of token usage. It is
// advisory only: nothing in the pipeline reads it back for decisions.
type UsageTracker struct {
	mu     sync.Mutex
	window time.Duration
	events []usageEvent
}

type usageEvent struct {
	at    time.Time
	usage llm.Usage
}

// UsageTotals summarizes the current window.
type UsageTotals struct {
	Events     int `json:"events"`
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	CacheRead  int `json:"cache_read"`
	CacheWrite int `json:"cache_write"`
}

// NewUsageTracker creates a tracker with a 60s window.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{window: 60 * time.Second}
}

// Record adds a usage sample and returns the rolling totals.
func (t *UsageTracker) Record(usage llm.Usage) UsageTotals {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, usageEvent{at: now, usage: usage})
	cutoff := now.Add(-t.window)
	kept := t.events[:0]
	for _, event := range t.events {
		if event.at.After(cutoff) {
			kept = append(kept, event)
		}
	}
	t.events = kept

	totals := UsageTotals{Events: len(t.events)}
	for _, event := range t.events {
		totals.Prompt += event.usage.PromptTokens
		totals.Completion += event.usage.CompletionTokens
		totals.CacheRead += event.usage.CacheReadInputTokens
		totals.CacheWrite += event.usage.CacheCreationInputTokens
	}
	return totals
}
