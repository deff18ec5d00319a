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

// Package llm defines the transport interface between the context
// pipeline and model providers, plus the retry and fallback
// classification shared by callers.
package llm

import (
	"context"
	"strings"

	"github.com/teradata-labs/weft/pkg/types"
)

// ToolSchema describes one callable tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object for the tool arguments.
	InputSchema map[string]any
}

// Request is one chat call.
type Request struct {
	Messages    []types.Message
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolSchema
	ToolChoice  string
	Stream      bool
}

// Usage carries provider token telemetry, including prompt cache
// accounting.
type Usage struct {
	PromptTokens             int
	CompletionTokens         int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// Chunk is one streamed delta.
type Chunk struct {
	DeltaText    string
	FinishReason string
	Usage        *Usage
}

// Stream is a lazy sequence of chunks.
type Stream interface {
	// Next advances to the next chunk; false at end of stream or error.
	Next() bool
	// Current returns the chunk at the cursor.
	Current() Chunk
	// Err returns the terminal error, if any.
	Err() error
	// Close releases the underlying connection.
	Close() error
}

// Result is a completed non-streaming response.
type Result struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Provider is a chat-capable model backend.
type Provider interface {
	// Chat performs a non-streaming call.
	Chat(ctx context.Context, req Request) (*Result, error)
	// ChatStream performs a streaming call.
	ChatStream(ctx context.Context, req Request) (Stream, error)
}

// Complete runs a non-streaming call and returns the response text.
func Complete(ctx context.Context, provider Provider, req Request) (string, error) {
	req.Stream = false
	result, err := provider.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// MessageText flattens a pipeline message's content into plain text for
// providers without structured content support. Content-part lists
// concatenate their text fields.
func MessageText(msg types.Message) string {
	if parts, ok := msg.Content.([]any); ok {
		var b strings.Builder
		for _, part := range parts {
			obj, ok := part.(map[string]any)
			if !ok {
				b.WriteString(types.ValueString(part))
				continue
			}
			if text, ok := obj["text"].(string); ok {
				b.WriteString(text)
				continue
			}
			b.WriteString(types.ValueString(obj))
		}
		return b.String()
	}
	return msg.ContentString()
}
