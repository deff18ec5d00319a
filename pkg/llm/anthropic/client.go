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

// Package anthropic implements the llm.Provider interface over the
// official Anthropic SDK.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

const (
	// DefaultModel is used when the request does not name one.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultMaxTokens caps generation when the request does not.
	DefaultMaxTokens = 4096
)

// Config holds client configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client is an Anthropic-backed llm.Provider.
type Client struct {
	sdk    sdk.Client
	model  string
	logger *zap.Logger
}

// NewClient creates an Anthropic client. An empty API key falls back to
// ANTHROPIC_API_KEY.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model, logger: logger}
}

func (c *Client) buildParams(req llm.Request) sdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var system []sdk.TextBlockParam
	var converted []sdk.MessageParam
	for _, msg := range req.Messages {
		text := llm.MessageText(msg)
		if text == "" {
			continue
		}
		switch msg.Role {
		case types.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: text})
		case types.RoleAssistant:
			converted = append(converted, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			// Tool results travel as user turns in this transport; the
			// pipeline has already rendered them to text.
			converted = append(converted, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		Messages:  converted,
		System:    system,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params
}

// Chat performs a non-streaming call.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Result, error) {
	params := c.buildParams(req)
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	return &llm.Result{
		Text:         text.String(),
		FinishReason: string(resp.StopReason),
		Usage: llm.Usage{
			PromptTokens:             int(resp.Usage.InputTokens),
			CompletionTokens:         int(resp.Usage.OutputTokens),
			CacheReadInputTokens:     int(resp.Usage.CacheReadInputTokens),
			CacheCreationInputTokens: int(resp.Usage.CacheCreationInputTokens),
		},
	}, nil
}

// ChatStream performs a streaming call.
func (c *Client) ChatStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params := c.buildParams(req)
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	return &messageStream{inner: stream}, nil
}

// eventSource is the slice of the SDK stream the adapter consumes.
type eventSource interface {
	Next() bool
	Current() sdk.MessageStreamEventUnion
	Err() error
	Close() error
}

type messageStream struct {
	inner   eventSource
	current llm.Chunk
	usage   llm.Usage
}

func (s *messageStream) Next() bool {
	for s.inner.Next() {
		event := s.inner.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			s.usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			s.usage.CacheReadInputTokens = int(ev.Message.Usage.CacheReadInputTokens)
			s.usage.CacheCreationInputTokens = int(ev.Message.Usage.CacheCreationInputTokens)
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				s.current = llm.Chunk{DeltaText: delta.Text}
				return true
			}
		case sdk.MessageDeltaEvent:
			s.usage.CompletionTokens = int(ev.Usage.OutputTokens)
			usage := s.usage
			s.current = llm.Chunk{
				FinishReason: string(ev.Delta.StopReason),
				Usage:        &usage,
			}
			return true
		}
	}
	return false
}

func (s *messageStream) Current() llm.Chunk { return s.current }
func (s *messageStream) Err() error         { return s.inner.Err() }
func (s *messageStream) Close() error       { return s.inner.Close() }
