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

// Package gemini implements the llm.Provider interface over Google's
// genai SDK. The context planner uses it for its small flash-lite
// calls; it also serves as a main transport for Gemini-class models.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/types"
)

// DefaultPlannerModel is the small model the context planner targets.
const DefaultPlannerModel = "gemini-2.5-flash-lite"

// Config holds client configuration.
type Config struct {
	APIKey string
	Model  string
}

// Client is a Gemini-backed llm.Provider.
type Client struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultPlannerModel
	}
	return &Client{client: client, model: model, logger: logger}, nil
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		if idx := strings.LastIndex(m, "/"); idx >= 0 {
			m = m[idx+1:]
		}
		return m
	}
	return c.model
}

// buildRequest splits system messages into the system instruction and
// converts the rest into genai contents.
func buildRequest(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemParts []string
	var contents []*genai.Content
	for _, msg := range req.Messages {
		text := llm.MessageText(msg)
		if text == "" {
			continue
		}
		switch msg.Role {
		case types.RoleSystem:
			systemParts = append(systemParts, text)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func usageFrom(resp *genai.GenerateContentResponse) llm.Usage {
	usage := llm.Usage{}
	if resp != nil && resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.CacheReadInputTokens = int(resp.UsageMetadata.CachedContentTokenCount)
	}
	return usage
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}

// Chat performs a non-streaming call.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Result, error) {
	contents, cfg := buildRequest(req)
	resp, err := c.client.Models.GenerateContent(ctx, c.pickModel(req.Model), contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	return &llm.Result{
		Text:         resp.Text(),
		FinishReason: finishReason(resp),
		Usage:        usageFrom(resp),
	}, nil
}

// ChatStream performs a streaming call.
func (c *Client) ChatStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	contents, cfg := buildRequest(req)
	seq := c.client.Models.GenerateContentStream(ctx, c.pickModel(req.Model), contents, cfg)
	next, stop := iter.Pull2(seq)
	return &contentStream{next: next, stop: stop}, nil
}

type contentStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	current llm.Chunk
	err     error
	done    bool
}

func (s *contentStream) Next() bool {
	if s.done {
		return false
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			return false
		}
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		chunk := llm.Chunk{DeltaText: resp.Text()}
		if reason := finishReason(resp); reason != "" {
			chunk.FinishReason = reason
			usage := usageFrom(resp)
			chunk.Usage = &usage
		}
		if chunk.DeltaText == "" && chunk.FinishReason == "" {
			continue
		}
		s.current = chunk
		return true
	}
}

func (s *contentStream) Current() llm.Chunk { return s.current }
func (s *contentStream) Err() error         { return s.err }
func (s *contentStream) Close() error {
	s.stop()
	return nil
}
