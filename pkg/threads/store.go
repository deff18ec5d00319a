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

// Package threads is the conversation store consumed by the run
// orchestrator: an authoritative, timestamp-ordered message log per
// thread. The core never rewrites persisted messages; compression and
// hydration touch in-memory copies only.
package threads

import (
	"context"
	"errors"
	"time"

	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/types"
)

// ErrNotFound marks a missing thread, project, or message.
var ErrNotFound = errors.New("threads: not found")

// FetchBatchSize is the page size for message listing.
const FetchBatchSize = 1000

// Thread is one conversation.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	ProjectID string    `json:"project_id,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Project groups threads and carries the sandbox descriptor.
type Project struct {
	ProjectID string             `json:"project_id"`
	Sandbox   sandbox.Descriptor `json:"sandbox"`
	CreatedAt time.Time          `json:"created_at"`
}

// MessageRecord is one persisted message row.
type MessageRecord struct {
	MessageID      string         `json:"message_id"`
	ThreadID       string         `json:"thread_id"`
	Type           string         `json:"type"`
	Content        any            `json:"content"`
	IsLLMMessage   bool           `json:"is_llm_message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	AgentVersionID string         `json:"agent_version_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// InsertOptions carries the optional fields of InsertMessage.
type InsertOptions struct {
	Metadata       map[string]any
	AgentID        string
	AgentVersionID string
}

// Store is the conversation store contract.
type Store interface {
	// CreateThread registers a new thread.
	CreateThread(ctx context.Context, projectID, accountID string) (*Thread, error)
	// GetThread returns a thread by id.
	GetThread(ctx context.Context, threadID string) (*Thread, error)
	// GetProject returns a project and its sandbox descriptor.
	GetProject(ctx context.Context, projectID string) (*Project, error)
	// InsertMessage appends a message to a thread.
	InsertMessage(ctx context.Context, threadID, msgType string, content any, isLLM bool, opts InsertOptions) (*MessageRecord, error)
	// ListLLMMessages returns a thread's LLM-visible messages oldest to
	// newest, fetched in FetchBatchSize pages.
	ListLLMMessages(ctx context.Context, threadID string) ([]types.Message, error)
}
