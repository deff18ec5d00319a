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

package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/weft/internal/sqlitedriver"
	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
	"github.com/teradata-labs/weft/pkg/types"
)

// SQLiteStore is a conversation store over a local SQLite database with
// WAL journaling. Large tool payloads are offloaded to the memory store
// on insert and replaced with summary-plus-pointer content.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	memory *memstore.Store
	logger *zap.Logger
}

// OpenSQLite opens or creates the store at dbPath. The memory store is
// optional; without it payloads persist inline.
func OpenSQLite(dbPath string, memory *memstore.Store, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("threads: open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, errors.Join(fmt.Errorf("threads: %s: %w", strings.TrimSuffix(pragma, ";"), err), db.Close())
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			project_id TEXT PRIMARY KEY,
			sandbox    TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS threads (
			thread_id  TEXT PRIMARY KEY,
			project_id TEXT,
			account_id TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			message_id       TEXT PRIMARY KEY,
			thread_id        TEXT NOT NULL,
			type             TEXT NOT NULL,
			content          TEXT NOT NULL,
			is_llm_message   INTEGER NOT NULL DEFAULT 0,
			metadata         TEXT,
			agent_id         TEXT,
			agent_version_id TEXT,
			created_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
	`); err != nil {
		return nil, errors.Join(fmt.Errorf("threads: create schema: %w", err), db.Close())
	}
	return &SQLiteStore{db: db, memory: memory, logger: logger}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateThread registers a new thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, projectID, accountID string) (*Thread, error) {
	thread := &Thread{
		ThreadID:  uuid.NewString(),
		ProjectID: projectID,
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO threads (thread_id, project_id, account_id, created_at) VALUES (?, ?, ?, ?)",
		thread.ThreadID, projectID, accountID, thread.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("threads: create thread: %w", err)
	}
	return thread, nil
}

// GetThread returns a thread by id.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT thread_id, project_id, account_id, created_at FROM threads WHERE thread_id = ?", threadID)
	var thread Thread
	var projectID, accountID sql.NullString
	var createdAt string
	if err := row.Scan(&thread.ThreadID, &projectID, &accountID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
		}
		return nil, fmt.Errorf("threads: get thread: %w", err)
	}
	thread.ProjectID = projectID.String
	thread.AccountID = accountID.String
	thread.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &thread, nil
}

// UpsertProject stores a project and its sandbox descriptor.
func (s *SQLiteStore) UpsertProject(ctx context.Context, project *Project) error {
	sandboxJSON, err := json.Marshal(project.Sandbox)
	if err != nil {
		return fmt.Errorf("threads: marshal sandbox: %w", err)
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO projects (project_id, sandbox, created_at) VALUES (?, ?, ?)",
		project.ProjectID, string(sandboxJSON), project.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("threads: upsert project: %w", err)
	}
	return nil
}

// GetProject returns a project and its sandbox descriptor.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT project_id, sandbox, created_at FROM projects WHERE project_id = ?", projectID)
	var project Project
	var sandboxJSON sql.NullString
	var createdAt string
	if err := row.Scan(&project.ProjectID, &sandboxJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		return nil, fmt.Errorf("threads: get project: %w", err)
	}
	if sandboxJSON.Valid && sandboxJSON.String != "" {
		var desc sandbox.Descriptor
		if err := json.Unmarshal([]byte(sandboxJSON.String), &desc); err == nil {
			project.Sandbox = desc
		}
	}
	project.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &project, nil
}

// InsertMessage appends a message. Tool messages above the inline
// threshold are offloaded to the memory store first.
func (s *SQLiteStore) InsertMessage(ctx context.Context, threadID, msgType string, content any, isLLM bool, opts InsertOptions) (*MessageRecord, error) {
	processed := content
	if msgType == "tool" && s.memory != nil {
		toolName, _ := opts.Metadata["tool_name"].(string)
		processed = s.maybeOffload(content, toolName)
	}

	contentJSON, err := json.Marshal(processed)
	if err != nil {
		return nil, fmt.Errorf("threads: marshal content: %w", err)
	}
	var metadataJSON []byte
	if opts.Metadata != nil {
		metadataJSON, err = json.Marshal(opts.Metadata)
		if err != nil {
			return nil, fmt.Errorf("threads: marshal metadata: %w", err)
		}
	}

	record := &MessageRecord{
		MessageID:      uuid.NewString(),
		ThreadID:       threadID,
		Type:           msgType,
		Content:        processed,
		IsLLMMessage:   isLLM,
		Metadata:       opts.Metadata,
		AgentID:        opts.AgentID,
		AgentVersionID: opts.AgentVersionID,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, thread_id, type, content, is_llm_message, metadata, agent_id, agent_version_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.MessageID, threadID, msgType, string(contentJSON), boolToInt(isLLM),
		nullableString(string(metadataJSON)), nullableString(opts.AgentID),
		nullableString(opts.AgentVersionID), record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("threads: insert message: %w", err)
	}
	return record, nil
}

// maybeOffload moves large payloads into the memory store and replaces
// them with an 800-char summary plus memory_refs pointer. Any failure
// keeps the original content.
func (s *SQLiteStore) maybeOffload(content any, toolName string) any {
	text := extractText(content)
	if text == "" || len(text) <= memstore.OffloadThreshold {
		return content
	}

	memType := memstore.TypeToolOutput
	lowerTool := strings.ToLower(toolName)
	switch {
	case strings.Contains(lowerTool, "web") || strings.Contains(lowerTool, "search"):
		memType = memstore.TypeWebScrape
	case strings.Contains(lowerTool, "shell") || strings.Contains(lowerTool, "command"):
		memType = memstore.TypeFileList
	case strings.Contains(lowerTool, "doc") || strings.Contains(lowerTool, "parse"):
		memType = memstore.TypeDocChunk
	}

	title := toolName + " output"
	if toolName == "" {
		firstLine := strings.SplitN(text, "\n", 2)[0]
		if len(firstLine) > 100 {
			firstLine = firstLine[:100] + "..."
		}
		title = firstLine
	}

	var tags []string
	if toolName != "" {
		tags = []string{toolName}
	}
	ref, err := s.memory.PutText(text, memType, memstore.PutOptions{
		Subtype: toolName,
		Title:   title,
		Tags:    tags,
	})
	if err != nil {
		s.logger.Warn("failed to offload message content", zap.Error(err))
		return content
	}

	summary := text
	if len(summary) > memstore.SummaryChars {
		summary = summary[:memstore.SummaryChars] + "\n\n[see memory_refs for full content]"
	}
	tokensSaved := len(text) / 4
	memoryRefs := []any{map[string]any{
		"id":    ref.MemoryID,
		"title": ref.Title,
		"mime":  ref.Mime,
	}}

	s.logger.Info("offloaded message payload",
		zap.Int("chars", len(text)), zap.Int("tokens_saved", tokensSaved))

	if obj, ok := content.(map[string]any); ok {
		out := types.CloneValue(obj).(map[string]any)
		if _, has := out["content"]; has {
			out["content"] = summary
		} else if _, has := out["output"]; has {
			out["output"] = summary
		}
		out["memory_refs"] = memoryRefs
		out["tokens_saved"] = tokensSaved
		return out
	}
	return map[string]any{
		"role":         "tool",
		"content":      summary,
		"memory_refs":  memoryRefs,
		"tokens_saved": tokensSaved,
	}
}

func extractText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if inner, ok := v["content"].(string); ok {
			return inner
		}
		if output, ok := v["output"].(string); ok {
			return output
		}
		return types.ValueString(v)
	default:
		return types.ValueString(v)
	}
}

// ListLLMMessages returns a thread's LLM-visible messages oldest first,
// in FetchBatchSize pages.
func (s *SQLiteStore) ListLLMMessages(ctx context.Context, threadID string) ([]types.Message, error) {
	var messages []types.Message
	offset := 0
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT message_id, type, content, metadata FROM messages
			WHERE thread_id = ? AND is_llm_message = 1
			ORDER BY created_at ASC LIMIT ? OFFSET ?`,
			threadID, FetchBatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("threads: list messages: %w", err)
		}
		batch, err := scanMessages(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, batch...)
		if len(batch) < FetchBatchSize {
			break
		}
		offset += FetchBatchSize
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]types.Message, error) {
	defer rows.Close()
	var out []types.Message
	for rows.Next() {
		var messageID, msgType, contentJSON string
		var metadataJSON sql.NullString
		if err := rows.Scan(&messageID, &msgType, &contentJSON, &metadataJSON); err != nil {
			return nil, fmt.Errorf("threads: scan message: %w", err)
		}
		msg := decodeMessage(messageID, msgType, contentJSON, metadataJSON.String)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threads: iterate messages: %w", err)
	}
	return out, nil
}

// decodeMessage rebuilds a pipeline message from a stored row. Stored
// content that itself carries role/content/memory_refs fields (the
// offload shape) is unpacked into the message envelope.
func decodeMessage(messageID, msgType, contentJSON, metadataJSON string) types.Message {
	msg := types.Message{MessageID: messageID, Role: roleForType(msgType)}

	var content any
	if err := json.Unmarshal([]byte(contentJSON), &content); err != nil {
		msg.Content = contentJSON
	} else {
		msg.Content = content
	}

	if metadataJSON != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err == nil {
			msg.Metadata = metadata
		}
	}

	// Offloaded payloads store their pointer fields inside content;
	// surface them as metadata so pointer mode sees them.
	if obj, ok := msg.Content.(map[string]any); ok {
		if refs, has := obj["memory_refs"]; has {
			if msg.Metadata == nil {
				msg.Metadata = map[string]any{}
			}
			msg.Metadata["memory_refs"] = refs
			if saved, has := obj["tokens_saved"]; has {
				msg.Metadata["tokens_saved"] = saved
			}
		}
		if role, ok := obj["role"].(string); ok && role != "" {
			msg.Role = types.Role(role)
			if inner, has := obj["content"]; has {
				msg.Content = inner
			}
		}
	}
	return msg
}

func roleForType(msgType string) types.Role {
	switch msgType {
	case "user":
		return types.RoleUser
	case "assistant":
		return types.RoleAssistant
	case "tool":
		return types.RoleTool
	case "system":
		return types.RoleSystem
	default:
		return types.RoleUser
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
