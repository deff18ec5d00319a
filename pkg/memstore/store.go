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

// Package memstore is the content-addressed memory store. Large message
// payloads are zstd-compressed into {root}/warm/{xx}/{sha256}.zst and
// indexed in a local SQLite table; messages carry memory_refs pointers
// instead of the raw bytes.
package memstore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	_ "github.com/teradata-labs/weft/internal/sqlitedriver"
)

// Memory type tags.
const (
	TypeToolOutput = "TOOL_OUTPUT"
	TypeWebScrape  = "WEB_SCRAPE"
	TypeFileList   = "FILE_LIST"
	TypeDocChunk   = "DOC_CHUNK"
)

const (
	// DefaultRootName is the store directory created under the workspace.
	DefaultRootName = ".aga_mem"
	warmDirname     = "warm"
	logsDirname     = "logs"
	opsLogName      = "ops.log"
	compressionLog  = "compression_report.log"
	sqliteFilename  = "meta.sqlite"

	// OffloadThreshold is the inline payload ceiling; message content
	// beyond this moves into the store.
	OffloadThreshold = 6 * 1024
	// SummaryChars is the inline summary length left in place of an
	// offloaded payload.
	SummaryChars = 800

	compressionLevel = 6
	readCacheEntries = 64
)

// ErrNotFound marks a missing memory id.
var ErrNotFound = errors.New("memstore: memory not found")

// Ref is the pointer returned by Put operations.
type Ref struct {
	MemoryID    string `json:"memory_id"`
	Mime        string `json:"mime"`
	Path        string `json:"path"`
	Compression string `json:"compression,omitempty"`
	Bytes       int    `json:"bytes"`
	Title       string `json:"title,omitempty"`
}

// Record is one metadata row.
type Record struct {
	MemoryID    string    `json:"memory_id"`
	Type        string    `json:"type"`
	Subtype     string    `json:"subtype,omitempty"`
	Mime        string    `json:"mime"`
	Bytes       int       `json:"bytes"`
	Compression string    `json:"compression,omitempty"`
	Path        string    `json:"path"`
	SHA256      string    `json:"sha256"`
	Title       string    `json:"title,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PutOptions carries the optional fields of PutText and PutBytes.
type PutOptions struct {
	Subtype string
	Mime    string
	Title   string
	Tags    []string
	// Compress applies zstd to PutBytes payloads; PutText always
	// compresses.
	Compress bool
}

// Store is the CAS memory store. Safe for concurrent use; writes to the
// SQLite index are serialized behind a single connection and lock.
type Store struct {
	baseDir string
	logger  *zap.Logger

	db   *sql.DB
	dbMu sync.Mutex

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	logMu sync.Mutex

	cache *lru.Cache[string, []byte]
}

// Open creates or reopens a memory store rooted at baseDir.
func Open(baseDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{baseDir, filepath.Join(baseDir, warmDirname), filepath.Join(baseDir, logsDirname)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("memstore: create %s: %w", dir, err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("memstore: create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: create zstd decoder: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(baseDir, sqliteFilename))
	if err != nil {
		return nil, fmt.Errorf("memstore: open metadata db: %w", err)
	}
	// A single connection keeps WAL writers serialized with the lock.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, errors.Join(fmt.Errorf("memstore: %s: %w", strings.TrimSuffix(pragma, ";"), err), db.Close())
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			memory_id   TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			subtype     TEXT,
			mime        TEXT NOT NULL DEFAULT 'text/plain',
			bytes       INTEGER NOT NULL,
			compression TEXT,
			path        TEXT NOT NULL,
			sha256      TEXT NOT NULL,
			title       TEXT,
			tags        TEXT,
			created_at  TEXT NOT NULL
		);
	`); err != nil {
		return nil, errors.Join(fmt.Errorf("memstore: create schema: %w", err), db.Close())
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type, created_at);"); err != nil {
		return nil, errors.Join(fmt.Errorf("memstore: create index: %w", err), db.Close())
	}

	cache, err := lru.New[string, []byte](readCacheEntries)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("memstore: create read cache: %w", err), db.Close())
	}

	return &Store{
		baseDir: baseDir,
		logger:  logger,
		db:      db,
		encoder: encoder,
		decoder: decoder,
		cache:   cache,
	}, nil
}

// Close releases the metadata connection and codec resources.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// PutText compresses and stores a text payload. The memory id is the
// SHA-256 digest of the compressed bytes; identical content is written
// once.
func (s *Store) PutText(content string, memType string, opts PutOptions) (*Ref, error) {
	if memType == "" {
		return nil, fmt.Errorf("memstore: type is required")
	}
	mime := opts.Mime
	if mime == "" {
		mime = "text/plain"
	}
	raw := []byte(content)
	compressed := s.encoder.EncodeAll(raw, nil)
	digest := sha256.Sum256(compressed)
	id := hex.EncodeToString(digest[:])

	relPath := filepath.Join(warmDirname, id[:2], id+".zst")
	if err := s.writeIfMissing(relPath, compressed); err != nil {
		return nil, err
	}
	if err := s.storeRow(id, memType, opts.Subtype, mime, len(raw), "zstd", relPath, opts.Title, opts.Tags); err != nil {
		return nil, err
	}

	s.logCompression(map[string]any{
		"memory_id":        id,
		"original_bytes":   len(raw),
		"compressed_bytes": len(compressed),
		"bytes_saved":      len(raw) - len(compressed),
		"ratio":            ratio(len(compressed), len(raw)),
	})
	s.logOps("put_text", map[string]any{
		"memory_id": id,
		"type":      memType,
		"subtype":   opts.Subtype,
		"mime":      mime,
		"bytes":     len(raw),
		"path":      relPath,
		"title":     opts.Title,
		"tags":      opts.Tags,
	})

	return &Ref{MemoryID: id, Mime: mime, Path: relPath, Compression: "zstd", Bytes: len(raw), Title: opts.Title}, nil
}

// PutBytes stores a binary payload, optionally compressed.
func (s *Store) PutBytes(data []byte, memType string, opts PutOptions) (*Ref, error) {
	if memType == "" {
		return nil, fmt.Errorf("memstore: type is required")
	}
	mime := opts.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}

	payload := data
	compression := ""
	if opts.Compress {
		payload = s.encoder.EncodeAll(data, nil)
		compression = "zstd"
	}
	digest := sha256.Sum256(payload)
	id := hex.EncodeToString(digest[:])

	name := id
	if compression == "zstd" {
		name += ".zst"
	}
	relPath := filepath.Join(warmDirname, id[:2], name)
	if err := s.writeIfMissing(relPath, payload); err != nil {
		return nil, err
	}
	if err := s.storeRow(id, memType, opts.Subtype, mime, len(data), compression, relPath, opts.Title, opts.Tags); err != nil {
		return nil, err
	}

	if compression == "zstd" {
		s.logCompression(map[string]any{
			"memory_id":        id,
			"original_bytes":   len(data),
			"compressed_bytes": len(payload),
			"bytes_saved":      len(data) - len(payload),
			"ratio":            ratio(len(payload), len(data)),
		})
	}
	s.logOps("put_bytes", map[string]any{
		"memory_id":   id,
		"type":        memType,
		"bytes":       len(data),
		"path":        relPath,
		"compression": compression,
	})

	return &Ref{MemoryID: id, Mime: mime, Path: relPath, Compression: compression, Bytes: len(data), Title: opts.Title}, nil
}

func (s *Store) writeIfMissing(relPath string, payload []byte) error {
	absPath := filepath.Join(s.baseDir, relPath)
	if _, err := os.Stat(absPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o750); err != nil {
		return fmt.Errorf("memstore: create shard dir: %w", err)
	}
	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("memstore: write payload: %w", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("memstore: finalize payload: %w", err)
	}
	return nil
}

func (s *Store) storeRow(id, memType, subtype, mime string, byteCount int, compression, relPath, title string, tags []string) error {
	var tagsJSON any
	if tags != nil {
		data, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("memstore: marshal tags: %w", err)
		}
		tagsJSON = string(data)
	}
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO memories
			(memory_id, type, subtype, mime, bytes, compression, path, sha256, title, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, memType, nullable(subtype), mime, byteCount, nullable(compression),
		relPath, id, nullable(title), tagsJSON, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("memstore: store metadata row: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ratio(compressed, original int) float64 {
	if original <= 0 {
		original = 1
	}
	return float64(compressed) / float64(original)
}

// GetMetadata returns the metadata record for a memory id.
func (s *Store) GetMetadata(memoryID string) (*Record, error) {
	return s.readRow(memoryID)
}

func (s *Store) readRow(memoryID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT memory_id, type, subtype, mime, bytes, compression, path, sha256, title, tags, created_at
		FROM memories WHERE memory_id = ?`, memoryID)

	var rec Record
	var subtype, compression, title, tagsJSON, createdAt sql.NullString
	err := row.Scan(&rec.MemoryID, &rec.Type, &subtype, &rec.Mime, &rec.Bytes,
		&compression, &rec.Path, &rec.SHA256, &title, &tagsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: read metadata row: %w", err)
	}
	rec.Subtype = subtype.String
	rec.Compression = compression.String
	rec.Title = title.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			rec.Tags = nil
		}
	}
	if createdAt.Valid {
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			rec.CreatedAt = t
		}
	}
	return &rec, nil
}

// loadPayload returns the decompressed payload for a record, through the
// read cache.
func (s *Store) loadPayload(rec *Record) ([]byte, error) {
	if cached, ok := s.cache.Get(rec.MemoryID); ok {
		return cached, nil
	}
	absPath := filepath.Join(s.baseDir, rec.Path)
	payload, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("memstore: payload missing for %s: %w", rec.MemoryID, err)
	}
	if rec.Compression == "zstd" {
		payload, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("memstore: decompress %s: %w", rec.MemoryID, err)
		}
	}
	s.cache.Add(rec.MemoryID, payload)
	return payload, nil
}

// GetSlice returns an inclusive line range [lineStart, lineEnd] from a
// text memory. Lines are 1-indexed.
func (s *Store) GetSlice(memoryID string, lineStart, lineEnd int) (string, error) {
	if lineStart < 1 || lineEnd < lineStart {
		return "", fmt.Errorf("memstore: invalid line range [%d, %d]", lineStart, lineEnd)
	}
	rec, err := s.readRow(memoryID)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(rec.Mime, "text/") {
		return "", fmt.Errorf("memstore: cannot slice non-text mime %q", rec.Mime)
	}
	payload, err := s.loadPayload(rec)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(payload), "\n")
	start := lineStart - 1
	if start > len(lines) {
		start = len(lines)
	}
	end := lineEnd
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// GetBytes returns a byte range [offset, offset+length) from a memory
// payload.
func (s *Store) GetBytes(memoryID string, offset, length int) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("memstore: offset must be >= 0 and length > 0")
	}
	rec, err := s.readRow(memoryID)
	if err != nil {
		return nil, err
	}
	payload, err := s.loadPayload(rec)
	if err != nil {
		return nil, err
	}
	if offset >= len(payload) {
		return []byte{}, nil
	}
	end := offset + length
	if end > len(payload) {
		end = len(payload)
	}
	return payload[offset:end], nil
}

// ListMemories returns records of one type, newest first.
func (s *Store) ListMemories(memType string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT memory_id FROM memories
		WHERE (? = '' OR type = ?)
		ORDER BY created_at DESC LIMIT ?`, memType, memType, limit)
	if err != nil {
		return nil, fmt.Errorf("memstore: list memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("memstore: scan memory id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memstore: list memories: %w", err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.readRow(id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// LogEvent appends an operational event to the ops log.
func (s *Store) LogEvent(event string, payload map[string]any) {
	s.logOps(event, payload)
}

func (s *Store) logOps(event string, payload map[string]any) {
	entry := map[string]any{"event": event}
	for k, v := range payload {
		entry[k] = v
	}
	s.appendLog(filepath.Join(s.baseDir, logsDirname, opsLogName), entry)
}

func (s *Store) logCompression(payload map[string]any) {
	s.appendLog(filepath.Join(s.baseDir, logsDirname, compressionLog), payload)
}

func (s *Store) appendLog(path string, payload map[string]any) {
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	line, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		s.logger.Debug("memstore log append failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Debug("memstore log write failed", zap.String("path", path), zap.Error(err))
	}
}
