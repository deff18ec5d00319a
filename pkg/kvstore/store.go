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

// Package kvstore implements the scoped, file-backed, TTL-bounded
// artifact store under {workspace}/.kv-cache. Each scope is a directory
// with one file per sanitized key and a _index.json describing every
// entry. Quotas are enforced before any file is written.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/sandbox"
)

const (
	// MaxValueBytes bounds a single stored value.
	MaxValueBytes = 50 * 1024 * 1024
	// DefaultRootName is the cache directory created under the workspace.
	DefaultRootName = ".kv-cache"
)

// ValueType selects the decoding applied by Get.
type ValueType string

const (
	AsAuto   ValueType = "auto"
	AsString ValueType = "str"
	AsBytes  ValueType = "bytes"
	AsDict   ValueType = "dict"
)

// EntryInfo is the metadata record returned by GetMetadata and ListKeys.
type EntryInfo struct {
	Key          string         `json:"key"`
	SanitizedKey string         `json:"sanitized_key"`
	Scope        string         `json:"scope"`
	Path         string         `json:"path"`
	ContentType  string         `json:"content_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Fingerprint  string         `json:"fingerprint"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	TTLHours     int            `json:"ttl_hours"`
	IsExpired    bool           `json:"is_expired"`
	Metadata     map[string]any `json:"metadata"`
}

// PutOptions carries the optional parameters of Put.
type PutOptions struct {
	// TTLHours overrides the scope default when non-nil.
	TTLHours *int
	// Metadata is stored verbatim alongside the entry.
	Metadata map[string]any
	// ContentType tags the stored bytes; inferred for map values.
	ContentType string
}

// Options configures a Store.
type Options struct {
	// Root is the cache root directory; defaults to
	// {workspace}/.kv-cache when Workspace is set.
	Root string
	// Workspace is the sandbox workspace root.
	Workspace string
	// TTLOverrideHours, when non-nil, globally overrides entry TTLs.
	// Values <= 0 disable expiry entirely.
	TTLOverrideHours *int
	// SeedInstructions enables best-effort seeding of the built-in
	// instruction files on first use.
	SeedInstructions bool
	Logger           *zap.Logger
}

// Store is the scoped artifact store. Safe for concurrent use.
type Store struct {
	fs     sandbox.FS
	root   string
	logger *zap.Logger

	ttlOverride *int
	seed        bool

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	scopeMus map[string]*sync.Mutex

	initMu      sync.Mutex
	initialized bool
}

// New creates a store over the given filesystem. Initialization is lazy:
// directories are created on the first Put or Get.
func New(fsys sandbox.FS, opts Options) *Store {
	root := opts.Root
	if root == "" {
		root = path.Join(opts.Workspace, DefaultRootName)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		fs:          fsys,
		root:        root,
		logger:      logger,
		ttlOverride: opts.TTLOverrideHours,
		seed:        opts.SeedInstructions,
		keyLocks:    map[string]*sync.Mutex{},
		scopeMus:    map[string]*sync.Mutex{},
	}
}

// Root returns the cache root path.
func (s *Store) Root() string { return s.root }

func (s *Store) scopePath(scope string) string {
	return path.Join(s.root, scope)
}

func (s *Store) keyPath(scope, sanitized string) string {
	return path.Join(s.scopePath(scope), sanitized)
}

func (s *Store) indexPath(scope string) string {
	return path.Join(s.scopePath(scope), indexFilename)
}

func (s *Store) indexLockPath(scope string) string {
	return path.Join(s.scopePath(scope), indexFilename+".lock")
}

func (s *Store) keyLock(scope, sanitized string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := scope + ":" + sanitized
	lock, ok := s.keyLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[id] = lock
	}
	return lock
}

func (s *Store) scopeMu(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.scopeMus[scope]
	if !ok {
		lock = &sync.Mutex{}
		s.scopeMus[scope] = lock
	}
	return lock
}

// ensureInitialized creates the cache root and every scope directory,
// then seeds instructions. Idempotent; failure to create the artifacts
// scope is surfaced because tool-output caching depends on it.
func (s *Store) ensureInitialized(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}

	if err := s.fs.MakeDir(ctx, s.root, 0o755); err != nil {
		return fmt.Errorf("%w: create cache root: %v", ErrStore, err)
	}
	for _, scope := range scopeNames {
		if err := s.fs.MakeDir(ctx, s.scopePath(scope), 0o755); err != nil {
			if scope == ScopeArtifacts {
				return fmt.Errorf("%w: create artifacts scope: %v", ErrStore, err)
			}
			s.logger.Warn("kv scope directory creation failed",
				zap.String("scope", scope), zap.Error(err))
		}
	}
	if _, err := s.fs.ListFiles(ctx, s.scopePath(ScopeArtifacts)); err != nil {
		return fmt.Errorf("%w: artifacts scope unavailable: %v", ErrStore, err)
	}

	if s.seed {
		if err := s.seedInstructions(ctx); err != nil {
			s.logger.Warn("instruction seeding failed", zap.Error(err))
		}
	}

	s.initialized = true
	s.logger.Debug("kv cache initialized", zap.String("root", s.root))
	return nil
}

// serializeValue converts a value to stored bytes. Strings encode as
// UTF-8, maps as indented JSON, bytes pass through verbatim.
func serializeValue(value any, contentType string) ([]byte, string, error) {
	switch v := value.(type) {
	case []byte:
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return v, contentType, nil
	case string:
		if contentType == "" {
			contentType = "text/plain"
		}
		return []byte(v), contentType, nil
	case map[string]any, []any:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("%w: serialize value: %v", ErrValue, err)
		}
		return data, "application/json", nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported value type %T", ErrValue, value)
	}
}

// Put stores a value and updates the scope index. Returns the file path.
func (s *Store) Put(ctx context.Context, scope, key string, value any, opts PutOptions) (string, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return "", err
	}
	return s.putUnlocked(ctx, scope, key, value, opts)
}

// putUnlocked is Put without the initialization check. It backs both
// Put and the seeding path that runs during initialization itself.
func (s *Store) putUnlocked(ctx context.Context, scope, key string, value any, opts PutOptions) (string, error) {
	if err := ValidateScope(scope); err != nil {
		return "", err
	}
	sanitized, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	data, contentType, err := serializeValue(value, opts.ContentType)
	if err != nil {
		return "", err
	}
	if len(data) > MaxValueBytes {
		return "", fmt.Errorf("%w: value size %.2fMB exceeds maximum %dMB",
			ErrValue, float64(len(data))/1024/1024, MaxValueBytes/1024/1024)
	}

	cfg := scopeConfigs[scope]
	ttl := cfg.DefaultTTLHours
	if opts.TTLHours != nil {
		ttl = *opts.TTLHours
	}
	if s.ttlOverride != nil {
		ttl = *s.ttlOverride
	}
	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		exp := now.Add(time.Duration(ttl) * time.Hour)
		expiresAt = &exp
	}

	filePath := s.keyPath(scope, sanitized)
	entry := &indexEntry{
		OriginalKey: key,
		Path:        filePath,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Fingerprint: Fingerprint(data),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		TTLHours:    ttl,
		Metadata:    opts.Metadata,
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	keyLock := s.keyLock(scope, sanitized)
	keyLock.Lock()
	defer keyLock.Unlock()

	err = s.withIndexLock(scope, func() error {
		idx := s.loadIndex(ctx, scope)
		if err := checkQuota(idx, cfg, sanitized, int64(len(data)), now); err != nil {
			return err
		}
		if err := s.fs.UploadFile(ctx, data, filePath); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrStore, filePath, err)
		}
		idx[sanitized] = entry
		if err := s.saveIndex(ctx, scope, idx); err != nil {
			// The orphan is tolerated until the next prune.
			s.logger.Warn("kv index write failed after successful file write",
				zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("kv cache put",
		zap.String("scope", scope), zap.String("key", key),
		zap.Int("size_bytes", len(data)), zap.Int("ttl_hours", ttl))
	return filePath, nil
}

// checkQuota sums live entry sizes and refuses writes that would push
// the scope over its quota. Replacing an existing key counts only the
// delta.
func checkQuota(idx scopeIndex, cfg ScopeConfig, sanitized string, newSize int64, now time.Time) error {
	maxBytes := cfg.MaxSizeMB * 1024 * 1024
	var current int64
	for name, entry := range idx {
		if name == sanitized || entry.expired(now) {
			continue
		}
		current += entry.SizeBytes
	}
	if current+newSize > maxBytes {
		return fmt.Errorf("%w: current=%.2fMB adding=%.2fMB max=%dMB",
			ErrQuota, float64(current)/1024/1024, float64(newSize)/1024/1024, cfg.MaxSizeMB)
	}
	return nil
}

// Get retrieves a value. Expired entries are deleted and reported as
// ErrKeyNotFound. A fingerprint mismatch is logged but the read proceeds
// with the file's actual bytes.
func (s *Store) Get(ctx context.Context, scope, key string, as ValueType) (any, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	idx := s.loadIndex(ctx, scope)
	entry, ok := idx[sanitized]
	if !ok {
		return nil, fmt.Errorf("%w: key %q in scope %q", ErrKeyNotFound, key, scope)
	}
	if entry.expired(time.Now().UTC()) {
		s.logger.Debug("kv cache key expired",
			zap.String("scope", scope), zap.String("key", key))
		if _, err := s.Delete(ctx, scope, key); err != nil {
			s.logger.Warn("failed to delete expired key",
				zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: key %q expired in scope %q", ErrKeyNotFound, key, scope)
	}

	data, err := s.fs.DownloadFile(ctx, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read key %q in scope %q: %v", ErrKeyNotFound, key, scope, err)
	}

	if actual := Fingerprint(data); actual != entry.Fingerprint {
		s.logger.Warn("kv cache fingerprint mismatch",
			zap.String("scope", scope), zap.String("key", key),
			zap.String("expected", entry.Fingerprint), zap.String("actual", actual))
	}

	return decodeValue(data, entry.ContentType, as)
}

func decodeValue(data []byte, contentType string, as ValueType) (any, error) {
	switch {
	case as == AsBytes:
		return data, nil
	case as == AsDict || (as == AsAuto && contentType == "application/json"):
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: parse JSON value: %v", ErrValue, err)
		}
		return out, nil
	default:
		return string(data), nil
	}
}

// GetMetadata returns the index record for a key with computed fields,
// without reading the value file.
func (s *Store) GetMetadata(ctx context.Context, scope, key string) (*EntryInfo, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	sanitized, err := SanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	idx := s.loadIndex(ctx, scope)
	entry, ok := idx[sanitized]
	if !ok {
		return nil, fmt.Errorf("%w: key %q in scope %q", ErrKeyNotFound, key, scope)
	}
	return entryInfo(scope, sanitized, entry, time.Now().UTC()), nil
}

func entryInfo(scope, sanitized string, entry *indexEntry, now time.Time) *EntryInfo {
	return &EntryInfo{
		Key:          entry.OriginalKey,
		SanitizedKey: sanitized,
		Scope:        scope,
		Path:         entry.Path,
		ContentType:  entry.ContentType,
		SizeBytes:    entry.SizeBytes,
		Fingerprint:  entry.Fingerprint,
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.ExpiresAt,
		TTLHours:     entry.TTLHours,
		IsExpired:    entry.expired(now),
		Metadata:     entry.Metadata,
	}
}

// Delete removes a key and its file. Returns false when the key is
// absent.
func (s *Store) Delete(ctx context.Context, scope, key string) (bool, error) {
	if err := ValidateScope(scope); err != nil {
		return false, err
	}
	sanitized, err := SanitizeKey(key)
	if err != nil {
		return false, err
	}

	keyLock := s.keyLock(scope, sanitized)
	keyLock.Lock()
	defer keyLock.Unlock()

	deleted := false
	err = s.withIndexLock(scope, func() error {
		idx := s.loadIndex(ctx, scope)
		entry, ok := idx[sanitized]
		if !ok {
			return nil
		}
		if err := s.fs.DeleteFile(ctx, entry.Path); err != nil {
			s.logger.Warn("failed to delete kv cache file",
				zap.String("path", entry.Path), zap.Error(err))
		}
		delete(idx, sanitized)
		deleted = true
		return s.saveIndex(ctx, scope, idx)
	})
	if err != nil {
		return deleted, fmt.Errorf("%w: delete %q in scope %q: %v", ErrStore, key, scope, err)
	}
	return deleted, nil
}

// ListOptions filters ListKeys output.
type ListOptions struct {
	// Pattern is a regular expression applied to the original key.
	Pattern string
	// IncludeExpired retains expired entries in the listing.
	IncludeExpired bool
}

// ListKeys lists entries across one or all scopes, newest first.
func (s *Store) ListKeys(ctx context.Context, scope string, opts ListOptions) ([]*EntryInfo, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	scopes := scopeNames
	if scope != "" {
		if err := ValidateScope(scope); err != nil {
			return nil, err
		}
		scopes = []string{scope}
	}

	var pattern *regexp.Regexp
	if opts.Pattern != "" {
		compiled, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern: %v", ErrValue, err)
		}
		pattern = compiled
	}

	now := time.Now().UTC()
	var results []*EntryInfo
	for _, sc := range scopes {
		idx := s.loadIndex(ctx, sc)
		for sanitized, entry := range idx {
			info := entryInfo(sc, sanitized, entry, now)
			if !opts.IncludeExpired && info.IsExpired {
				continue
			}
			if pattern != nil && !pattern.MatchString(info.Key) {
				continue
			}
			results = append(results, info)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// PruneExpired deletes expired entries. Returns per-scope counts; a
// scope that fails to prune reports -1.
func (s *Store) PruneExpired(ctx context.Context, scope string) (map[string]int, error) {
	scopes := scopeNames
	if scope != "" {
		if err := ValidateScope(scope); err != nil {
			return nil, err
		}
		scopes = []string{scope}
	}

	results := map[string]int{}
	for _, sc := range scopes {
		infos, err := s.ListKeys(ctx, sc, ListOptions{IncludeExpired: true})
		if err != nil {
			results[sc] = -1
			continue
		}
		pruned := 0
		for _, info := range infos {
			if !info.IsExpired {
				continue
			}
			if ok, err := s.Delete(ctx, sc, info.Key); err == nil && ok {
				pruned++
			}
		}
		results[sc] = pruned
		if pruned > 0 {
			s.logger.Info("kv cache pruned expired keys",
				zap.String("scope", sc), zap.Int("count", pruned))
		}
	}
	return results, nil
}

// ScopeStats summarizes one scope's usage.
type ScopeStats struct {
	TotalKeys        int     `json:"total_keys"`
	ActiveKeys       int     `json:"active_keys"`
	ExpiredKeys      int     `json:"expired_keys"`
	TotalSizeMB      float64 `json:"total_size_mb"`
	QuotaMB          int64   `json:"quota_mb"`
	QuotaUsedPercent float64 `json:"quota_used_percent"`
	DefaultTTLHours  int     `json:"default_ttl_hours"`
}

// GetStats reports usage and quota utilization per scope.
func (s *Store) GetStats(ctx context.Context, scope string) (map[string]ScopeStats, error) {
	scopes := scopeNames
	if scope != "" {
		if err := ValidateScope(scope); err != nil {
			return nil, err
		}
		scopes = []string{scope}
	}

	results := map[string]ScopeStats{}
	for _, sc := range scopes {
		infos, err := s.ListKeys(ctx, sc, ListOptions{IncludeExpired: true})
		if err != nil {
			return nil, err
		}
		cfg := scopeConfigs[sc]
		var totalSize int64
		expired := 0
		for _, info := range infos {
			totalSize += info.SizeBytes
			if info.IsExpired {
				expired++
			}
		}
		quotaBytes := cfg.MaxSizeMB * 1024 * 1024
		results[sc] = ScopeStats{
			TotalKeys:        len(infos),
			ActiveKeys:       len(infos) - expired,
			ExpiredKeys:      expired,
			TotalSizeMB:      float64(totalSize) / 1024 / 1024,
			QuotaMB:          cfg.MaxSizeMB,
			QuotaUsedPercent: float64(totalSize) / float64(quotaBytes) * 100,
			DefaultTTLHours:  cfg.DefaultTTLHours,
		}
	}
	return results, nil
}

// ClearScope deletes every key in a scope. Returns the number deleted.
func (s *Store) ClearScope(ctx context.Context, scope string) (int, error) {
	if err := ValidateScope(scope); err != nil {
		return 0, err
	}
	infos, err := s.ListKeys(ctx, scope, ListOptions{IncludeExpired: true})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, info := range infos {
		if ok, err := s.Delete(ctx, scope, info.Key); err == nil && ok {
			deleted++
		}
	}
	s.logger.Info("kv cache scope cleared",
		zap.String("scope", scope), zap.Int("deleted", deleted))
	return deleted, nil
}

// IsNotFound reports whether an error is a missing/expired key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
