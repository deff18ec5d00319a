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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const indexFilename = "_index.json"

// indexEntry is one row of a scope's _index.json file. Field names match
// the persisted schema.
type indexEntry struct {
	OriginalKey string         `json:"original_key"`
	Path        string         `json:"path"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	TTLHours    int            `json:"ttl_hours"`
	Metadata    map[string]any `json:"metadata"`
}

func (e *indexEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

type scopeIndex map[string]*indexEntry

// loadIndex reads a scope's index; a missing or unreadable index is an
// empty map so first writes bootstrap it.
func (s *Store) loadIndex(ctx context.Context, scope string) scopeIndex {
	data, err := s.fs.DownloadFile(ctx, s.indexPath(scope))
	if err != nil {
		return scopeIndex{}
	}
	idx := scopeIndex{}
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logger.Warn("kv index unreadable, treating as empty",
			zap.String("scope", scope), zap.Error(err))
		return scopeIndex{}
	}
	return idx
}

func (s *Store) saveIndex(ctx context.Context, scope string, idx scopeIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index for scope %s: %w", scope, err)
	}
	return s.fs.UploadFile(ctx, data, s.indexPath(scope))
}

// withIndexLock serializes a load-modify-save sequence against the scope
// index. The in-process mutex covers goroutines; the advisory file lock
// covers sibling processes sharing the workspace.
func (s *Store) withIndexLock(scope string, fn func() error) error {
	s.scopeMu(scope).Lock()
	defer s.scopeMu(scope).Unlock()

	fl := flock.New(s.indexLockPath(scope))
	if err := fl.Lock(); err == nil {
		defer fl.Unlock() //nolint:errcheck // advisory lock release
	}
	return fn()
}
