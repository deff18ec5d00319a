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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Scope names. Each scope has its own TTL default and size quota.
const (
	ScopeSystem       = "system"
	ScopeInstructions = "instructions"
	ScopeProject      = "project"
	ScopeTask         = "task"
	ScopeArtifacts    = "artifacts"
)

// ScopeConfig carries per-scope retention and quota settings.
type ScopeConfig struct {
	DefaultTTLHours int
	MaxSizeMB       int64
}

// scopeConfigs is the fixed scope table. Order in scopeNames drives
// deterministic iteration for stats and pruning.
var scopeConfigs = map[string]ScopeConfig{
	ScopeSystem:       {DefaultTTLHours: 168, MaxSizeMB: 10},
	ScopeInstructions: {DefaultTTLHours: 168, MaxSizeMB: 5},
	ScopeProject:      {DefaultTTLHours: 72, MaxSizeMB: 20},
	ScopeTask:         {DefaultTTLHours: 24, MaxSizeMB: 100},
	ScopeArtifacts:    {DefaultTTLHours: 48, MaxSizeMB: 200},
}

var scopeNames = []string{ScopeSystem, ScopeInstructions, ScopeProject, ScopeTask, ScopeArtifacts}

// Scopes returns the scope names in canonical order.
func Scopes() []string {
	out := make([]string, len(scopeNames))
	copy(out, scopeNames)
	return out
}

// ConfigFor returns the scope configuration.
func ConfigFor(scope string) (ScopeConfig, bool) {
	cfg, ok := scopeConfigs[scope]
	return cfg, ok
}

// ValidateScope checks a scope name against the fixed table.
func ValidateScope(scope string) error {
	if _, ok := scopeConfigs[scope]; !ok {
		return fmt.Errorf("%w: invalid scope %q, must be one of %v", ErrValue, scope, scopeNames)
	}
	return nil
}

// MaxKeyLength bounds raw key size.
const MaxKeyLength = 255

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeKey maps a raw key to its filesystem-safe name. Characters
// outside [A-Za-z0-9._-] become underscores. Traversal components are
// rejected outright rather than rewritten.
func SanitizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: key must be non-empty", ErrValue)
	}
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("%w: key exceeds maximum length of %d", ErrValue, MaxKeyLength)
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: key contains invalid path components", ErrValue)
	}
	sanitized := unsafeKeyChars.ReplaceAllString(key, "_")
	if strings.Contains(sanitized, "..") || strings.HasPrefix(sanitized, "/") {
		return "", fmt.Errorf("%w: key contains invalid path components", ErrValue)
	}
	return sanitized, nil
}

// Fingerprint returns the first 16 hex characters of the SHA-256 digest
// over the exact bytes written.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
