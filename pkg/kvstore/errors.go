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

import "errors"

// Sentinel errors surfaced by the store. Callers distinguish them with
// errors.Is; anything else wrapping these is a filesystem-level failure.
var (
	// ErrValue marks an invalid key, scope, or over-size value. Never
	// retried.
	ErrValue = errors.New("kvstore: invalid value")
	// ErrQuota marks a write that would exceed the scope quota. The store
	// is left byte-identical.
	ErrQuota = errors.New("kvstore: quota exceeded")
	// ErrKeyNotFound marks a missing or expired key. Expired entries are
	// deleted on the read that discovers them.
	ErrKeyNotFound = errors.New("kvstore: key not found")
	// ErrStore wraps filesystem-level failures during store operations.
	ErrStore = errors.New("kvstore: store failure")
)
