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

package llm

import (
	"strings"
	"time"
)

// Retry policy for transport errors.
const (
	BaseBackoff = 1 * time.Second
	MaxBackoff  = 8 * time.Second
	MaxAttempts = 3
)

// benignMarkers identify control-flow errors that must never trigger a
// model fallback: the request itself was fine, the turn just ends.
var benignMarkers = []string{
	"not found", "cancelled", "canceled", "stopped by user",
	"billing", "insufficient credit", "auth", "unauthorized", "forbidden",
}

// rateLimitMarkers identify throttling responses; counted separately so
// the caller can decide on fallback.
var rateLimitMarkers = []string{
	"rate limit", "rate_limit", "429", "too many requests", "overloaded",
}

// retryableMarkers identify transient transport failures.
var retryableMarkers = []string{
	"timeout", "timed out", "connection", "temporarily unavailable",
	"500", "502", "503", "504", "internal server error", "server error",
}

func matchesAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsBenign reports control errors that are surfaced as-is, without
// retry or fallback.
func IsBenign(err error) bool {
	return matchesAny(err, benignMarkers)
}

// IsRateLimit reports throttling errors.
func IsRateLimit(err error) bool {
	return matchesAny(err, rateLimitMarkers)
}

// IsRetryable reports transient errors worth another attempt.
func IsRetryable(err error) bool {
	if IsBenign(err) {
		return false
	}
	return IsRateLimit(err) || matchesAny(err, retryableMarkers)
}

// Backoff returns the delay before the given zero-based attempt, with
// exponential growth capped at MaxBackoff.
func Backoff(attempt int) time.Duration {
	delay := BaseBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	return delay
}
