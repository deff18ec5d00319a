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

// Package tokens provides token counting for LLM context management.
// Uses tiktoken with cl100k_base encoding, which is a good approximation
// across Claude and Gemini class models.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/weft/pkg/types"
)

// messageOverhead approximates role and framing tokens per message.
const messageOverhead = 10

// Counter counts tokens with a shared tiktoken encoder. The zero value
// is not usable; call NewCounter or Default.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	defaultCounter *Counter
	defaultOnce    sync.Once
)

// Default returns the process-wide counter. The encoder loads lazily;
// if tiktoken initialization fails the counter falls back to chars/4.
func Default() *Counter {
	defaultOnce.Do(func() {
		defaultCounter = NewCounter()
	})
	return defaultCounter
}

// NewCounter creates a counter with the cl100k_base encoding.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{encoder: nil}
	}
	return &Counter{encoder: enc}
}

// CountText returns the token count for a text fragment.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		return Approx(len(text))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessage returns the token count for one message including
// structural overhead.
func (c *Counter) CountMessage(msg types.Message) int {
	return messageOverhead + c.CountText(msg.ContentString())
}

// CountMessages sums token counts across a message slice.
func (c *Counter) CountMessages(messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += c.CountMessage(msg)
	}
	return total
}

// CountValue counts tokens for arbitrary content (string or structured).
func (c *Counter) CountValue(v any) int {
	return c.CountText(types.ValueString(v))
}

// Approx estimates tokens from a character count at 4 chars per token.
func Approx(chars int) int {
	return chars / 4
}
