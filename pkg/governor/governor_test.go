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

package governor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/types"
)

func messagesOfTokens(tokenCount int) []types.Message {
	return []types.Message{{
		Role:    types.RoleUser,
		Content: strings.TrimSpace(strings.Repeat("word ", tokenCount)),
	}}
}

func TestUnderThresholdUntouched(t *testing.T) {
	g := New(nil, nil)
	messages := messagesOfTokens(1000)
	out, estimated := g.Apply(messages)
	assert.Equal(t, messages, out)
	assert.Less(t, estimated, AdvisoryThreshold)
}

func TestAdvisoryTier(t *testing.T) {
	g := New(nil, nil)
	messages := messagesOfTokens(25_000)
	out, estimated := g.Apply(messages)

	require.Len(t, out, 2, "advisory prepends one system message")
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].ContentString(), "references and summaries")
	assert.Equal(t, messages[0], out[1], "original content is never dropped")
	assert.Greater(t, estimated, AdvisoryThreshold)
	assert.LessOrEqual(t, estimated, StrictThreshold)
}

func TestStrictTier(t *testing.T) {
	g := New(nil, nil)
	messages := messagesOfTokens(50_000)
	out, estimated := g.Apply(messages)

	require.Len(t, out, 2)
	content := out[0].ContentString()
	assert.Contains(t, content, "memory_fetch")
	assert.Contains(t, content, "Do NOT request full memories")
	assert.Equal(t, messages[0], out[1])
	assert.Greater(t, estimated, StrictThreshold)
}
