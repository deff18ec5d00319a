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

package types

// ArtifactReference is the lightweight in-band replacement for an
// offloaded value. It never contains the full original payload; callers
// hydrate through the expand path or the store directly.
type ArtifactReference struct {
	Cached        bool           `json:"_cached"`
	ArtifactKey   string         `json:"artifact_key"`
	Scope         string         `json:"scope"`
	ContentType   string         `json:"content_type"`
	SourceID      string         `json:"source_id,omitempty"`
	Preview       string         `json:"preview"`
	Summary       string         `json:"summary"`
	SizeTokens    int            `json:"size_tokens"`
	SizeChars     int            `json:"size_chars"`
	RetrievalHint string         `json:"retrieval_hint"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AsMap renders the reference as a JSON-like map for embedding directly
// into message content.
func (r *ArtifactReference) AsMap() map[string]any {
	m := map[string]any{
		"_cached":        true,
		"artifact_key":   r.ArtifactKey,
		"scope":          r.Scope,
		"content_type":   r.ContentType,
		"preview":        r.Preview,
		"summary":        r.Summary,
		"size_tokens":    r.SizeTokens,
		"size_chars":     r.SizeChars,
		"retrieval_hint": r.RetrievalHint,
	}
	if r.SourceID != "" {
		m["source_id"] = r.SourceID
	}
	if len(r.Metadata) > 0 {
		m["metadata"] = CloneValue(r.Metadata)
	}
	return m
}

// RefFromMap recognizes an artifact reference embedded in a content map.
// Returns the key and scope when the map is a pointer, or ok=false.
func RefFromMap(obj map[string]any) (key, scope string, ok bool) {
	cached, _ := obj["_cached"].(bool)
	if !cached {
		return "", "", false
	}
	key, _ = obj["artifact_key"].(string)
	if key == "" {
		return "", "", false
	}
	scope, _ = obj["scope"].(string)
	if scope == "" {
		scope = "artifacts"
	}
	return key, scope, true
}
