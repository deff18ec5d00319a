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
package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/runner"
	"github.com/teradata-labs/weft/pkg/threads"
	"github.com/teradata-labs/weft/pkg/types"
)

type turnRequest struct {
	ThreadID       string `json:"thread_id"`
	Message        string `json:"message"`
	SystemPrompt   string `json:"system_prompt"`
	Model          string `json:"model,omitempty"`
	AggressiveMode bool   `json:"aggressive_mode,omitempty"`
}

type turnResponse struct {
	Text            string `json:"text"`
	Model           string `json:"model"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// turnHandler accepts a user message, persists it, and runs one full
// pipeline turn. Events stream separately over /events.
func turnHandler(store threads.Store, orchestrator *runner.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ThreadID == "" || req.Message == "" {
			http.Error(w, "thread_id and message are required", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if _, err := store.InsertMessage(ctx, req.ThreadID, "user",
			map[string]any{"role": "user", "content": req.Message}, true,
			threads.InsertOptions{}); err != nil {
			logger.Warn("failed to persist user message", zap.Error(err))
			http.Error(w, "failed to persist message", http.StatusInternalServerError)
			return
		}

		model := req.Model
		if model == "" {
			model = cfg.Model
		}
		result, err := orchestrator.RunTurn(ctx, runner.TurnOptions{
			ThreadID:       req.ThreadID,
			SystemPrompt:   types.Message{Role: types.RoleSystem, Content: req.SystemPrompt},
			UserRequest:    req.Message,
			Model:          model,
			AggressiveMode: req.AggressiveMode || cfg.AggressiveMode,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(turnResponse{
			Text:            result.Text,
			Model:           result.ModelUsed,
			EstimatedTokens: result.EstimatedTokens,
		})
	}
}
