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
	"context"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/r3labs/sse/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
	"github.com/teradata-labs/weft/pkg/llm/gemini"
	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/models"
	"github.com/teradata-labs/weft/pkg/runner"
	"github.com/teradata-labs/weft/pkg/threads"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SSE event surface with scheduled cache sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	kv := newKVStore()

	memory, err := memstore.Open(filepath.Join(cfg.Workspace, memstore.DefaultRootName), logger)
	if err != nil {
		return err
	}
	defer memory.Close()

	store, err := threads.OpenSQLite(cfg.ThreadDBPath, memory, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, plannerProvider, err := buildProviders(ctx)
	if err != nil {
		return err
	}

	sseServer := sse.New()
	sseServer.AutoReplay = false
	defer sseServer.Close()
	sink := runner.NewSSESink(sseServer, "events", logger)

	orchestrator := runner.New(runner.Config{
		Store:         store,
		Memory:        memory,
		KV:            kv,
		Provider:      provider,
		PlannerLLM:    plannerProvider,
		PlannerModel:  cfg.PlannerModel,
		FallbackModel: cfg.FallbackModel,
		Sink:          sink,
		Logger:        logger,
	})

	// Periodic prune sweep.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.PruneSchedule, func() {
		results, err := kv.PruneExpired(context.Background(), "")
		if err != nil {
			logger.Warn("scheduled prune failed", zap.Error(err))
			return
		}
		logger.Info("scheduled prune completed", zap.Any("results", results))
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", sseServer.ServeHTTP)
	mux.HandleFunc("/turn", turnHandler(store, orchestrator))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("weft serving",
		zap.String("addr", cfg.ListenAddr),
		zap.String("model", cfg.Model),
		zap.String("prune_schedule", cfg.PruneSchedule))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildProviders constructs the main transport and the planner client.
// Gemini-class main models share one client; otherwise Anthropic is the
// transport and Gemini serves only the planner.
func buildProviders(ctx context.Context) (llm.Provider, llm.Provider, error) {
	var plannerProvider llm.Provider
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.PlannerModel,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		plannerProvider = client
	}

	if models.IsGeminiClass(cfg.Model) && plannerProvider != nil {
		return plannerProvider, plannerProvider, nil
	}

	main := anthropic.NewClient(anthropic.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.Model,
	}, logger)
	return main, plannerProvider, nil
}
