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

// Package runner drives one agent turn end to end: load messages,
// expand or preserve pointers, compress, plan context, hydrate, tier
// the prompt cache, gate token usage, and dispatch to the model with
// retry and optional fallback.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/pkg/compressor"
	"github.com/teradata-labs/weft/pkg/governor"
	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/memstore"
	"github.com/teradata-labs/weft/pkg/models"
	"github.com/teradata-labs/weft/pkg/offload"
	"github.com/teradata-labs/weft/pkg/planner"
	"github.com/teradata-labs/weft/pkg/promptcache"
	"github.com/teradata-labs/weft/pkg/retrieval"
	"github.com/teradata-labs/weft/pkg/threads"
	"github.com/teradata-labs/weft/pkg/tokens"
	"github.com/teradata-labs/weft/pkg/types"
)

// recentExpansionWindow is how many of the freshest messages get their
// artifact pointers hydrated back into full content each turn.
const recentExpansionWindow = 3

// Orchestrator wires the pipeline components for per-turn execution.
type Orchestrator struct {
	store      threads.Store
	memory     *memstore.Store
	kv         *kvstore.Store
	offloader  *offload.Offloader
	compressor *compressor.Compressor
	planner    *planner.Planner
	renderer   *retrieval.Renderer
	governor   *governor.Governor
	provider   llm.Provider
	counter    *tokens.Counter
	tracker    *UsageTracker
	sink       EventSink
	logger     *zap.Logger

	fallbackModel string
}

// Config wires an Orchestrator. Store and Provider are required; every
// other collaborator degrades gracefully when absent.
type Config struct {
	Store         threads.Store
	Memory        *memstore.Store
	KV            *kvstore.Store
	Provider      llm.Provider
	PlannerLLM    llm.Provider
	PlannerModel  string
	FallbackModel string
	Counter       *tokens.Counter
	Sink          EventSink
	Logger        *zap.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := cfg.Counter
	if counter == nil {
		counter = tokens.Default()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{
		store:         cfg.Store,
		memory:        cfg.Memory,
		kv:            cfg.KV,
		offloader:     offload.New(cfg.KV, counter, logger),
		compressor:    compressor.New(counter, logger),
		planner:       planner.New(cfg.PlannerLLM, planner.Options{Model: cfg.PlannerModel, Logger: logger}),
		renderer:      retrieval.New(cfg.KV, logger),
		governor:      governor.New(counter, logger),
		provider:      cfg.Provider,
		counter:       counter,
		tracker:       NewUsageTracker(),
		sink:          sink,
		logger:        logger,
		fallbackModel: cfg.FallbackModel,
	}
}

// Offloader exposes the content offloader for tool integrations.
func (o *Orchestrator) Offloader() *offload.Offloader { return o.offloader }

// TurnOptions parameterizes one turn.
type TurnOptions struct {
	ThreadID       string
	SystemPrompt   types.Message
	UserRequest    string
	Model          string
	Temperature    float64
	MaxTokens      int
	AggressiveMode bool
	Stream         bool
}

// TurnResult reports one completed turn.
type TurnResult struct {
	Text              string
	ModelUsed         string
	Usage             llm.Usage
	CompressionReport *compressor.Report
	CacheDiagnostics  *promptcache.Diagnostics
	PlannerTelemetry  retrieval.Telemetry
	PrefetchedSlices  int
	AdaptiveMessages  int
	EstimatedTokens   int
}

// RunTurn executes the full per-turn pipeline. Stage order is strict:
// no stage observes partial output of its successor.
func (o *Orchestrator) RunTurn(ctx context.Context, opts TurnOptions) (*TurnResult, error) {
	result := &TurnResult{ModelUsed: opts.Model}
	o.emitStatus("turn_started", map[string]any{"thread_id": opts.ThreadID, "model": opts.Model})

	// 1. Load the full message history, oldest to newest.
	messages, err := o.store.ListLLMMessages(ctx, opts.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("runner: load messages: %w", err)
	}

	// 2. Note adaptive input that arrived mid-turn.
	for _, msg := range messages {
		if msg.Metadata != nil {
			if adaptive, _ := msg.Metadata["adaptive_input"].(bool); adaptive {
				result.AdaptiveMessages++
			}
		}
	}

	// 3. Opportunistic memory-slice prefetch.
	messages, result.PrefetchedSlices = o.prefetchMemorySlices(messages)

	// 3b. Hydrate artifact pointers in the freshest turns; older
	// messages keep their references.
	messages = o.offloader.ExpandCachedRefs(ctx, messages, offload.ExpandOptions{
		AutoExpand:         true,
		ExpandRecentOnly:   true,
		RecentMessageCount: recentExpansionWindow,
	})

	// 4. Deterministic compression in pointer mode.
	compressed, report := o.compressor.Compress(messages, opts.Model, compressor.Options{
		SystemPrompt: &opts.SystemPrompt,
		PointerMode:  true,
	})
	result.CompressionReport = report
	o.logger.Info("context compression", zap.String("summary", report.SummaryLine()))

	// 5. Plan and hydrate auto-loaded context; the system prompt copy is
	// per-turn, the authoritative prompt is never mutated.
	workingPrompt := opts.SystemPrompt.Clone()
	userRequest := opts.UserRequest
	if userRequest == "" {
		userRequest = latestUserRequest(compressed)
	}
	if o.kv != nil && userRequest != "" {
		plan := o.planner.Plan(ctx, planner.Inputs{
			UserRequest:        userRequest,
			InstructionCatalog: planner.BuildInstructionCatalog(ctx, o.kv, o.logger),
			ArtifactCatalog:    planner.BuildArtifactCatalog(ctx, o.kv, 0, o.logger),
			ProjectSummaryPreview: func() string {
				summary := o.projectSummary(ctx)
				if len(summary) > 400 {
					return summary[:400]
				}
				return summary
			}(),
			AggressiveMode: opts.AggressiveMode,
		})
		rendered := o.renderer.Render(ctx, plan, o.projectSummary(ctx), opts.AggressiveMode)
		result.PlannerTelemetry = rendered.Telemetry
		if rendered.Section != "" {
			workingPrompt.Content = workingPrompt.ContentString() + rendered.Section
		}
	}

	// 6. Provider cache tiering.
	window := models.ContextWindow(opts.Model)
	prepared, diagnostics := promptcache.Apply(workingPrompt, compressed, opts.Model, window, o.counter, o.logger)
	result.CacheDiagnostics = diagnostics
	o.logger.Info("prompt cache tiering", zap.String("summary", diagnostics.SummaryLine()))

	// 7. Token governor.
	prepared, result.EstimatedTokens = o.governor.Apply(prepared)

	// 8. Dispatch with retry and optional fallback.
	text, usage, modelUsed, err := o.dispatch(ctx, prepared, opts)
	if err != nil {
		o.emitStatus("error", map[string]any{"message": err.Error()})
		o.sink.Emit(Event{Type: EventThreadRunEnd, Content: map[string]any{"thread_id": opts.ThreadID, "status": "error"}})
		return nil, err
	}
	result.Text = text
	result.Usage = usage
	result.ModelUsed = modelUsed

	totals := o.tracker.Record(usage)
	o.logger.Info("token usage window",
		zap.Int("events", totals.Events),
		zap.Int("prompt", totals.Prompt),
		zap.Int("cache_read", totals.CacheRead),
		zap.Int("cache_write", totals.CacheWrite),
		zap.Int("completion", totals.Completion))

	// Persist the assistant turn.
	if _, err := o.store.InsertMessage(ctx, opts.ThreadID, "assistant",
		map[string]any{"role": "assistant", "content": text}, true,
		threads.InsertOptions{Metadata: map[string]any{"model": modelUsed}}); err != nil {
		o.logger.Warn("failed to persist assistant message", zap.Error(err))
	}

	o.sink.Emit(Event{Type: EventFinish, Content: map[string]any{"finish_reason": "stop"}})
	o.sink.Emit(Event{Type: EventThreadRunEnd, Content: map[string]any{"thread_id": opts.ThreadID, "status": "completed"}})
	return result, nil
}

// dispatch performs the model call with exponential backoff and at most
// one fallback-model switch. Benign control errors surface immediately.
func (o *Orchestrator) dispatch(ctx context.Context, prepared []types.Message, opts TurnOptions) (string, llm.Usage, string, error) {
	model := opts.Model
	fallbackUsed := false

	var lastErr error
	for attempt := 0; attempt < llm.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", llm.Usage{}, model, ctx.Err()
			case <-time.After(llm.Backoff(attempt - 1)):
			}
		}

		text, usage, err := o.callModel(ctx, prepared, model, opts)
		if err == nil {
			return text, usage, model, nil
		}
		lastErr = err

		if llm.IsBenign(err) {
			return "", llm.Usage{}, model, err
		}
		if !llm.IsRetryable(err) {
			break
		}
		o.logger.Warn("model call failed, retrying",
			zap.Int("attempt", attempt+1), zap.String("model", model), zap.Error(err))
		if llm.IsRateLimit(err) && o.fallbackModel != "" && !fallbackUsed && o.fallbackModel != model {
			o.logger.Warn("switching to fallback model",
				zap.String("from", model), zap.String("to", o.fallbackModel))
			model = o.fallbackModel
			fallbackUsed = true
		}
	}

	if !llm.IsBenign(lastErr) && o.fallbackModel != "" && !fallbackUsed && o.fallbackModel != model {
		o.logger.Warn("final attempt on fallback model", zap.String("model", o.fallbackModel))
		text, usage, err := o.callModel(ctx, prepared, o.fallbackModel, opts)
		if err == nil {
			return text, usage, o.fallbackModel, nil
		}
		lastErr = err
	}
	return "", llm.Usage{}, model, fmt.Errorf("runner: model call failed: %w", lastErr)
}

// callModel runs one attempt, streaming deltas to the sink when
// requested.
func (o *Orchestrator) callModel(ctx context.Context, prepared []types.Message, model string, opts TurnOptions) (string, llm.Usage, error) {
	req := llm.Request{
		Messages:    prepared,
		Model:       model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      opts.Stream,
	}

	if !opts.Stream {
		result, err := o.provider.Chat(ctx, req)
		if err != nil {
			return "", llm.Usage{}, err
		}
		o.sink.Emit(Event{Type: EventAssistant, Content: map[string]any{"content": result.Text}})
		return result.Text, result.Usage, nil
	}

	stream, err := o.provider.ChatStream(ctx, req)
	if err != nil {
		return "", llm.Usage{}, err
	}
	defer stream.Close()

	var text strings.Builder
	var usage llm.Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.DeltaText != "" {
			text.WriteString(chunk.DeltaText)
			o.sink.Emit(Event{Type: EventAssistant, Content: map[string]any{"delta": chunk.DeltaText}})
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	if err := stream.Err(); err != nil {
		return "", llm.Usage{}, err
	}
	return text.String(), usage, nil
}

func (o *Orchestrator) emitStatus(status string, fields map[string]any) {
	content := map[string]any{"status": status}
	for k, v := range fields {
		content[k] = v
	}
	o.sink.Emit(Event{Type: EventStatus, Content: content})
}

// projectSummary loads the stored project summary, if any.
func (o *Orchestrator) projectSummary(ctx context.Context) string {
	if o.kv == nil {
		return ""
	}
	value, err := o.kv.Get(ctx, kvstore.ScopeProject, "summary", kvstore.AsString)
	if err != nil {
		return ""
	}
	summary, _ := value.(string)
	return summary
}

func latestUserRequest(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].ContentString()
		}
	}
	return ""
}
