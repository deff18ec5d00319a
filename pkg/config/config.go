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

// Package config loads weft configuration from a YAML file and the
// environment via viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved weft configuration.
type Config struct {
	// Workspace is the sandbox workspace root holding .kv-cache and
	// .aga_mem.
	Workspace string `mapstructure:"workspace"`
	// ThreadDBPath is the conversation store database file.
	ThreadDBPath string `mapstructure:"thread_db_path"`

	// Model is the main transport model.
	Model string `mapstructure:"model"`
	// FallbackModel is tried once after persistent transport failures.
	FallbackModel string `mapstructure:"fallback_model"`
	// PlannerModel is the small context-planner model.
	PlannerModel string `mapstructure:"planner_model"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`

	// ListenAddr is the serve-mode SSE address.
	ListenAddr string `mapstructure:"listen_addr"`
	// PruneSchedule is the serve-mode cron spec for cache sweeps.
	PruneSchedule string `mapstructure:"prune_schedule"`

	// AggressiveMode tightens retrieval and preview budgets.
	AggressiveMode bool `mapstructure:"aggressive_mode"`
	// Development switches the logger to console output.
	Development bool   `mapstructure:"development"`
	LogLevel    string `mapstructure:"log_level"`

	// TTLOverrideHours mirrors KV_CACHE_TTL_OVERRIDE_HOURS; nil when the
	// variable is unset. Values <= 0 disable TTL enforcement.
	TTLOverrideHours *int `mapstructure:"-"`

	// Ancillary embedding configuration, honored for planner cache
	// naming.
	EmbeddingsProvider string `mapstructure:"embeddings_provider"`
	EmbeddingsModel    string `mapstructure:"embeddings_model"`
}

// Load reads configuration from the optional file path, the
// environment, and defaults, in that order of increasing precedence
// for the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("workspace", defaultWorkspace())
	v.SetDefault("model", "claude-sonnet-4-5")
	v.SetDefault("planner_model", "gemini-2.5-flash-lite")
	v.SetDefault("listen_addr", ":8787")
	v.SetDefault("prune_schedule", "@every 1h")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.ThreadDBPath == "" {
		cfg.ThreadDBPath = cfg.Workspace + "/weft.db"
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.EmbeddingsProvider == "" {
		cfg.EmbeddingsProvider = os.Getenv("EMBEDDINGS_PROVIDER")
	}
	if cfg.EmbeddingsModel == "" {
		cfg.EmbeddingsModel = os.Getenv("EMBEDDINGS_MODEL")
	}
	cfg.TTLOverrideHours = ttlOverrideFromEnv()

	return cfg, nil
}

// ttlOverrideFromEnv parses KV_CACHE_TTL_OVERRIDE_HOURS. Unset or
// unparseable means no override.
func ttlOverrideFromEnv() *int {
	raw := os.Getenv("KV_CACHE_TTL_OVERRIDE_HOURS")
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &value
}

func defaultWorkspace() string {
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}
