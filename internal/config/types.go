// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the kodiak configuration file, creating a
// commented default on first run.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/kodiak/internal/router"
)

type Config struct {
	// Storage: local data directory for the backup tier.
	Storage StorageConfig `yaml:"storage"`

	// Weaviate: the networked primary store and native vector backend.
	Weaviate WeaviateConfig `yaml:"weaviate"`

	// Providers: model provider endpoints and credentials.
	Providers ProvidersConfig `yaml:"providers"`

	// Routing: model table and selection policy.
	Routing RoutingConfig `yaml:"routing"`

	// Monitor: resource sampling cadence.
	Monitor MonitorConfig `yaml:"monitor"`

	// Executor: invocation timeout and retry budget.
	Executor ExecutorConfig `yaml:"executor"`

	// Breaker: circuit breaker defaults shared by all dependencies.
	Breaker BreakerConfig `yaml:"breaker"`

	// Reconciler: background sync cadence.
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

type StorageConfig struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type WeaviateConfig struct {
	Host   string `yaml:"host" validate:"required"`
	Scheme string `yaml:"scheme" validate:"oneof=http https"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Ollama     OllamaConfig     `yaml:"ollama"`
}

type OpenRouterConfig struct {
	// APIKeyEnv names the environment variable holding the key; the
	// key itself never lives in the config file.
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url" validate:"required"`
	EmbedModel string `yaml:"embed_model"`
}

type RoutingConfig struct {
	// LeaderModel is appended to every candidate list as the universal
	// fallback. Must name an entry in Models.
	LeaderModel      string                `yaml:"leader_model" validate:"required"`
	MinConfidence    float64               `yaml:"min_confidence" validate:"gte=0,lte=1"`
	CacheTTLSeconds  int                   `yaml:"cache_ttl_seconds" validate:"gte=1"`
	MemPercentLimit  float64               `yaml:"mem_percent_limit" validate:"gt=0,lte=100"`
	CPUPercentLimit  float64               `yaml:"cpu_percent_limit" validate:"gt=0,lte=100"`
	Models           []router.ModelProfile `yaml:"models" validate:"required,min=1,dive"`
}

type MonitorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" validate:"gte=1"`
	MaxStalenessSeconds int `yaml:"max_staleness_seconds" validate:"gte=1"`
}

type ExecutorConfig struct {
	InvokeTimeoutSeconds int `yaml:"invoke_timeout_seconds" validate:"gte=1"`
	MaxRetries           int `yaml:"max_retries" validate:"gte=0,lte=10"`
}

type BreakerConfig struct {
	FailureThreshold    int `yaml:"failure_threshold" validate:"gte=1"`
	ResetTimeoutSeconds int `yaml:"reset_timeout_seconds" validate:"gte=1"`
}

type ReconcilerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" validate:"gte=1"`
}

// CacheTTL returns the routing cache TTL as a duration.
func (r RoutingConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLSeconds) * time.Second
}

// DefaultConfig returns the first-run configuration.
func DefaultConfig() Config {
	dataDir := ".kodiak/data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kodiak", "data")
	}
	return Config{
		Storage: StorageConfig{DataDir: dataDir},
		Weaviate: WeaviateConfig{
			Host:   "localhost:8080",
			Scheme: "http",
		},
		Providers: ProvidersConfig{
			OpenRouter: OpenRouterConfig{
				APIKeyEnv:         "OPENROUTER_API_KEY",
				RequestsPerSecond: 2,
			},
			Ollama: OllamaConfig{
				BaseURL:    "http://localhost:11434",
				EmbedModel: "nomic-embed-text",
			},
		},
		Routing: RoutingConfig{
			LeaderModel:     "claude-general",
			MinConfidence:   0.5,
			CacheTTLSeconds: 10,
			MemPercentLimit: 80,
			CPUPercentLimit: 90,
			Models:          DefaultModelTable(),
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds: 10,
			MaxStalenessSeconds: 30,
		},
		Executor: ExecutorConfig{
			InvokeTimeoutSeconds: 30,
			MaxRetries:           2,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    3,
			ResetTimeoutSeconds: 30,
		},
		Reconciler: ReconcilerConfig{
			IntervalSeconds: 30,
		},
	}
}

// DefaultModelTable is the stock model lineup: cloud specialists with
// a local model for constrained and offline states.
func DefaultModelTable() []router.ModelProfile {
	return []router.ModelProfile{
		{
			ID:           "sonnet-code",
			ProviderKind: router.ProviderCloudAPI,
			Model:        "anthropic/claude-sonnet-4.5",
			Requirement:  router.RequirementHigh,
			Priority:     10,
			Intents:      []string{"code", "debug"},
		},
		{
			ID:           "gpt-research",
			ProviderKind: router.ProviderCloudAPI,
			Model:        "openai/gpt-4o",
			Requirement:  router.RequirementMed,
			Priority:     20,
			Intents:      []string{"research", "creative"},
		},
		{
			ID:             "llama-local",
			ProviderKind:   router.ProviderLocalInference,
			Model:          "llama3.2:3b",
			Requirement:    router.RequirementLow,
			OfflineCapable: true,
			Priority:       30,
			Intents:        []string{"general", "code", "debug", "research", "creative"},
		},
		{
			ID:           "claude-general",
			ProviderKind: router.ProviderCloudAPI,
			Model:        "anthropic/claude-sonnet-4.5",
			Requirement:  router.RequirementMed,
			Priority:     40,
			Intents:      []string{"general"},
		},
	}
}
