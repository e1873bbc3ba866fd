// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/kodiak/internal/breaker"
	"github.com/AleutianAI/kodiak/internal/classify"
	"github.com/AleutianAI/kodiak/internal/config"
	"github.com/AleutianAI/kodiak/internal/executor"
	"github.com/AleutianAI/kodiak/internal/llm"
	"github.com/AleutianAI/kodiak/internal/observability"
	"github.com/AleutianAI/kodiak/internal/orchestrator"
	"github.com/AleutianAI/kodiak/internal/resource"
	"github.com/AleutianAI/kodiak/internal/router"
	"github.com/AleutianAI/kodiak/internal/store"
	"github.com/AleutianAI/kodiak/internal/store/badgerstore"
	"github.com/AleutianAI/kodiak/internal/store/weaviatestore"
	"github.com/AleutianAI/kodiak/internal/vector"
	"github.com/AleutianAI/kodiak/pkg/logging"
)

// app bundles the wired subsystems behind the CLI commands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	badger *badgerstore.Store
	orch   *orchestrator.Orchestrator
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// buildApp loads configuration and wires every subsystem. The build
// succeeds even when the networked store or providers are unreachable;
// those degrade at call time instead of blocking startup.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "kodiak",
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	slogger := logger.Logger

	metrics := observability.New(prometheus.DefaultRegisterer)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     seconds(cfg.Breaker.ResetTimeoutSeconds),
		OnStateChange: func(name string, from, to breaker.State) {
			metrics.BreakerTrips.WithLabelValues(name, to.String()).Inc()
		},
	})

	wvClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	primary, err := weaviatestore.New(ctx, wvClient, slogger)
	if err != nil {
		return nil, fmt.Errorf("create primary store: %w", err)
	}

	backup, err := badgerstore.Open(badgerstore.Config{
		Path:       filepath.Join(cfg.Storage.DataDir, "entities"),
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     slogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open backup store: %w", err)
	}

	pbCfg := store.DefaultPrimaryBackupConfig()
	pbCfg.OnFallback = func(op string) {
		metrics.StorageFallbacks.WithLabelValues(op).Inc()
	}
	repo := store.NewPrimaryBackup(primary, backup, breakers, pbCfg, slogger)

	recCfg := store.DefaultReconcilerConfig()
	recCfg.Interval = seconds(cfg.Reconciler.IntervalSeconds)
	recCfg.OnReconciled = func(count int) {
		metrics.ReconciledTotal.Add(float64(count))
	}
	reconciler := store.NewReconciler(primary, backup, breakers, recCfg, slogger)

	native, err := vector.NewWeaviateStore(wvClient)
	if err != nil {
		return nil, fmt.Errorf("create vector backend: %w", err)
	}
	vectors := vector.NewDualStore(ctx, native, vector.NewBadgerStore(backup.DB()), slogger, true)

	sampler := resource.NewSystemSampler(resource.SamplerConfig{
		LocalInferenceURL: cfg.Providers.Ollama.BaseURL,
	}, slogger)
	monitor := resource.NewMonitor(sampler, resource.MonitorConfig{
		PollInterval: seconds(cfg.Monitor.PollIntervalSeconds),
		MaxStaleness: seconds(cfg.Monitor.MaxStalenessSeconds),
	}, slogger)

	table, err := router.NewTable(cfg.Routing.Models, cfg.Routing.LeaderModel)
	if err != nil {
		return nil, fmt.Errorf("build model table: %w", err)
	}
	keyword := classify.NewKeywordClassifier(nil)
	rtr, err := router.New(table, keyword, keyword, monitor, router.Config{
		MinConfidence: cfg.Routing.MinConfidence,
		CacheTTL:      cfg.Routing.CacheTTL(),
		Thresholds: router.Thresholds{
			MemPercent: cfg.Routing.MemPercentLimit,
			CPUPercent: cfg.Routing.CPUPercentLimit,
		},
	}, slogger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	providers := map[router.ProviderKind]llm.Provider{
		router.ProviderLocalInference: llm.NewOllamaProvider(cfg.Providers.Ollama.BaseURL, slogger),
	}
	if key := os.Getenv(cfg.Providers.OpenRouter.APIKeyEnv); key != "" {
		cloud, cloudErr := llm.NewOpenRouterProvider(llm.OpenRouterConfig{
			APIKey:            key,
			BaseURL:           cfg.Providers.OpenRouter.BaseURL,
			RequestsPerSecond: cfg.Providers.OpenRouter.RequestsPerSecond,
			Logger:            slogger,
		})
		if cloudErr != nil {
			return nil, fmt.Errorf("create cloud provider: %w", cloudErr)
		}
		providers[router.ProviderCloudAPI] = cloud
	} else {
		slogger.Warn("cloud models disabled, api key not set",
			"env", cfg.Providers.OpenRouter.APIKeyEnv)
	}

	exec := executor.New(providers, rtr, breakers, executor.Config{
		InvokeTimeout: seconds(cfg.Executor.InvokeTimeoutSeconds),
		MaxRetries:    cfg.Executor.MaxRetries,
	}, slogger)

	embedder := llm.NewOllamaEmbedder(cfg.Providers.Ollama.BaseURL, cfg.Providers.Ollama.EmbedModel)

	orch, err := orchestrator.New(orchestrator.Deps{
		Monitor:    monitor,
		Repository: repo,
		Reconciler: reconciler,
		Vectors:    vectors,
		Router:     rtr,
		Executor:   exec,
		Breakers:   breakers,
		Embedder:   embedder,
		Metrics:    metrics,
		Logger:     slogger,
	})
	if err != nil {
		return nil, err
	}
	orch.Start()

	return &app{cfg: cfg, logger: logger, badger: backup, orch: orch}, nil
}

// close tears the app down in dependency order.
func (a *app) close() {
	a.orch.Close()
	if err := a.badger.Close(); err != nil {
		a.logger.Warn("closing backup store", "error", err)
	}
	_ = a.logger.Close()
}
