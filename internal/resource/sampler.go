// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SamplerConfig configures the system sampler's probes.
type SamplerConfig struct {
	// ConnectivityAddr is the TCP address dialed to test connectivity.
	// Default: "1.1.1.1:443"
	ConnectivityAddr string

	// ConnectivityTimeout bounds the connectivity dial.
	// Default: 2s
	ConnectivityTimeout time.Duration

	// LocalInferenceURL is the local inference server base URL probed
	// with GET /api/tags (Ollama convention). Empty disables the probe.
	LocalInferenceURL string

	// LocalInferenceTimeout bounds the local inference probe.
	// Default: 2s
	LocalInferenceTimeout time.Duration
}

// DefaultSamplerConfig returns sensible defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		ConnectivityAddr:      "1.1.1.1:443",
		ConnectivityTimeout:   2 * time.Second,
		LocalInferenceURL:     "http://localhost:11434",
		LocalInferenceTimeout: 2 * time.Second,
	}
}

// SystemSampler reads CPU and memory via gopsutil and probes network and
// local-inference availability.
//
// # Thread Safety
//
// SystemSampler is stateless after construction and safe for concurrent use.
type SystemSampler struct {
	config     SamplerConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSystemSampler creates a sampler with the given configuration.
func NewSystemSampler(config SamplerConfig, logger *slog.Logger) *SystemSampler {
	if config.ConnectivityAddr == "" {
		config.ConnectivityAddr = "1.1.1.1:443"
	}
	if config.ConnectivityTimeout <= 0 {
		config.ConnectivityTimeout = 2 * time.Second
	}
	if config.LocalInferenceTimeout <= 0 {
		config.LocalInferenceTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemSampler{
		config:     config,
		httpClient: &http.Client{Timeout: config.LocalInferenceTimeout},
		logger:     logger,
	}
}

// Sample implements Sampler.
//
// # Description
//
// CPU and memory reads must both succeed for the sample to count; probe
// failures (connectivity, local inference) are recorded as false in the
// snapshot rather than failing the sample, since "offline" is a valid
// state the router needs to see.
func (s *SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read virtual memory: %w", err)
	}

	// Interval 0 compares against the previous call instead of blocking.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cpu percent: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	snap := Snapshot{
		CPUPercent:     cpuPercent,
		MemAvailableMB: vm.Available / (1024 * 1024),
		MemPercent:     vm.UsedPercent,
		Connectivity:   s.probeConnectivity(ctx),
		LocalInference: s.probeLocalInference(ctx),
		CapturedAt:     time.Now(),
	}
	return snap, nil
}

// probeConnectivity dials the configured address over TCP.
func (s *SystemSampler) probeConnectivity(ctx context.Context) bool {
	dialer := net.Dialer{Timeout: s.config.ConnectivityTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.config.ConnectivityAddr)
	if err != nil {
		s.logger.Debug("connectivity probe failed",
			"addr", s.config.ConnectivityAddr, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}

// probeLocalInference checks whether the local inference server answers.
func (s *SystemSampler) probeLocalInference(ctx context.Context) bool {
	if s.config.LocalInferenceURL == "" {
		return false
	}
	url := strings.TrimSuffix(s.config.LocalInferenceURL, "/") + "/api/tags"

	probeCtx, cancel := context.WithTimeout(ctx, s.config.LocalInferenceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("local inference probe failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
