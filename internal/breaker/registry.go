// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"sort"
	"sync"
)

// Registry manages one breaker per guarded dependency.
//
// # Description
//
// Each dependency operation gets its own breaker keyed by name
// ("primary.save", "backup.find", "vector.native", "provider.<model>", ...),
// created on demand with the registry's default configuration. The registry
// is the sole owner of breaker state; callers only interact through the
// breakers it hands out.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	defaultConfig Config
	mu            sync.RWMutex
	breakers      map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultConfig Config) *Registry {
	return &Registry{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for a dependency, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaultConfig)
	r.breakers[name] = b
	return b
}

// GetWithConfig returns the breaker for a dependency, creating it with a
// custom configuration if it does not exist yet.
func (r *Registry) GetWithConfig(name string, config Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, config)
	r.breakers[name] = b
	return b
}

// States returns the current state of every registered breaker.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		result[name] = b.State()
	}
	return result
}

// Snapshots returns status snapshots for all breakers, sorted by name for
// stable display.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		result = append(result, b.Snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.breakers {
		b.Reset()
	}
}
