// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

import (
	"fmt"
	"sort"
)

// ProviderKind distinguishes hosted from local-runtime models.
type ProviderKind string

const (
	ProviderCloudAPI       ProviderKind = "cloud_api"
	ProviderLocalInference ProviderKind = "local_inference"
)

// ResourceRequirement is a coarse cost tier for candidate filtering.
type ResourceRequirement string

const (
	RequirementLow  ResourceRequirement = "low"
	RequirementMed  ResourceRequirement = "med"
	RequirementHigh ResourceRequirement = "high"
)

// ModelProfile is one routable model. Profiles load once at startup and
// are read-only afterward.
type ModelProfile struct {
	ID           string       `json:"id" yaml:"id" validate:"required"`
	ProviderKind ProviderKind `json:"provider_kind" yaml:"provider_kind" validate:"required,oneof=cloud_api local_inference"`

	// Model is the provider-scoped upstream identifier, e.g.
	// "anthropic/claude-sonnet-4.5" or "llama3.2:3b".
	Model string `json:"model" yaml:"model" validate:"required"`

	Requirement    ResourceRequirement `json:"resource_requirement" yaml:"resource_requirement" validate:"required,oneof=low med high"`
	OfflineCapable bool                `json:"offline_capable" yaml:"offline_capable"`
	Priority       int                 `json:"priority" yaml:"priority"`
	Intents        []string            `json:"intents" yaml:"intents"`
}

// SupportsIntent reports whether the profile serves the intent.
func (p ModelProfile) SupportsIntent(intent string) bool {
	for _, i := range p.Intents {
		if i == intent {
			return true
		}
	}
	return false
}

// Table is the immutable model profile table plus the designated
// leader, which is appended to every candidate list as the universal
// fallback.
type Table struct {
	profiles []ModelProfile
	byID     map[string]ModelProfile
	leaderID string
}

// FailsafeProfile is the hard-coded last resort when every configured
// candidate is filtered out. Offline capable and low requirement so it
// survives every filter.
var FailsafeProfile = ModelProfile{
	ID:             "failsafe-local",
	ProviderKind:   ProviderLocalInference,
	Model:          "llama3.2:1b",
	Requirement:    RequirementLow,
	OfflineCapable: true,
	Priority:       1000,
}

// NewTable validates and indexes the profiles. The leader must be one
// of the given profile IDs.
func NewTable(profiles []ModelProfile, leaderID string) (*Table, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("model profile table must not be empty")
	}
	byID := make(map[string]ModelProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("model profile with empty id")
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate model profile id %q", p.ID)
		}
		byID[p.ID] = p
	}
	if _, ok := byID[leaderID]; !ok {
		return nil, fmt.Errorf("leader model %q not present in profile table", leaderID)
	}

	sorted := make([]ModelProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	return &Table{profiles: sorted, byID: byID, leaderID: leaderID}, nil
}

// Lookup returns the profile for an explicit model request.
func (t *Table) Lookup(id string) (ModelProfile, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// Leader returns the universal fallback profile.
func (t *Table) Leader() ModelProfile {
	return t.byID[t.leaderID]
}

// CandidatesFor lists profiles serving the intent in priority order,
// with the leader appended last when not already present.
func (t *Table) CandidatesFor(intent string) []ModelProfile {
	var out []ModelProfile
	leaderIncluded := false
	for _, p := range t.profiles {
		if !p.SupportsIntent(intent) {
			continue
		}
		out = append(out, p)
		if p.ID == t.leaderID {
			leaderIncluded = true
		}
	}
	if !leaderIncluded {
		out = append(out, t.Leader())
	}
	return out
}
