// Package core provides the quota registry.
package core

import (
	"sort"
	"sync"
	"sync/atomic"
)

type registrySnapshot struct {
	byDependency map[string]QuotaConfig
}

// Registry maps dependency names to quota configs with copy-on-write updates.
// Reads never block; writers serialize among themselves only.
type Registry struct {
	snap atomic.Pointer[registrySnapshot]
	mu   sync.Mutex
}

// NewRegistry creates a registry seeded with the provided configs.
// Invalid configs are rejected before anything is stored.
func NewRegistry(configs ...QuotaConfig) (*Registry, error) {
	byDependency := make(map[string]QuotaConfig, len(configs))
	for _, cfg := range configs {
		if cfg.Dependency == "" {
			return nil, Wrap(CodeInvalidConfig, "invalid quota config", ErrInvalidInput)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		byDependency[cfg.Dependency] = cfg
	}
	registry := &Registry{}
	registry.snap.Store(&registrySnapshot{byDependency: byDependency})
	return registry, nil
}

// Get resolves the quota for a dependency.
func (r *Registry) Get(dependency string) Lookup {
	if r == nil {
		return Unconfigured()
	}
	cfg, ok := r.snapshot().byDependency[dependency]
	if !ok {
		return Unconfigured()
	}
	return Configured(cfg)
}

// Set replaces the config for future checks. Open windows keep their entries.
func (r *Registry) Set(dependency string, cfg QuotaConfig) {
	if r == nil {
		return
	}
	cfg.Dependency = dependency
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.snapshot().byDependency
	next := make(map[string]QuotaConfig, len(current)+1)
	for name, existing := range current {
		next[name] = existing
	}
	next[dependency] = cfg
	r.snap.Store(&registrySnapshot{byDependency: next})
}

// Names returns configured dependency names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	current := r.snapshot().byDependency
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every configured quota sorted by dependency.
func (r *Registry) All() []QuotaConfig {
	if r == nil {
		return nil
	}
	current := r.snapshot().byDependency
	configs := make([]QuotaConfig, 0, len(current))
	for _, cfg := range current {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].Dependency < configs[j].Dependency
	})
	return configs
}

func (r *Registry) snapshot() *registrySnapshot {
	snap := r.snap.Load()
	if snap == nil {
		return &registrySnapshot{}
	}
	return snap
}
