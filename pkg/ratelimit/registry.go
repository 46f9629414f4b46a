package ratelimit

import (
	"sort"
	"sync"
)

// Registry holds one limiter per dependency, built from per-dependency configs.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates limiters for every configured dependency.
func NewRegistry(configs map[string]Config) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(configs))}
	for name, cfg := range configs {
		cfg.Name = name
		r.limiters[name] = New(cfg)
	}
	return r
}

// Get returns the limiter for name, if one is configured.
func (r *Registry) Get(name string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Set installs or replaces the limiter for name, closing any previous one.
func (r *Registry) Set(name string, cfg Config) *Limiter {
	cfg.Name = name
	l := New(cfg)

	r.mu.Lock()
	previous := r.limiters[name]
	r.limiters[name] = l
	r.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return l
}

// Stats returns stats for every limiter sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	limiters := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(limiters))
	for _, l := range limiters {
		stats = append(stats, l.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Close closes every limiter.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		l.Close()
	}
}
