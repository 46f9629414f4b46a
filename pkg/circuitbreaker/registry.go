package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry owns one breaker per dependency. It is constructed by the caller and passed
// to whoever needs lookup; there is no process-wide default.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Config
	overrides map[string]Config
}

// NewRegistry creates a registry. Overrides are keyed by dependency name; zero-valued
// fields in an override inherit nothing, they fall back to the package defaults.
func NewRegistry(defaults Config, overrides map[string]Config) *Registry {
	copied := make(map[string]Config, len(overrides))
	for name, cfg := range overrides {
		copied[name] = cfg
	}
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		overrides: copied,
	}
}

// Get returns or creates the circuit breaker for name.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	if override, ok := r.overrides[name]; ok {
		config = override
		if config.Bus == nil {
			config.Bus = r.defaults.Bus
		}
		if config.OnStateChange == nil {
			config.OnStateChange = r.defaults.OnStateChange
		}
		if config.Now == nil {
			config.Now = r.defaults.Now
		}
		config.Logger = r.defaults.Logger
	}
	config.Name = name
	cb = New(config)
	r.breakers[name] = cb
	return cb
}

// Stats returns statistics for all breakers sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	stats := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// OpenCircuits returns the sorted names of all open breakers.
func (r *Registry) OpenCircuits() []string {
	var open []string
	for _, s := range r.Stats() {
		if s.State == Open {
			open = append(open, s.Name)
		}
	}
	return open
}

// ResetAll resets all circuit breakers to closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
