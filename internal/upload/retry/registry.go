package retry

import "sync"

// Registry hands out one Breaker per backend name. It is constructed once at
// process start and injected into the managers that need it; Reset exists so
// tests can start from a clean slate.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
	fallback BreakerConfig
}

// NewRegistry creates a registry with the given default breaker config.
func NewRegistry(fallback BreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  make(map[string]BreakerConfig),
		fallback: fallback,
	}
}

// Configure sets the breaker config for a backend name. Must be called
// before the first Get for that name to take effect.
func (r *Registry) Configure(name string, cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[name] = cfg
}

// Get returns the breaker for the backend, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = r.fallback
	}
	b := NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// Stats returns a snapshot per known backend.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	return out
}

// Reset drops all breakers. Test helper only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}
