package circuit

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry hands out one Breaker per (tenantId, configId) pair,
// creating it lazily on first use. The adapter factory holds a single
// Registry for the process lifetime.
type Registry struct {
	logger   *logrus.Logger
	defaults Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry that applies defaults to every
// breaker it creates.
func NewRegistry(defaults Config, logger *logrus.Logger) *Registry {
	return &Registry{
		logger:   logger,
		defaults: defaults,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the Breaker for (tenantId, configId), creating it if
// this is the first call for that pair.
func (r *Registry) Get(tenantID, configID string) *Breaker {
	key := fmt.Sprintf("%s/%s", tenantID, configID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	cfg := r.defaults
	cfg.Name = key
	b := NewBreaker(cfg, r.logger)
	r.breakers[key] = b
	return b
}

// Snapshot returns every known breaker's stats keyed by its registry key.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.Stats()
	}
	return out
}
