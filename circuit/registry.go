package circuit

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config configures the breakers a Registry creates.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// Registry holds one breaker per operation name.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	clock    clockwork.Clock
	breakers map[string]Breaker
}

// NewRegistry creates a registry whose breakers use cfg. A nil clock means
// the real clock.
func NewRegistry(cfg Config, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		breakers: make(map[string]Breaker),
	}
}

// Get returns the breaker for name, creating it on first use. It returns nil
// when the registry is disabled.
func (r *Registry) Get(name string) Breaker {
	if r == nil || !r.cfg.Enabled {
		return nil
	}
	name = strings.TrimSpace(name)

	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewConsecutiveFailureBreaker(r.cfg.Threshold, r.cfg.Cooldown, WithClock(r.clock))
	r.breakers[name] = cb
	return cb
}
