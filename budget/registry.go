package budget

import (
	"errors"
	"strings"
	"sync"

	"github.com/aponysus/opcall/internal"
)

// Built-in quota names.
const (
	NameUnlimited   = "unlimited"
	NameTokenBucket = "token_bucket"
)

// Registry is a thread-safe name → Quota map.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Quota
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Quota)}
}

// RegisterBuiltins registers Unlimited and a default TokenBucket into reg.
// The token bucket is a fresh instance shared by every lookup through reg.
func RegisterBuiltins(reg *Registry) {
	reg.MustRegister(NameUnlimited, Unlimited{})
	reg.MustRegister(NameTokenBucket, NewTokenBucket())
}

// Register registers a quota with validation.
// It returns an error if the registry is nil, the name is empty, or the quota is nil/typed-nil.
func (r *Registry) Register(name string, q Quota) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("quota name cannot be empty")
	}
	if internal.IsTypedNil(q) {
		return errors.New("quota cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.m == nil {
		r.m = make(map[string]Quota)
	}
	r.m[name] = q
	return nil
}

// MustRegister registers a quota and panics on error.
func (r *Registry) MustRegister(name string, q Quota) {
	if err := r.Register(name, q); err != nil {
		panic("budget.Registry.MustRegister: " + err.Error())
	}
}

func (r *Registry) Get(name string) (Quota, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	q, ok := r.m[name]
	r.mu.RUnlock()
	return q, ok && q != nil
}
