package classify

import (
	"strings"
	"sync"

	"github.com/aponysus/opcall/internal"
)

// Built-in classifier registry names.
const (
	NameStandard    = "standard"
	NameModeledOnly = "modeled"
	NameHTTP        = "http"
)

// Registry is a thread-safe name → Classifier map for one output type.
type Registry[T any] struct {
	mu sync.RWMutex
	m  map[string]Classifier[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: make(map[string]Classifier[T])}
}

// RegisterBuiltins registers Standard, ModeledOnly and HTTPStatus into reg.
func RegisterBuiltins[T any](reg *Registry[T]) {
	if reg == nil {
		return
	}
	reg.Register(NameStandard, Standard[T]{})
	reg.Register(NameModeledOnly, ModeledOnly[T]{})
	reg.Register(NameHTTP, HTTPStatus[T]{})
}

// Register associates name with c. Empty names and nil classifiers are ignored.
func (r *Registry[T]) Register(name string, c Classifier[T]) {
	if r == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" || internal.IsTypedNil(c) {
		return
	}

	r.mu.Lock()
	if r.m == nil {
		r.m = make(map[string]Classifier[T])
	}
	r.m[name] = c
	r.mu.Unlock()
}

func (r *Registry[T]) Get(name string) (Classifier[T], bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	c, ok := r.m[name]
	r.mu.RUnlock()
	return c, ok && c != nil
}
