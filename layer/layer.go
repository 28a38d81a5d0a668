// Package layer composes middleware around request/response services and
// rewrites operations through plugins.
//
// Composition is pure: building a stack or applying a plugin performs no I/O
// and never mutates its inputs.
package layer

import (
	"context"

	"github.com/aponysus/opcall/transport"
)

// Service handles one request.
type Service interface {
	Call(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, req *transport.Request) (*transport.Response, error)

func (f ServiceFunc) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

// Layer wraps a Service with behavior that runs before and after it.
type Layer interface {
	Wrap(inner Service) Service
}

// LayerFunc adapts a function to Layer.
type LayerFunc func(inner Service) Service

func (f LayerFunc) Wrap(inner Service) Service { return f(inner) }

// Identity returns inner unchanged.
var Identity Layer = LayerFunc(func(inner Service) Service { return inner })

// Stack is an ordered list of layers. Index 0 is outermost: a request passes
// through layers in index order and reaches the inner service last. The most
// recently pushed layer therefore wraps closest to the inner service.
//
// The zero Stack is empty and ready to use.
type Stack struct {
	layers []Layer
}

// NewStack returns a stack of layers in outermost-first order. Nil layers are
// skipped.
func NewStack(layers ...Layer) Stack {
	var s Stack
	for _, l := range layers {
		s = s.Push(l)
	}
	return s
}

// Push returns a new stack with l appended innermost. s is not modified.
func (s Stack) Push(l Layer) Stack {
	if l == nil {
		return s
	}
	next := make([]Layer, len(s.layers), len(s.layers)+1)
	copy(next, s.layers)
	return Stack{layers: append(next, l)}
}

// Concat returns a new stack with other's layers inside s's layers.
func (s Stack) Concat(other Stack) Stack {
	if len(other.layers) == 0 {
		return s
	}
	next := make([]Layer, 0, len(s.layers)+len(other.layers))
	next = append(next, s.layers...)
	return Stack{layers: append(next, other.layers...)}
}

// Wrap composes the stack around inner.
func (s Stack) Wrap(inner Service) Service {
	svc := inner
	for i := len(s.layers) - 1; i >= 0; i-- {
		svc = s.layers[i].Wrap(svc)
	}
	return svc
}

func (s Stack) Len() int { return len(s.layers) }

// Layers returns a copy of the layers, outermost first.
func (s Stack) Layers() []Layer {
	return append([]Layer(nil), s.layers...)
}
