package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/transport"
)

// Builder collects operations and plugins. Every method returns a new
// builder; the receiver is unchanged, so a partially configured builder can
// be shared.
type Builder struct {
	ops       []Operation
	plugins   layer.Plugins[Operation]
	logger    *slog.Logger
	bodyLimit int64
}

var _ layer.Pluggable[Operation, *Builder] = (*Builder)(nil)

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger for request adaptation failures.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBodyLimit bounds how many request body bytes are read.
func WithBodyLimit(n int64) BuilderOption {
	return func(b *Builder) {
		b.bodyLimit = n
	}
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Builder) clone() *Builder {
	next := *b
	next.ops = append([]Operation(nil), b.ops...)
	return &next
}

// Operation returns a builder with op registered.
func (b *Builder) Operation(op Operation) *Builder {
	next := b.clone()
	next.ops = append(next.ops, op)
	return next
}

// Apply returns a builder that maps every operation through p, after any
// previously applied plugins.
func (b *Builder) Apply(p layer.Plugin[Operation]) *Builder {
	next := b.clone()
	next.plugins = b.plugins.Apply(p)
	return next
}

// Operations returns the registered operations with all plugins applied.
func (b *Builder) Operations() []Operation {
	out := make([]Operation, len(b.ops))
	for i, op := range b.ops {
		out[i] = b.plugins.Map(op)
	}
	return out
}

var errNoHandler = errors.New("server: operation has no handler")

// Build validates the operations and returns a router serving them.
func (b *Builder) Build() (http.Handler, error) {
	ops := b.Operations()
	seen := make(map[string]string, len(ops))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	for _, op := range ops {
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("server: operation %s has no name", op.key())
		}
		if op.Handler == nil {
			return nil, fmt.Errorf("%w: %s", errNoHandler, op.Name)
		}
		if op.Method == "" || !strings.HasPrefix(op.Path, "/") {
			return nil, fmt.Errorf("server: operation %s has invalid route %q", op.Name, op.key())
		}
		if other, dup := seen[op.key()]; dup {
			return nil, fmt.Errorf("server: operations %s and %s share route %s", other, op.Name, op.key())
		}
		seen[op.key()] = op.Name

		r.Method(strings.ToUpper(op.Method), op.Path, b.handler(op))
	}
	return r, nil
}

func (b *Builder) handler(op Operation) http.Handler {
	svc := op.Service()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := FromHTTP(r, b.bodyLimit)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, transport.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			b.logger.WarnContext(r.Context(), "rejecting request", "operation", op.Name, "error", err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		resp, err := svc.Call(r.Context(), req)
		if err != nil {
			b.logger.ErrorContext(r.Context(), "operation failed", "operation", op.Name, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if err := WriteHTTP(w, resp); err != nil {
			b.logger.WarnContext(r.Context(), "writing response", "operation", op.Name, "error", err)
		}
	})
}
