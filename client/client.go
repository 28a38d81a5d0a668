// Package client drives operations through a Connection with retries and
// client-side middleware.
package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/aponysus/opcall/budget"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/operation"
	"github.com/aponysus/opcall/retry"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/sleep"
	"github.com/aponysus/opcall/transport"
)

var (
	// ErrNoConnection is returned by New when conn is nil.
	ErrNoConnection = errors.New("client: nil connection")

	errNilResponse = errors.New("client: connection returned neither response nor error")
)

// Client sends operations over a Connection. It is immutable after New and
// safe for concurrent use; calls share only read-only state and the optional
// retry quota.
type Client struct {
	conn   transport.Connection
	engine *retry.Engine
	layers layer.Stack
	logger *slog.Logger
}

// Options configures a Client.
type Options struct {
	RetryConfig   retry.Config
	Sleeper       sleep.Sleeper
	Clock         clockwork.Clock
	Observer      observe.Observer
	Quota         budget.Quota
	Logger        *slog.Logger
	Layers        layer.Stack
	RecoverPanics bool
}

// Option configures a Client.
type Option func(*Options)

// WithRetryConfig sets the retry configuration. The default is
// retry.DefaultConfig.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Options) {
		o.RetryConfig = cfg
	}
}

// WithSleeper sets the backoff sleeper.
func WithSleeper(s sleep.Sleeper) Option {
	return func(o *Options) {
		o.Sleeper = s
	}
}

// WithClock sets the clock used for attempt timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithLayer pushes l onto the client middleware. Client layers wrap the
// operation's own layers.
func WithLayer(l layer.Layer) Option {
	return func(o *Options) {
		o.Layers = o.Layers.Push(l)
	}
}

// WithObserver sets the retry observer.
func WithObserver(obs observe.Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// WithQuota sets the retry quota shared by all calls on the client.
func WithQuota(q budget.Quota) Option {
	return func(o *Options) {
		o.Quota = q
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithRecoverPanics converts classifier panics into errors.
func WithRecoverPanics(recover bool) Option {
	return func(o *Options) {
		o.RecoverPanics = recover
	}
}

// New returns a client sending over conn.
func New(conn transport.Connection, opts ...Option) (*Client, error) {
	o := Options{RetryConfig: retry.DefaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return NewFromOptions(conn, o)
}

// NewFromOptions returns a client from an options struct.
func NewFromOptions(conn transport.Connection, o Options) (*Client, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	engine, err := retry.NewEngineFromOptions(o.RetryConfig, retry.EngineOptions{
		Sleeper:       o.Sleeper,
		Clock:         o.Clock,
		Observer:      o.Observer,
		Quota:         o.Quota,
		Logger:        logger,
		RecoverPanics: o.RecoverPanics,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:   conn,
		engine: engine,
		layers: o.Layers,
		logger: logger,
	}, nil
}

// Apply returns the client produced by p. c is unchanged.
func (c *Client) Apply(p layer.Plugin[*Client]) *Client {
	if p == nil {
		return c
	}
	return p.Map(c)
}

// Layer returns a copy of c with l pushed innermost onto the client layers.
func (c *Client) Layer(l layer.Layer) *Client {
	next := *c
	next.layers = c.layers.Push(l)
	return &next
}

// Layers returns the client middleware.
func (c *Client) Layers() layer.Stack { return c.layers }

// RetryConfig returns the normalized retry configuration.
func (c *Client) RetryConfig() retry.Config { return c.engine.Config() }

// Call runs op to completion.
//
// Each attempt builds a fresh request, records the attempt number in its
// extensions and sends it through the client layers, the operation layers
// and the connection. Dispatch errors become timeout errors when the attempt
// or call deadline expired and dispatch failures otherwise. Responses are
// parsed and the typed outcome is handed to the retry engine.
func Call[T any](ctx context.Context, c *Client, op operation.Operation[T]) (T, error) {
	if c == nil {
		var zero T
		return zero, sdk.ConstructionFailure(ErrNoConnection)
	}

	svc := c.layers.Concat(op.Layers()).Wrap(layer.ServiceFunc(c.send))
	name := op.Name()

	return retry.Do(ctx, c.engine, name, op.Classifier(), func(ctx context.Context, attempt int) (T, *sdk.Error) {
		var zero T

		req, serr := op.Request()
		if serr != nil {
			return zero, serr
		}
		transport.SetExtension(&req.Extensions, transport.AttemptCount(attempt))
		if limit := op.BodyLimit(); limit > 0 {
			transport.SetExtension(&req.Extensions, transport.BodyLimit(limit))
		}

		c.logger.DebugContext(ctx, "sending attempt",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.String("method", req.Method))

		resp, err := svc.Call(ctx, req)
		if err != nil {
			return zero, dispatchError(ctx, err)
		}
		if resp == nil {
			return zero, sdk.DispatchFailure(errNilResponse)
		}
		return op.ParseResponse(resp)
	})
}

func (c *Client) send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return c.conn.Send(ctx, req)
}

func dispatchError(ctx context.Context, err error) *sdk.Error {
	if se, ok := sdk.As(err); ok {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return sdk.TimeoutError(err)
	}
	return sdk.DispatchFailure(err)
}
