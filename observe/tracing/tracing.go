// Package tracing opens an OpenTelemetry span for every client attempt.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/transport"
)

const instrumentationName = "github.com/aponysus/opcall/observe/tracing"

// Attribute keys set on attempt spans.
const (
	AttrOperation   = attribute.Key("opcall.operation")
	AttrAttempt     = attribute.Key("opcall.attempt")
	AttrMaxAttempts = attribute.Key("opcall.max_attempts")
	AttrMethod      = attribute.Key("http.request.method")
	AttrStatusCode  = attribute.Key("http.response.status_code")
)

type options struct {
	provider   trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// Option configures the tracing layer.
type Option func(*options)

// WithTracerProvider sets the provider. The global provider is used by
// default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.provider = tp
		}
	}
}

// WithPropagator sets the propagator that injects the span context into
// request headers. The global propagator is used by default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) {
		if p != nil {
			o.propagator = p
		}
	}
}

// Layer returns a client layer that wraps every send in a client span.
// Dispatch failures and 5xx responses mark the span as an error.
func Layer(opts ...Option) layer.Layer {
	o := options{
		provider:   otel.GetTracerProvider(),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	tracer := o.provider.Tracer(instrumentationName)

	return layer.LayerFunc(func(inner layer.Service) layer.Service {
		return layer.ServiceFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			name := "opcall.attempt"
			attrs := []attribute.KeyValue{AttrMethod.String(req.Method)}
			if info, ok := observe.AttemptFromContext(ctx); ok {
				if info.Name != "" {
					name = info.Name
				}
				attrs = append(attrs,
					AttrOperation.String(info.Name),
					AttrAttempt.Int(info.Attempt),
					AttrMaxAttempts.Int(info.MaxAttempts))
			}

			ctx, span := tracer.Start(ctx, name,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...))
			defer span.End()

			o.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

			resp, err := inner.Call(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return resp, err
			}
			if resp != nil {
				span.SetAttributes(AttrStatusCode.Int(resp.StatusCode))
				if resp.StatusCode >= 500 {
					span.SetStatus(codes.Error, fmt.Sprintf("status %d", resp.StatusCode))
				}
			}
			return resp, nil
		})
	})
}
