// Package grpc retries unary gRPC calls through the retry engine.
package grpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/retry"
	"github.com/aponysus/opcall/sdk"
)

// DefaultName maps "/package.Service/Method" to "package.Service.Method".
func DefaultName(method string) string {
	method = strings.TrimPrefix(method, "/")
	return strings.Replace(method, "/", ".", 1)
}

// ErrorKind maps a gRPC status code to a retryable error kind.
//
//   - Unavailable, Aborted, DeadlineExceeded: Transient
//   - ResourceExhausted: ThrottlingError
//
// ok is false for every other code and for errors without a status.
func ErrorKind(err error) (kind classify.ErrorKind, ok bool) {
	st, isStatus := status.FromError(err)
	if !isStatus || err == nil {
		return 0, false
	}
	switch st.Code() {
	case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded:
		return classify.Transient, true
	case codes.ResourceExhausted:
		return classify.ThrottlingError, true
	default:
		return 0, false
	}
}

// StatusError is the modeled error for a call that returned a gRPC status.
type StatusError struct {
	Status *status.Status
}

func (e *StatusError) Error() string { return e.Status.Err().Error() }

func (e *StatusError) GRPCStatus() *status.Status { return e.Status }

func (e *StatusError) RetryableErrorKind() (classify.ErrorKind, bool) {
	return ErrorKind(e.Status.Err())
}

// Classifier classifies service errors carrying a gRPC status by code, and
// defers everything else to classify.Standard.
type Classifier[T any] struct{}

func (Classifier[T]) Classify(out T, err error) classify.Verdict {
	if err == nil {
		return classify.Unnecessary()
	}
	se, ok := sdk.As(err)
	var st *StatusError
	if !ok || se.Kind != sdk.KindService || !errors.As(se.Err, &st) {
		return classify.Standard[T]{}.Classify(out, err)
	}

	reason := "grpc_" + st.Status.Code().String()
	if kind, ok := ErrorKind(st.Status.Err()); ok {
		v := classify.Retryable(kind)
		v.Reason = reason
		return v
	}
	return classify.Unretryable(reason)
}

type interceptorOptions struct {
	name func(method string) string
}

// InterceptorOption configures UnaryClientInterceptor.
type InterceptorOption func(*interceptorOptions)

// WithNameFunc sets how methods map to operation names.
func WithNameFunc(f func(method string) string) InterceptorOption {
	return func(o *interceptorOptions) {
		if f != nil {
			o.name = f
		}
	}
}

// UnaryClientInterceptor returns an interceptor that retries invocations with
// e. The final error keeps its gRPC status, so status.Code works on it.
func UnaryClientInterceptor(e *retry.Engine, opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	o := interceptorOptions{name: DefaultName}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		_, err := retry.Do(ctx, e, o.name(method), Classifier[struct{}]{},
			func(ctx context.Context, _ int) (struct{}, *sdk.Error) {
				return struct{}{}, attemptError(ctx, invoker(ctx, method, req, reply, cc, callOpts...))
			})
		return statusOf(err)
	}
}

func attemptError(ctx context.Context, err error) *sdk.Error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return sdk.TimeoutError(err)
		}
		return sdk.DispatchFailure(ctxErr)
	}
	if st, ok := status.FromError(err); ok {
		return sdk.ServiceError(&StatusError{Status: st}, nil)
	}
	return sdk.DispatchFailure(err)
}

// statusOf returns the gRPC status error of a failed call when there is one.
func statusOf(err error) error {
	if err == nil {
		return nil
	}
	var st *StatusError
	if errors.As(err, &st) {
		return st.Status.Err()
	}
	return err
}
