package transport

//go:generate mockgen -destination=mocks/mock_connection.go -package=mocks github.com/aponysus/opcall/transport Connection

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Connection sends a request and returns the transport response.
//
// A non-nil error means no response was obtained (a dispatch failure).
// Implementations must be safe for concurrent use.
type Connection interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ConnectionFunc adapts a function to Connection.
type ConnectionFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ConnectionFunc) Send(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// DispatchKind describes why a connection could not complete an exchange.
type DispatchKind int

const (
	DispatchOther DispatchKind = iota
	DispatchTimeout
	DispatchIO
	DispatchUser
)

func (k DispatchKind) String() string {
	switch k {
	case DispatchTimeout:
		return "timeout"
	case DispatchIO:
		return "io"
	case DispatchUser:
		return "user"
	default:
		return "other"
	}
}

// DispatchError is the error a Connection returns when no response was
// obtained.
type DispatchError struct {
	Kind DispatchKind
	Err  error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return "transport: dispatch failure (" + e.Kind.String() + ")"
	}
	return "transport: dispatch failure (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Transient reports whether resending the same request may succeed.
func (e *DispatchError) Transient() bool {
	return e != nil && (e.Kind == DispatchTimeout || e.Kind == DispatchIO)
}

// TimeoutErr wraps err as a timeout dispatch error.
func TimeoutErr(err error) error { return &DispatchError{Kind: DispatchTimeout, Err: err} }

// IOErr wraps err as an I/O dispatch error.
func IOErr(err error) error { return &DispatchError{Kind: DispatchIO, Err: err} }

// UserErr wraps err as a non-retryable dispatch error caused by the caller.
func UserErr(err error) error { return &DispatchError{Kind: DispatchUser, Err: err} }

// IsTransient reports whether err describes a transport failure worth
// retrying: timeouts, connection refused/reset and I/O errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var de *DispatchError
	if errors.As(err, &de) {
		return de.Transient()
	}

	var tr interface{ Transient() bool }
	if errors.As(err, &tr) {
		return tr.Transient()
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
