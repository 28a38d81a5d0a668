// Package sdk defines the error returned by a failed client call.
package sdk

import (
	"errors"
	"fmt"

	"github.com/aponysus/opcall/transport"
)

// Kind identifies which terminal condition ended a call.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConstruction: the request could not be built. Never retried.
	KindConstruction
	// KindDispatch: the connection returned no response.
	KindDispatch
	// KindResponse: a response arrived but could not be parsed. Never retried.
	KindResponse
	// KindService: the operation's modeled error.
	KindService
	// KindTimeout: no response within the attempt or operation deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConstruction:
		return "construction_failure"
	case KindDispatch:
		return "dispatch_failure"
	case KindResponse:
		return "response_error"
	case KindService:
		return "service_error"
	case KindTimeout:
		return "timeout_error"
	default:
		return "unknown"
	}
}

var (
	ErrConstruction     = errors.New("sdk: failed to construct request")
	ErrDispatch         = errors.New("sdk: dispatch failure")
	ErrResponse         = errors.New("sdk: response error")
	ErrService          = errors.New("sdk: service error")
	ErrTimeout          = errors.New("sdk: timeout")
	ErrRetriesExhausted = errors.New("sdk: retries exhausted")
)

// Error is the terminal failure of a call. Exactly one Kind is set.
type Error struct {
	Kind Kind
	Err  error

	// Raw is the transport response for KindResponse and KindService.
	Raw *transport.Response

	// Attempts is the number of sends performed, filled in by the retry engine.
	Attempts int
	// Exhausted is set when the last attempt was retryable but no attempts
	// remained.
	Exhausted bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Exhausted {
		msg = fmt.Sprintf("%s (retries exhausted after %d attempts)", msg, e.Attempts)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrConstruction:
		return e.Kind == KindConstruction
	case ErrDispatch:
		return e.Kind == KindDispatch
	case ErrResponse:
		return e.Kind == KindResponse
	case ErrService:
		return e.Kind == KindService
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRetriesExhausted:
		return e.Exhausted
	}
	return false
}

// StatusCode returns the raw response status, or 0 when no response exists.
func (e *Error) StatusCode() int {
	if e == nil || e.Raw == nil {
		return 0
	}
	return e.Raw.StatusCode
}

func ConstructionFailure(err error) *Error { return &Error{Kind: KindConstruction, Err: err} }

func DispatchFailure(err error) *Error { return &Error{Kind: KindDispatch, Err: err} }

func ResponseError(err error, raw *transport.Response) *Error {
	return &Error{Kind: KindResponse, Err: err, Raw: raw}
}

func ServiceError(err error, raw *transport.Response) *Error {
	return &Error{Kind: KindService, Err: err, Raw: raw}
}

func TimeoutError(err error) *Error { return &Error{Kind: KindTimeout, Err: err} }

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) && se != nil {
		return se, true
	}
	return nil, false
}

// ServiceErr returns the modeled error of type E carried by a KindService
// error.
func ServiceErr[E error](err error) (E, bool) {
	var zero E
	se, ok := As(err)
	if !ok || se.Kind != KindService {
		return zero, false
	}
	var target E
	if errors.As(se.Err, &target) {
		return target, true
	}
	return zero, false
}
