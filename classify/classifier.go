package classify

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/transport"
)

// Classifier maps the typed outcome of one attempt to a retry verdict.
//
// err is nil on success, otherwise an *sdk.Error. Implementations must be
// pure: no I/O and no mutation of their inputs.
type Classifier[T any] interface {
	Classify(out T, err error) Verdict
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc[T any] func(out T, err error) Verdict

func (f ClassifierFunc[T]) Classify(out T, err error) Verdict { return f(out, err) }

// Standard is the default classifier.
//
//   - success: Unnecessary
//   - service error: the modeled error's kind via ProvideErrorKind, else Unretryable
//   - dispatch failure: Transient when transport.IsTransient, else Unretryable
//   - timeout: Transient
//   - construction/response errors: Unretryable
//
// Errors that are not *sdk.Error, or carry an unknown kind, panic: they mean
// generated code produced an outcome nothing models.
type Standard[T any] struct{}

func (Standard[T]) Classify(_ T, err error) Verdict {
	if err == nil {
		return Unnecessary()
	}
	se := mustSDKError(err)

	switch se.Kind {
	case sdk.KindService:
		return fromModeled(se.Err)
	case sdk.KindDispatch:
		if errors.Is(se.Err, context.Canceled) {
			return Unretryable("context_canceled")
		}
		if transport.IsTransient(se.Err) {
			return Retryable(Transient)
		}
		return Unretryable("dispatch_failure")
	case sdk.KindTimeout:
		return Retryable(Transient)
	case sdk.KindConstruction:
		return Unretryable("construction_failure")
	case sdk.KindResponse:
		return Unretryable("response_error")
	default:
		panic(fmt.Sprintf("classify: unrecognized sdk error kind %d: %v", se.Kind, err))
	}
}

// ModeledOnly recognises only success and modeled service errors. Any other
// outcome panics. It suits operations whose transport is known to be
// infallible, such as scripted tests.
type ModeledOnly[T any] struct{}

func (ModeledOnly[T]) Classify(_ T, err error) Verdict {
	if err == nil {
		return Unnecessary()
	}
	se := mustSDKError(err)
	if se.Kind != sdk.KindService {
		panic(fmt.Sprintf("classify: only modeled errors are handled, got %v", err))
	}
	return fromModeled(se.Err)
}

func fromModeled(err error) Verdict {
	var pk ProvideErrorKind
	if errors.As(err, &pk) {
		if kind, ok := pk.RetryableErrorKind(); ok {
			return Retryable(kind)
		}
	}
	return Unretryable("service_error")
}

func mustSDKError(err error) *sdk.Error {
	se, ok := sdk.As(err)
	if !ok {
		panic(fmt.Sprintf("classify: unrecognized outcome of type %s: %v", typeString(err), err))
	}
	return se
}

func typeString(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
