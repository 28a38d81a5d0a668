// Package operation describes one client operation: how to build its
// request, how to parse its response and how to classify its failures.
package operation

import (
	"errors"
	"strings"

	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/internal"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/transport"
)

// Operation is an immutable description of a client call producing T.
// Builder methods return modified copies.
type Operation[T any] struct {
	name       string
	request    *transport.Request
	build      func() (*transport.Request, error)
	parser     Parser[T]
	classifier classify.Classifier[T]
	layers     layer.Stack
	bodyLimit  int64
}

// New returns an operation that sends a clone of req on every attempt.
func New[T any](name string, req *transport.Request, parser Parser[T]) Operation[T] {
	return Operation[T]{
		name:    strings.TrimSpace(name),
		request: req.Clone(),
		parser:  parser,
	}
}

// NewBuilt returns an operation that calls build for every attempt. A build
// error ends the call with a construction failure.
func NewBuilt[T any](name string, build func() (*transport.Request, error), parser Parser[T]) Operation[T] {
	return Operation[T]{
		name:   strings.TrimSpace(name),
		build:  build,
		parser: parser,
	}
}

// WithClassifier returns a copy of o that classifies outcomes with c.
func (o Operation[T]) WithClassifier(c classify.Classifier[T]) Operation[T] {
	o.classifier = c
	return o
}

// Layer returns a copy of o with l pushed innermost onto its layers.
func (o Operation[T]) Layer(l layer.Layer) Operation[T] {
	o.layers = o.layers.Push(l)
	return o
}

// WithBodyLimit returns a copy of o that buffers at most n response bytes.
func (o Operation[T]) WithBodyLimit(n int64) Operation[T] {
	o.bodyLimit = n
	return o
}

func (o Operation[T]) Name() string { return o.name }

// BodyLimit is the response body limit; 0 means transport.DefaultBodyLimit.
func (o Operation[T]) BodyLimit() int64 { return o.bodyLimit }

func (o Operation[T]) Parser() Parser[T] { return o.parser }

func (o Operation[T]) Layers() layer.Stack { return o.layers }

// Classifier returns the configured classifier or classify.Standard.
func (o Operation[T]) Classifier() classify.Classifier[T] {
	if internal.IsTypedNil(o.classifier) {
		return classify.Standard[T]{}
	}
	return o.classifier
}

var (
	errNoRequest = errors.New("operation: no request")
	errNoParser  = errors.New("operation: no parser")
)

// Request returns a fresh request for one attempt.
func (o Operation[T]) Request() (*transport.Request, *sdk.Error) {
	if o.build != nil {
		req, err := o.build()
		if err != nil {
			return nil, sdk.ConstructionFailure(err)
		}
		if req == nil {
			return nil, sdk.ConstructionFailure(errNoRequest)
		}
		return req, nil
	}
	if o.request == nil {
		return nil, sdk.ConstructionFailure(errNoRequest)
	}
	return o.request.Clone(), nil
}

// ParseResponse converts resp into the typed outcome of one attempt. An
// UnloadedParser sees the response first; otherwise the body is buffered and
// handed to Parse.
func (o Operation[T]) ParseResponse(resp *transport.Response) (T, *sdk.Error) {
	var zero T
	if internal.IsTypedNil(o.parser) {
		return zero, sdk.ResponseError(errNoParser, resp)
	}

	if up, ok := o.parser.(UnloadedParser[T]); ok {
		out, handled, err := up.ParseUnloaded(resp)
		if handled {
			return out, parseFailure(err, resp)
		}
	}

	if _, err := resp.Load(o.bodyLimit); err != nil {
		return zero, sdk.ResponseError(err, resp)
	}
	out, err := o.parser.Parse(resp)
	if err != nil {
		return out, parseFailure(err, resp)
	}
	return out, nil
}

func parseFailure(err error, resp *transport.Response) *sdk.Error {
	if err == nil {
		return nil
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return sdk.ResponseError(err, resp)
	}
	return sdk.ServiceError(err, resp)
}
