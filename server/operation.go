// Package server exposes operations over HTTP and lets plugins rewrite every
// operation a service registers, such as adding instrumentation.
package server

import (
	"strings"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sensitivity"
)

// Operation is one server operation: a handler plus its route, redaction
// policy and middleware. Layer returns a modified copy.
type Operation struct {
	// Name is the stable operation name used in logs and metrics.
	Name   string
	Method string
	// Path is a chi route pattern, e.g. /things/{id}.
	Path        string
	Sensitivity sensitivity.Sensitivity
	Handler     layer.Service

	layers layer.Stack
}

// Layer returns a copy of op with l pushed innermost onto its layers.
func (op Operation) Layer(l layer.Layer) Operation {
	op.layers = op.layers.Push(l)
	return op
}

func (op Operation) Layers() layer.Stack { return op.layers }

// Service composes the operation's layers around its handler.
func (op Operation) Service() layer.Service {
	return op.layers.Wrap(op.Handler)
}

// SensitivityOrNone returns the operation's sensitivity, or
// sensitivity.None when unset.
func (op Operation) SensitivityOrNone() sensitivity.Sensitivity {
	if op.Sensitivity == nil {
		return sensitivity.None
	}
	return op.Sensitivity
}

func (op Operation) key() string {
	return strings.ToUpper(op.Method) + " " + op.Path
}
