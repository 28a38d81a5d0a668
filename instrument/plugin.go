package instrument

import (
	"log/slog"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/server"
)

// Plugin adds an instrumentation layer to every server operation, using the
// operation's own name and sensitivity.
type Plugin struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Stats, when set, is shared by every instrumented operation.
	Stats *Stats
}

var _ layer.Plugin[server.Operation] = Plugin{}

func (p Plugin) Map(op server.Operation) server.Operation {
	l := New(op.Name, p.Logger).
		Sensitivity(op.SensitivityOrNone()).
		WithMetrics(p.Metrics).
		WithStats(p.Stats)
	return op.Layer(l)
}

// Trace applies a Plugin logging through logger to b.
//
//	h, err := instrument.Trace(server.NewBuilder().Operation(op), logger).Build()
func Trace[B any](b layer.Pluggable[server.Operation, B], logger *slog.Logger) B {
	return b.Apply(Plugin{Logger: logger})
}
