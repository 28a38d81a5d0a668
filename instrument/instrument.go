// Package instrument logs every server call with its request and response
// formatted through the operation's sensitivity, so sensitive values never
// reach the log.
//
// Formatting never affects the call: when a formatter fails, the entry
// carries FormattingFailed and the error, and the untouched request or
// response is forwarded as usual.
package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sensitivity"
	"github.com/aponysus/opcall/transport"
)

// FormattingFailed replaces a request or response whose formatter failed.
const FormattingFailed = "{formatting failed}"

// Stats counts calls seen by a Layer. It is safe for concurrent use.
type Stats struct {
	calls          atomic.Int64
	failures       atomic.Int64
	formatFailures atomic.Int64
}

func (s *Stats) Calls() int64          { return s.calls.Load() }
func (s *Stats) Failures() int64       { return s.failures.Load() }
func (s *Stats) FormatFailures() int64 { return s.formatFailures.Load() }

// Layer is the instrumentation middleware for one named operation. The
// builder methods return modified copies that share the same Stats.
type Layer struct {
	name    string
	logger  *slog.Logger
	reqFmt  sensitivity.RequestFormatter
	respFmt sensitivity.ResponseFormatter
	clock   clockwork.Clock
	metrics *Metrics
	stats   *Stats
}

var _ layer.Layer = Layer{}

// New returns a layer that logs calls to the operation name through logger,
// with nothing marked sensitive.
func New(name string, logger *slog.Logger) Layer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Layer{
		name:    name,
		logger:  logger,
		reqFmt:  sensitivity.None.RequestFormatter(),
		respFmt: sensitivity.None.ResponseFormatter(),
		clock:   clockwork.NewRealClock(),
		stats:   &Stats{},
	}
}

// RequestFormatter returns a copy of l that formats requests with f.
func (l Layer) RequestFormatter(f sensitivity.RequestFormatter) Layer {
	if f != nil {
		l.reqFmt = f
	}
	return l
}

// ResponseFormatter returns a copy of l that formats responses with f.
func (l Layer) ResponseFormatter(f sensitivity.ResponseFormatter) Layer {
	if f != nil {
		l.respFmt = f
	}
	return l
}

// Sensitivity returns a copy of l using both formatters of s.
func (l Layer) Sensitivity(s sensitivity.Sensitivity) Layer {
	if s == nil {
		return l
	}
	return l.RequestFormatter(s.RequestFormatter()).ResponseFormatter(s.ResponseFormatter())
}

func (l Layer) WithClock(c clockwork.Clock) Layer {
	if c != nil {
		l.clock = c
	}
	return l
}

// WithMetrics returns a copy of l that also records into m.
func (l Layer) WithMetrics(m *Metrics) Layer {
	l.metrics = m
	return l
}

// WithStats returns a copy of l that counts into s.
func (l Layer) WithStats(s *Stats) Layer {
	if s != nil {
		l.stats = s
	}
	return l
}

func (l Layer) Name() string  { return l.name }
func (l Layer) Stats() *Stats { return l.stats }

func (l Layer) Wrap(inner layer.Service) layer.Service {
	return layer.ServiceFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		id := uuid.NewString()
		if req != nil {
			transport.SetExtension(&req.Extensions, transport.RequestID(id))
		}
		logger := l.logger.With("operation", l.name, "request_id", id)
		l.stats.calls.Add(1)

		logger.InfoContext(ctx, "inbound request", l.requestAttr(req)...)

		start := l.clock.Now()
		resp, err := inner.Call(ctx, req)
		elapsed := l.clock.Since(start)

		if err != nil {
			l.stats.failures.Add(1)
			l.metrics.observe(l.name, "error", elapsed)
			logger.ErrorContext(ctx, "operation failed", "duration", elapsed, "error", err)
			return resp, err
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		l.metrics.observe(l.name, statusClass(status), elapsed)
		attrs := append(l.responseAttr(resp), "duration", elapsed)
		logger.InfoContext(ctx, "outbound response", attrs...)
		return resp, nil
	})
}

func (l Layer) requestAttr(req *transport.Request) []any {
	v, err := safeFormat(func() (slog.Value, error) { return l.reqFmt.FormatRequest(req) })
	if err != nil {
		l.formatFailed("request")
		return []any{slog.String("request", FormattingFailed), slog.Any("format_error", err)}
	}
	return []any{slog.Any("request", v)}
}

func (l Layer) responseAttr(resp *transport.Response) []any {
	v, err := safeFormat(func() (slog.Value, error) { return l.respFmt.FormatResponse(resp) })
	if err != nil {
		l.formatFailed("response")
		return []any{slog.String("response", FormattingFailed), slog.Any("format_error", err)}
	}
	return []any{slog.Any("response", v)}
}

func (l Layer) formatFailed(direction string) {
	l.stats.formatFailures.Add(1)
	l.metrics.formatFailed(l.name, direction)
}

// safeFormat runs a formatter, turning a panic into an error.
func safeFormat(f func() (slog.Value, error)) (v slog.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("instrument: formatter panicked: %v", r)
		}
	}()
	return f()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", status/100)
}
