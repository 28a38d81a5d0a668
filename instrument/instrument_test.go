package instrument_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/instrument"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sensitivity"
	"github.com/aponysus/opcall/server"
	"github.com/aponysus/opcall/transport"
)

type logBuffer struct {
	buf bytes.Buffer
}

func (b *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&b.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (b *logBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

var secretSensitivity = sensitivity.Static{
	Request: sensitivity.RequestFmt{
		Header:     sensitivity.SensitiveHeaders("Authorization"),
		Query:      sensitivity.SensitiveQuery("token"),
		Label:      sensitivity.Labels(1),
		BodyFields: []string{"password"},
	},
	Response: sensitivity.ResponseFmt{
		StatusCode: true,
		BodyFields: []string{"secret"},
	},
}

func okHandler(body string) layer.Service {
	return layer.ServiceFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return transport.NewResponse(http.StatusOK, []byte(body)), nil
	})
}

func TestLayer_RedactsAndTagsOperation(t *testing.T) {
	var logs logBuffer
	l := instrument.New("GetUser", logs.logger()).Sensitivity(secretSensitivity)
	svc := l.Wrap(okHandler(`{"secret":"hunter2","name":"ash"}`))

	req := transport.NewRequest(http.MethodPost, "/users/alice?token=t0k3n&page=1", []byte(`{"password":"pw","user":"alice"}`))
	req.Header.Set("Authorization", "Bearer abc")

	resp, err := svc.Call(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := logs.buf.String()
	for _, secret := range []string{"alice", "t0k3n", "Bearer abc", `"pw"`, "hunter2"} {
		assert.NotContains(t, out, secret)
	}
	assert.Contains(t, out, sensitivity.Redacted)

	entries := logs.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "inbound request", entries[0]["msg"])
	assert.Equal(t, "outbound response", entries[1]["msg"])
	for _, e := range entries {
		assert.Equal(t, "GetUser", e["operation"])
	}
	assert.Equal(t, entries[0]["request_id"], entries[1]["request_id"])

	id, ok := transport.ExtensionValue[transport.RequestID](&req.Extensions)
	require.True(t, ok)
	assert.Equal(t, string(id), entries[0]["request_id"])
	assert.Equal(t, int64(1), l.Stats().Calls())
}

func TestLayer_FormattingFailureStillForwards(t *testing.T) {
	var logs logBuffer
	l := instrument.New("Upload", logs.logger()).
		RequestFormatter(sensitivity.RequestFmt{BodyFields: []string{"x"}}).
		ResponseFormatter(sensitivity.ResponseFmt{BodyFields: []string{"x"}})

	var got *transport.Request
	inner := layer.ServiceFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		got = req
		return transport.NewResponse(http.StatusOK, []byte("not json")), nil
	})

	req := transport.NewRequest(http.MethodPost, "/upload", []byte("{broken"))
	resp, err := l.Wrap(inner).Call(context.Background(), req)
	require.NoError(t, err)

	assert.Same(t, req, got)
	assert.Equal(t, []byte("{broken"), got.Body)
	assert.Equal(t, []byte("not json"), resp.Bytes())

	entries := logs.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, instrument.FormattingFailed, entries[0]["request"])
	assert.NotEmpty(t, entries[0]["format_error"])
	assert.Equal(t, instrument.FormattingFailed, entries[1]["response"])
	assert.Equal(t, int64(2), l.Stats().FormatFailures())
}

type panickingFormatter struct{}

func (panickingFormatter) FormatRequest(*transport.Request) (slog.Value, error) {
	panic("bad formatter")
}

func TestLayer_FormatterPanicIsContained(t *testing.T) {
	var logs logBuffer
	l := instrument.New("Op", logs.logger()).RequestFormatter(panickingFormatter{})

	resp, err := l.Wrap(okHandler("ok")).Call(context.Background(), transport.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, instrument.FormattingFailed, logs.entries(t)[0]["request"])
}

func TestLayer_HandlerErrorLoggedAndReturned(t *testing.T) {
	var logs logBuffer
	boom := errors.New("boom")
	l := instrument.New("Fail", logs.logger())
	inner := layer.ServiceFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, boom
	})

	_, err := l.Wrap(inner).Call(context.Background(), transport.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, boom)

	entries := logs.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "operation failed", entries[1]["msg"])
	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "Fail", entries[1]["operation"])
	assert.Equal(t, int64(1), l.Stats().Failures())
}

func TestLayer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := instrument.NewMetrics(reg)
	l := instrument.New("Op", nil).WithMetrics(m)

	svc := l.Wrap(okHandler("ok"))
	for range 3 {
		_, err := svc.Call(context.Background(), transport.NewRequest("GET", "/", nil))
		require.NoError(t, err)
	}

	n, err := testutil.GatherAndCount(reg, "opcall_server_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expected := `
# HELP opcall_server_requests_total Total number of server operation calls
# TYPE opcall_server_requests_total counter
opcall_server_requests_total{operation="Op",status="2xx"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "opcall_server_requests_total"))
}

func TestPlugin_InstrumentsEveryOperation(t *testing.T) {
	var logs logBuffer
	stats := &instrument.Stats{}

	b := server.NewBuilder().
		Operation(server.Operation{Name: "Login", Method: http.MethodPost, Path: "/login", Sensitivity: secretSensitivity, Handler: okHandler(`{"secret":"s"}`)}).
		Operation(server.Operation{Name: "Health", Method: http.MethodGet, Path: "/health", Handler: okHandler("ok")}).
		Apply(instrument.Plugin{Logger: logs.logger(), Stats: stats})

	for _, op := range b.Operations() {
		assert.Equal(t, 1, op.Layers().Len(), op.Name)
	}

	h, err := b.Build()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"password":"pw"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"secret":"s"}`, rec.Body.String())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, int64(2), stats.Calls())
	assert.NotContains(t, logs.buf.String(), `"pw"`)

	var names []any
	for _, e := range logs.entries(t) {
		names = append(names, e["operation"])
	}
	assert.Equal(t, []any{"Login", "Login", "Health", "Health"}, names)
}

func TestTrace(t *testing.T) {
	var logs logBuffer
	b := instrument.Trace(server.NewBuilder().
		Operation(server.Operation{Name: "Ping", Method: http.MethodGet, Path: "/ping", Handler: okHandler("pong")}), logs.logger())

	h, err := b.Build()
	require.NoError(t, err)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ping", entries[0]["operation"])
}
