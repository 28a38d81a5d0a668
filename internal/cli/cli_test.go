package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/circuit"
	"github.com/aponysus/opcall/client"
	"github.com/aponysus/opcall/internal/config"
)

func fastConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Client.BaseURL = baseURL
	cfg.Client.Retry.InitialBackoff = time.Millisecond
	cfg.Client.Retry.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestRunCall_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get(client.AttemptHeaderName))
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	out, err := runCall(context.Background(), fastConfig(srv.URL), logger, callRequest{
		URL:     "/things",
		Method:  "post",
		Data:    `{"a":1}`,
		Headers: []string{"Content-Type: application/json"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(out))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, []string{"attempt=1; max=3", "attempt=2; max=3"}, headers)
	assert.Equal(t, 2, strings.Count(logs.String(), `"msg":"attempt"`))
}

func TestRunCall_Validation(t *testing.T) {
	cfg := fastConfig("http://127.0.0.1:1")
	_, err := runCall(context.Background(), cfg, slog.New(slog.DiscardHandler), callRequest{})
	assert.Error(t, err)

	_, err = runCall(context.Background(), cfg, slog.New(slog.DiscardHandler), callRequest{URL: "/x", Headers: []string{"bad"}})
	assert.Error(t, err)
}

func TestRunCall_NotFoundIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.Client.Quota = "token_bucket"
	cfg.Client.Circuit = circuit.Config{Enabled: true, Threshold: 5}
	cfg.Client.Tracing = true

	_, err := runCall(context.Background(), cfg, slog.New(slog.DiscardHandler), callRequest{URL: "/missing", Method: "GET"})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestServeHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Metrics = true

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	h, err := newServeHandler(cfg, logger, prometheus.NewRegistry())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secrets/db-password?key=k3y-value", nil)
	req.Header.Set("Authorization", "Bearer xyz")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "db-password", body["name"])
	assert.Equal(t, "s3cr3t-db-password", body["value"])

	for _, secret := range []string{"db-password", "k3y-value", "Bearer xyz", "s3cr3t"} {
		assert.NotContains(t, logs.String(), secret)
	}
	assert.Contains(t, logs.String(), `"operation":"GetSecret"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"password":"pw"}`)))
	assert.Equal(t, `{"password":"pw"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `opcall_server_requests_total{operation="GetSecret",status="2xx"} 1`)
}

func TestLoadConfig_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: {level: warn}\n"), 0o600))

	v := viper.New()
	v.Set("config", path)
	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	v.Set("log-level", "debug")
	cfg, err = loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	v.Set("log-format", "xml")
	_, err = loadConfig(v)
	assert.Error(t, err)
}
