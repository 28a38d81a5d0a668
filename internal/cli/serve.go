package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aponysus/opcall/instrument"
	"github.com/aponysus/opcall/internal/config"
	"github.com/aponysus/opcall/internal/logging"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/sensitivity"
	"github.com/aponysus/opcall/server"
	"github.com/aponysus/opcall/transport"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve demo operations with redacted instrumentation",
	Long: `Serves a small set of demo operations. Every operation is instrumented: its
requests and responses are logged with sensitive fields redacted. When
server.metrics is enabled, Prometheus metrics are exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		cfg, logger, err := setup(v)
		if err != nil {
			return err
		}
		if addr := v.GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		h, err := newServeHandler(cfg, logger, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = server.ListenAndServe(ctx, cfg.Server.Addr, h, logging.WithComponent(logger, "server"))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	serveCommand.Flags().String("addr", "", "Listen address (default from server.addr)")
	_ = viper.BindPFlag("addr", serveCommand.Flags().Lookup("addr"))

	rootCommand.AddCommand(serveCommand)
}

// demoOperations returns the operations served by "opcall serve".
func demoOperations() []server.Operation {
	return []server.Operation{
		{
			Name:    "Echo",
			Method:  http.MethodPost,
			Path:    "/echo",
			Handler: layer.ServiceFunc(echo),
			Sensitivity: sensitivity.Static{
				Request: sensitivity.RequestFmt{
					Header:     sensitivity.SensitiveHeaders("Authorization", "Cookie"),
					BodyFields: []string{"password", "token"},
				},
				Response: sensitivity.ResponseFmt{
					BodyFields: []string{"password", "token"},
				},
			},
		},
		{
			Name:    "GetSecret",
			Method:  http.MethodGet,
			Path:    "/secrets/{name}",
			Handler: layer.ServiceFunc(getSecret),
			Sensitivity: sensitivity.Static{
				Request: sensitivity.RequestFmt{
					Header: sensitivity.SensitiveHeaders("Authorization"),
					Query:  sensitivity.SensitiveQuery("key"),
					Label:  sensitivity.Labels(1),
				},
				Response: sensitivity.ResponseFmt{
					BodyFields: []string{"name", "value"},
				},
			},
		},
		{
			Name:    "Health",
			Method:  http.MethodGet,
			Path:    "/healthz",
			Handler: layer.ServiceFunc(health),
		},
	}
}

func newServeHandler(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (http.Handler, error) {
	plugin := instrument.Plugin{Logger: logging.WithComponent(logger, "instrument")}
	if cfg.Server.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		plugin.Metrics = instrument.NewMetrics(reg)
	}

	b := server.NewBuilder(server.WithLogger(logger), server.WithBodyLimit(cfg.Server.BodyLimit))
	for _, op := range demoOperations() {
		b = b.Operation(op)
	}
	ops, err := b.Apply(plugin).Build()
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	if cfg.Server.Metrics {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Mount("/", ops)
	return r, nil
}

func echo(_ context.Context, req *transport.Request) (*transport.Response, error) {
	resp := transport.NewResponse(http.StatusOK, req.Body)
	if ct := req.Header.Get("Content-Type"); ct != "" {
		resp.Header.Set("Content-Type", ct)
	}
	return resp, nil
}

func getSecret(_ context.Context, req *transport.Request) (*transport.Response, error) {
	return jsonResponse(http.StatusOK, map[string]string{
		"name":  server.Param(req, "name"),
		"value": "s3cr3t-" + server.Param(req, "name"),
	})
}

func health(context.Context, *transport.Request) (*transport.Response, error) {
	return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
}

func jsonResponse(status int, v any) (*transport.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	resp := transport.NewResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}
