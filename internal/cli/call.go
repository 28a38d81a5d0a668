package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aponysus/opcall/budget"
	"github.com/aponysus/opcall/circuit"
	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/client"
	integration "github.com/aponysus/opcall/integrations/http"
	"github.com/aponysus/opcall/internal/config"
	"github.com/aponysus/opcall/internal/logging"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/observe/tracing"
	"github.com/aponysus/opcall/operation"
	"github.com/aponysus/opcall/transport"
)

var callCommand = &cobra.Command{
	Use:   "call",
	Short: "Send one HTTP operation through the retry engine",
	Long: `Sends a single request as a named operation. Failed attempts are classified
and retried according to the client configuration; every attempt is logged.
The body of the final 2xx response is written to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		cfg, logger, err := setup(v)
		if err != nil {
			return err
		}

		headers, err := cmd.Flags().GetStringArray("header")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out, err := runCall(ctx, cfg, logger, callRequest{
			URL:     v.GetString("url"),
			Method:  v.GetString("method"),
			Data:    v.GetString("data"),
			Headers: headers,
		})
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	callCommand.Flags().String("url", "", "Request URL, absolute or relative to client.base_url (required)")
	callCommand.Flags().String("method", http.MethodGet, "HTTP method")
	callCommand.Flags().String("data", "", "Request body")
	callCommand.Flags().StringArrayP("header", "H", nil, `Request header as "Name: value" (repeatable)`)

	_ = viper.BindPFlag("url", callCommand.Flags().Lookup("url"))
	_ = viper.BindPFlag("method", callCommand.Flags().Lookup("method"))
	_ = viper.BindPFlag("data", callCommand.Flags().Lookup("data"))

	rootCommand.AddCommand(callCommand)
}

type callRequest struct {
	URL     string
	Method  string
	Data    string
	Headers []string
}

func runCall(ctx context.Context, cfg *config.Config, logger *slog.Logger, in callRequest) ([]byte, error) {
	if strings.TrimSpace(in.URL) == "" {
		return nil, fmt.Errorf("required flag \"url\" not set")
	}

	c, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	classifiers := classify.NewRegistry[[]byte]()
	classify.RegisterBuiltins(classifiers)
	classifier, ok := classifiers.Get(cfg.Client.Classifier)
	if !ok {
		return nil, fmt.Errorf("unknown classifier %q", cfg.Client.Classifier)
	}

	method := strings.ToUpper(strings.TrimSpace(in.Method))
	var body []byte
	if in.Data != "" {
		body = []byte(in.Data)
	}
	req := transport.NewRequest(method, in.URL, body)
	for _, h := range in.Headers {
		name, value, found := strings.Cut(h, ":")
		if !found {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	op := operation.New(method+" "+in.URL, req, operation.Bytes(integration.ErrorFromResponse(method))).
		WithClassifier(classifier)

	return client.Call(ctx, c, op)
}

func newClient(cfg *config.Config, logger *slog.Logger) (*client.Client, error) {
	quotas := budget.NewRegistry()
	budget.RegisterBuiltins(quotas)
	quota, ok := quotas.Get(cfg.Client.Quota)
	if !ok {
		return nil, fmt.Errorf("unknown quota %q", cfg.Client.Quota)
	}

	conn := integration.NewConnection(cfg.Client.BaseURL, &http.Client{Timeout: cfg.Client.Timeout})

	opts := []client.Option{
		client.WithRetryConfig(cfg.Client.Retry),
		client.WithQuota(quota),
		client.WithObserver(attemptLogger{logger: logging.WithComponent(logger, "retry")}),
		client.WithLogger(logging.WithComponent(logger, "client")),
		client.WithLayer(client.AttemptHeader()),
		client.WithLayer(circuit.PerOperation(circuit.NewRegistry(cfg.Client.Circuit, nil))),
	}
	if cfg.Client.Tracing {
		opts = append(opts, client.WithLayer(tracing.Layer(
			tracing.WithTracerProvider(sdktrace.NewTracerProvider()),
			tracing.WithPropagator(propagation.TraceContext{}),
		)))
	}
	return client.New(conn, opts...)
}

// attemptLogger logs every attempt of a call.
type attemptLogger struct {
	observe.BaseObserver
	logger *slog.Logger
}

func (l attemptLogger) OnAttempt(ctx context.Context, name string, rec observe.AttemptRecord) {
	attrs := []any{
		slog.String("operation", name),
		slog.Int("attempt", rec.Attempt),
		slog.String("verdict", rec.Verdict.String()),
		slog.Duration("duration", rec.EndTime.Sub(rec.StartTime)),
	}
	if rec.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", rec.StatusCode))
	}
	if rec.Backoff > 0 {
		attrs = append(attrs, slog.Duration("backoff", rec.Backoff))
	}
	if rec.Err != nil {
		attrs = append(attrs, slog.Any("error", rec.Err))
	}
	l.logger.InfoContext(ctx, "attempt", attrs...)
}

func (l attemptLogger) OnFailure(ctx context.Context, name string, tl observe.Timeline) {
	l.logger.WarnContext(ctx, "call failed",
		slog.String("operation", name),
		slog.Int("attempts", len(tl.Attempts)),
		slog.Duration("elapsed", tl.End.Sub(tl.Start)),
		slog.String("reason", tl.Attributes["terminal_reason"]))
}
