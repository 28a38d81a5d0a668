// Package retry drives an attempt function through classification, backoff
// and retry until it succeeds, fails terminally or runs out of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/aponysus/opcall/budget"
	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/internal"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/sleep"
)

// AttemptFunc performs attempt number attempt (1-based) and returns its typed
// outcome. A nil *sdk.Error means success.
type AttemptFunc[T any] func(ctx context.Context, attempt int) (T, *sdk.Error)

// Engine runs the retry loop. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	cfg           Config
	changed       []string
	sleeper       sleep.Sleeper
	clock         clockwork.Clock
	observer      observe.Observer
	quota         budget.Quota
	logger        *slog.Logger
	recoverPanics bool
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Sleeper       sleep.Sleeper
	Clock         clockwork.Clock
	Observer      observe.Observer
	Quota         budget.Quota
	Logger        *slog.Logger
	RecoverPanics bool
}

// EngineOption configures an Engine.
type EngineOption func(*EngineOptions)

// WithSleeper sets the backoff sleeper.
func WithSleeper(s sleep.Sleeper) EngineOption {
	return func(o *EngineOptions) {
		o.Sleeper = s
	}
}

// WithClock sets the clock used for timeline timestamps.
func WithClock(c clockwork.Clock) EngineOption {
	return func(o *EngineOptions) {
		o.Clock = c
	}
}

// WithObserver sets the observer.
func WithObserver(obs observe.Observer) EngineOption {
	return func(o *EngineOptions) {
		o.Observer = obs
	}
}

// WithQuota sets the retry quota shared by every call on the engine.
func WithQuota(q budget.Quota) EngineOption {
	return func(o *EngineOptions) {
		o.Quota = q
	}
}

// WithLogger sets the logger for retry decisions.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		o.Logger = l
	}
}

// WithRecoverPanics sets whether classifier and quota panics are captured and
// returned as *PanicError.
func WithRecoverPanics(recover bool) EngineOption {
	return func(o *EngineOptions) {
		o.RecoverPanics = recover
	}
}

// NewEngine normalizes cfg and returns an Engine.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	var o EngineOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return NewEngineFromOptions(cfg, o)
}

// NewEngineFromOptions creates an Engine from a config and options struct.
func NewEngineFromOptions(cfg Config, opts EngineOptions) (*Engine, error) {
	normalized, changed, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           normalized,
		changed:       changed,
		sleeper:       opts.Sleeper,
		clock:         opts.Clock,
		observer:      opts.Observer,
		quota:         opts.Quota,
		logger:        opts.Logger,
		recoverPanics: opts.RecoverPanics,
	}
	if internal.IsTypedNil(e.sleeper) {
		e.sleeper = sleep.Real()
	}
	if internal.IsTypedNil(e.clock) {
		if p, ok := e.sleeper.(*sleep.Paused); ok {
			e.clock = p.Clock()
		} else {
			e.clock = clockwork.NewRealClock()
		}
	}
	if internal.IsTypedNil(e.observer) {
		e.observer = observe.NoopObserver{}
	}
	if internal.IsTypedNil(e.quota) {
		e.quota = nil
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	return e, nil
}

// Config returns the normalized configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return DefaultConfig()
	}
	return e.cfg
}

// PanicError reports a panic captured in a classifier or quota.
type PanicError struct {
	Component string
	Name      string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("opcall: panic in %s for %s: %v", e.Component, e.Name, e.Value)
}

var defaultEngine = func() *Engine {
	e, _ := NewEngine(DefaultConfig())
	return e
}()

// Do runs attempt until classifier says the outcome needs no retry, the
// outcome is terminal, or the attempts are exhausted.
//
// Construction and response errors end the call without classification.
// A retryable outcome waits Backoff(n+1), or the Explicit delay, before
// attempt n+1. Cancellation before or during a wait stops the call: a
// cancelled context yields a dispatch failure and an expired deadline a
// timeout error, both wrapping the context error.
func Do[T any](ctx context.Context, e *Engine, name string, classifier classify.Classifier[T], attempt AttemptFunc[T]) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e == nil {
		e = defaultEngine
	}
	if internal.IsTypedNil(classifier) {
		classifier = classify.Standard[T]{}
	}
	name = strings.TrimSpace(name)

	cfg := e.cfg
	if cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OperationTimeout)
		defer cancel()
	}

	tl := observe.Timeline{
		Name:       name,
		Start:      e.clock.Now(),
		Attributes: make(map[string]string),
		Attempts:   make([]observe.AttemptRecord, 0, cfg.MaxAttempts),
	}
	if len(e.changed) > 0 {
		tl.Attributes["config_normalized"] = strings.Join(e.changed, ",")
	}
	capture, _ := observe.TimelineCaptureFromContext(ctx)
	e.observer.OnStart(ctx, name, cfg.MaxAttempts)

	finish := func(val T, err error, reason string) (T, error) {
		tl.End = e.clock.Now()
		tl.FinalErr = err
		if reason != "" {
			tl.Attributes["terminal_reason"] = reason
		}
		if err == nil {
			e.observer.OnSuccess(ctx, name, tl)
		} else {
			e.observer.OnFailure(ctx, name, tl)
		}
		observe.StoreTimelineCapture(capture, &tl)
		return val, err
	}

	var zero T
	var release func()
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return finish(zero, interrupted(err, n-1), "context_done")
		}

		rec := observe.AttemptRecord{Attempt: n, StartTime: e.clock.Now()}
		val, serr := runAttempt(ctx, e, name, n, attempt)
		rec.EndTime = e.clock.Now()

		var err error
		if serr != nil {
			err = serr
			rec.Err = serr
			rec.StatusCode = serr.StatusCode()
		}

		if serr != nil && (serr.Kind == sdk.KindConstruction || serr.Kind == sdk.KindResponse) {
			rec.Verdict = classify.Unretryable(serr.Kind.String())
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			serr.Attempts = n
			return finish(val, serr, rec.Verdict.Reason)
		}

		verdict, perr := classifyWithRecovery(e.recoverPanics, classifier, name, val, err)
		rec.Verdict = verdict
		if perr != nil {
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			return finish(zero, perr, "panic_in_classifier")
		}

		switch {
		case verdict.Kind == classify.VerdictUnnecessary:
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			if release != nil {
				release()
			}
			if serr != nil {
				serr.Attempts = n
				return finish(val, serr, verdict.Reason)
			}
			return finish(val, nil, "")

		case !verdict.Retry():
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			return finish(val, terminal(serr, n, false), verdict.Reason)

		case n >= cfg.MaxAttempts:
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			e.logger.DebugContext(ctx, "retry attempts exhausted",
				slog.String("operation", name),
				slog.Int("attempts", n),
				slog.String("verdict", verdict.String()))
			return finish(val, terminal(serr, n, true), "attempts_exhausted")
		}

		decision, perr := e.acquire(ctx, name, n+1, verdict.ErrorKind)
		if perr != nil {
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			return finish(zero, perr, budget.ReasonPanicInQuota)
		}
		if !decision.Allowed {
			rec.QuotaDenied = true
			tl.Attempts = append(tl.Attempts, rec)
			e.observer.OnAttempt(ctx, name, rec)
			e.logger.DebugContext(ctx, "retry quota denied",
				slog.String("operation", name),
				slog.Int("attempt", n),
				slog.String("reason", decision.Reason))
			return finish(val, terminal(serr, n, false), decision.Reason)
		}
		release = decision.Release

		wait := cfg.Backoff(n + 1)
		if verdict.Kind == classify.VerdictExplicit {
			wait = verdict.Delay
		}
		rec.Backoff = wait
		tl.Attempts = append(tl.Attempts, rec)
		e.observer.OnAttempt(ctx, name, rec)

		e.logger.DebugContext(ctx, "retrying attempt",
			slog.String("operation", name),
			slog.Int("attempt", n+1),
			slog.Duration("backoff", wait),
			slog.String("verdict", verdict.String()))

		if wait > 0 {
			if err := e.sleeper.Sleep(ctx, wait); err != nil {
				return finish(zero, interrupted(err, n), "context_done")
			}
		}
	}
}

func runAttempt[T any](ctx context.Context, e *Engine, name string, n int, attempt AttemptFunc[T]) (T, *sdk.Error) {
	attemptCtx := observe.WithoutTimelineCapture(ctx)
	attemptCtx = observe.WithAttemptInfo(attemptCtx, observe.AttemptInfo{
		Name:        name,
		Attempt:     n,
		MaxAttempts: e.cfg.MaxAttempts,
	})
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	return attempt(attemptCtx, n)
}

func classifyWithRecovery[T any](recoverPanics bool, classifier classify.Classifier[T], name string, val T, err error) (v classify.Verdict, panicErr error) {
	if recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				v = classify.Unretryable("panic_in_classifier")
				panicErr = &PanicError{
					Component: "classifier",
					Name:      name,
					Value:     r,
					Stack:     debug.Stack(),
				}
			}
		}()
	}
	return classifier.Classify(val, err), nil
}

func (e *Engine) acquire(ctx context.Context, name string, attempt int, kind classify.ErrorKind) (d budget.Decision, panicErr error) {
	if e.quota == nil {
		return budget.Decision{Allowed: true, Reason: budget.ReasonNoQuota}, nil
	}
	if e.recoverPanics {
		defer func() {
			if r := recover(); r != nil {
				d = budget.Decision{Allowed: false, Reason: budget.ReasonPanicInQuota}
				panicErr = &PanicError{
					Component: "quota",
					Name:      name,
					Value:     r,
					Stack:     debug.Stack(),
				}
			}
		}()
	}
	return e.quota.Acquire(ctx, name, attempt, kind), nil
}

// terminal finalizes the last attempt's error. A nil *sdk.Error yields a nil
// error interface.
func terminal(serr *sdk.Error, attempts int, exhausted bool) error {
	if serr == nil {
		return nil
	}
	serr.Attempts = attempts
	serr.Exhausted = exhausted
	return serr
}

func interrupted(ctxErr error, attempts int) error {
	var serr *sdk.Error
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		serr = sdk.TimeoutError(ctxErr)
	} else {
		serr = sdk.DispatchFailure(ctxErr)
	}
	serr.Attempts = attempts
	return serr
}
