// Package sleep provides the backoff wait capability used by the retry engine.
//
// Production code uses Real. Tests use Clock with a clockwork fake clock when
// they want to advance time by hand, or Paused when every wait should complete
// immediately while still accounting for virtual elapsed time.
package sleep

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sleeper waits for a duration. Sleep returns ctx.Err() if ctx is done first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Func adapts a function to Sleeper.
type Func func(ctx context.Context, d time.Duration) error

func (f Func) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// Real sleeps against the wall clock.
func Real() Sleeper {
	return Clock(clockwork.NewRealClock())
}

// Clock returns a Sleeper that waits on timers from c.
func Clock(c clockwork.Clock) Sleeper {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return clockSleeper{clock: c}
}

type clockSleeper struct {
	clock clockwork.Clock
}

func (s clockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Paused is a virtual clock that advances by exactly the requested duration
// whenever something sleeps on it. No real time passes.
type Paused struct {
	mu    sync.Mutex
	fake  *clockwork.FakeClock
	start time.Time
	waits []time.Duration
}

// NewPaused returns a paused clock starting at the fake clock's epoch.
func NewPaused() *Paused {
	fake := clockwork.NewFakeClock()
	return &Paused{fake: fake, start: fake.Now()}
}

func (p *Paused) Sleep(ctx context.Context, d time.Duration) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if d <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits = append(p.waits, d)
	p.fake.Advance(d)
	return nil
}

// Clock exposes the underlying fake clock, for components that read time.
func (p *Paused) Clock() clockwork.Clock { return p.fake }

// Now returns the current virtual time.
func (p *Paused) Now() time.Time { return p.fake.Now() }

// Elapsed returns the virtual time slept since the clock was created.
func (p *Paused) Elapsed() time.Duration {
	return p.fake.Since(p.start)
}

// Waits returns the recorded sleep durations in order.
func (p *Paused) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

// Mark returns a function that reports the virtual time elapsed since Mark
// was called.
func (p *Paused) Mark() func() time.Duration {
	start := p.fake.Now()
	return func() time.Duration { return p.fake.Since(start) }
}
