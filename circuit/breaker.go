package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultThreshold = 5
	DefaultCooldown  = 10 * time.Second
)

// ConsecutiveFailureBreaker opens after N consecutive failures, stays open
// for a cooldown and then lets a limited number of probes through.
type ConsecutiveFailureBreaker struct {
	mu sync.Mutex

	state State

	threshold      int
	cooldown       time.Duration
	maxProbes      int
	probesRequired int // consecutive probe successes needed to close

	consecutiveFailures int
	openTime            time.Time
	probesSent          int
	probesSuccessful    int

	clock clockwork.Clock
}

// BreakerOption configures a ConsecutiveFailureBreaker.
type BreakerOption func(*ConsecutiveFailureBreaker)

// WithClock sets the clock used for the cooldown.
func WithClock(c clockwork.Clock) BreakerOption {
	return func(cb *ConsecutiveFailureBreaker) {
		if c != nil {
			cb.clock = c
		}
	}
}

// WithProbes sets how many probes may be in flight while half-open and how
// many of them must succeed before the breaker closes.
func WithProbes(maxProbes, required int) BreakerOption {
	return func(cb *ConsecutiveFailureBreaker) {
		if maxProbes > 0 {
			cb.maxProbes = maxProbes
		}
		if required > 0 {
			cb.probesRequired = required
		}
	}
}

// NewConsecutiveFailureBreaker creates a closed breaker. Non-positive
// threshold and cooldown fall back to DefaultThreshold and DefaultCooldown.
func NewConsecutiveFailureBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *ConsecutiveFailureBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	cb := &ConsecutiveFailureBreaker{
		state:          StateClosed,
		threshold:      threshold,
		cooldown:       cooldown,
		maxProbes:      1,
		probesRequired: 1,
		clock:          clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cb)
		}
	}
	return cb
}

func (cb *ConsecutiveFailureBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.updateStateLocked()
}

func (cb *ConsecutiveFailureBreaker) Allow(context.Context) Decision {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.updateStateLocked() {
	case StateOpen:
		return Decision{Allowed: false, State: StateOpen, Reason: ReasonCircuitOpen}
	case StateHalfOpen:
		if cb.probesSent >= cb.maxProbes {
			return Decision{Allowed: false, State: StateHalfOpen, Reason: ReasonCircuitHalfOpenProbeLimit}
		}
		cb.probesSent++
		return Decision{Allowed: true, State: StateHalfOpen}
	default:
		return Decision{Allowed: true, State: StateClosed}
	}
}

func (cb *ConsecutiveFailureBreaker) RecordSuccess(context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.updateStateLocked() {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.probesSuccessful++
		if cb.probesSuccessful >= cb.probesRequired {
			cb.transitionTo(StateClosed)
		} else {
			// Free the probe slot until enough probes succeeded.
			cb.probesSent--
		}
	}
}

func (cb *ConsecutiveFailureBreaker) RecordFailure(context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.updateStateLocked() {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.threshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *ConsecutiveFailureBreaker) updateStateLocked() State {
	if cb.state == StateOpen && cb.clock.Since(cb.openTime) >= cb.cooldown {
		cb.transitionTo(StateHalfOpen)
	}
	return cb.state
}

func (cb *ConsecutiveFailureBreaker) transitionTo(next State) {
	cb.state = next
	switch next {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.probesSent = 0
		cb.probesSuccessful = 0
	case StateOpen:
		cb.openTime = cb.clock.Now()
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.probesSent = 0
		cb.probesSuccessful = 0
	}
}
