package circuit

import (
	"context"
	"errors"
)

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed.
	StateOpen                  // Circuit open, requests fast-failed.
	StateHalfOpen              // Probing mode, limited requests allowed.
)

const (
	ReasonCircuitOpen               = "circuit_open"
	ReasonCircuitHalfOpenProbeLimit = "circuit_half_open_probe_limit"
)

// ErrOpen is the cause of the dispatch error returned for a send the breaker
// refused. It is not transient: the standard classifier does not retry it.
var ErrOpen = errors.New("circuit: breaker open")

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Decision represents the result of checking a circuit breaker.
type Decision struct {
	Allowed bool
	State   State
	Reason  string
}

// Breaker decides whether a send may proceed and learns from its outcome.
type Breaker interface {
	// Allow checks if a send should be allowed. An allowed send must be
	// followed by exactly one RecordSuccess or RecordFailure.
	Allow(ctx context.Context) Decision

	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)

	State() State
}
