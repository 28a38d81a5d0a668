package budget

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aponysus/opcall/classify"
)

// Token bucket defaults.
const (
	DefaultCapacity    = 500
	DefaultRetryCost   = 5
	DefaultTimeoutCost = 10
)

// Unlimited grants every retry.
type Unlimited struct{}

func (Unlimited) Acquire(context.Context, string, int, classify.ErrorKind) Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// TokenBucket is a token-bucket retry quota.
//
// It starts full. Each retry consumes RetryCost tokens, or TimeoutCost when
// the triggering failure was Transient. A retry that succeeds returns its
// tokens. An optional refill rate adds tokens over time.
type TokenBucket struct {
	mu sync.Mutex

	capacity        float64
	retryCost       float64
	timeoutCost     float64
	refillPerSecond float64
	clock           clockwork.Clock

	tokens float64
	last   time.Time
}

// TokenBucketOption configures a TokenBucket.
type TokenBucketOption func(*TokenBucket)

// WithCapacity sets the bucket capacity. Negative values become 0.
func WithCapacity(n int) TokenBucketOption {
	return func(b *TokenBucket) {
		if n < 0 {
			n = 0
		}
		b.capacity = float64(n)
	}
}

// WithRetryCost sets the cost of a retry after a non-transient error.
func WithRetryCost(n int) TokenBucketOption {
	return func(b *TokenBucket) {
		if n > 0 {
			b.retryCost = float64(n)
		}
	}
}

// WithTimeoutCost sets the cost of a retry after a transient error.
func WithTimeoutCost(n int) TokenBucketOption {
	return func(b *TokenBucket) {
		if n > 0 {
			b.timeoutCost = float64(n)
		}
	}
}

// WithRefill adds perSecond tokens per elapsed second, up to capacity.
func WithRefill(perSecond float64) TokenBucketOption {
	return func(b *TokenBucket) {
		if perSecond < 0 || math.IsNaN(perSecond) || math.IsInf(perSecond, 0) {
			perSecond = 0
		}
		b.refillPerSecond = perSecond
	}
}

// WithClock sets the clock used for refill accounting.
func WithClock(c clockwork.Clock) TokenBucketOption {
	return func(b *TokenBucket) {
		if c != nil {
			b.clock = c
		}
	}
}

func NewTokenBucket(opts ...TokenBucketOption) *TokenBucket {
	b := &TokenBucket{
		capacity:    DefaultCapacity,
		retryCost:   DefaultRetryCost,
		timeoutCost: DefaultTimeoutCost,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.tokens = b.capacity
	b.last = b.clock.Now()
	return b
}

// Available reports the current token count.
func (b *TokenBucket) Available() float64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) Acquire(_ context.Context, _ string, _ int, kind classify.ErrorKind) Decision {
	if b == nil {
		return Decision{Allowed: false, Reason: ReasonQuotaNil}
	}

	need := b.retryCost
	if kind == classify.Transient {
		need = b.timeoutCost
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < need {
		return Decision{Allowed: false, Reason: ReasonQuotaDenied}
	}
	b.tokens -= need

	var once sync.Once
	return Decision{
		Allowed: true,
		Reason:  ReasonAllowed,
		Release: func() {
			once.Do(func() { b.refund(need) })
		},
	}
}

func (b *TokenBucket) refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	// Sanity check state
	if math.IsNaN(b.tokens) || math.IsInf(b.tokens, 0) {
		b.tokens = 0
	}

	if b.refillPerSecond > 0 && !now.Before(b.last) {
		added := now.Sub(b.last).Seconds() * b.refillPerSecond
		if math.IsNaN(added) || math.IsInf(added, 0) || added < 0 {
			added = 0
		}
		b.tokens += added
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	// Advance last on skew or no refill.
	b.last = now
}
