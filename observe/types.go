package observe

import (
	"context"
	"time"

	"github.com/aponysus/opcall/classify"
)

// AttemptRecord describes a single attempt of an operation.
type AttemptRecord struct {
	Attempt   int
	StartTime time.Time
	EndTime   time.Time

	Verdict classify.Verdict

	// StatusCode is the raw response status when the failure carried one.
	StatusCode int

	Err error

	Backoff time.Duration // wait scheduled after this attempt

	QuotaDenied bool
}

// Timeline is the structured record of a single call and all of its attempts.
type Timeline struct {
	Name  string
	Start time.Time
	End   time.Time

	// Attributes holds call-level metadata (config normalization notes, terminal reason, etc.).
	Attributes map[string]string

	Attempts []AttemptRecord
	FinalErr error
}

// Observer receives lifecycle callbacks for a single call.
type Observer interface {
	OnStart(ctx context.Context, name string, maxAttempts int)
	OnAttempt(ctx context.Context, name string, rec AttemptRecord)
	OnSuccess(ctx context.Context, name string, tl Timeline)
	OnFailure(ctx context.Context, name string, tl Timeline)
}
