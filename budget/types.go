package budget

import (
	"context"

	"github.com/aponysus/opcall/classify"
)

// Standard Decision.Reason strings.
const (
	ReasonAllowed      = "allowed"
	ReasonNoQuota      = "no_quota"
	ReasonQuotaNil     = "quota_nil"
	ReasonQuotaDenied  = "quota_denied"
	ReasonPanicInQuota = "panic_in_quota"
)

// Decision is the result of a quota check.
type Decision struct {
	Allowed bool
	Reason  string

	// Release, when non-nil, is called at most once if the granted retry
	// succeeds. It returns the acquired tokens to the quota.
	Release func()
}

// Quota gates retries across calls sharing a client, so a failing dependency
// is not hammered by every caller's retry loop at once.
type Quota interface {
	// Acquire is called before a retry of attempt-1 is scheduled. kind is the
	// error kind of the failure that triggered the retry.
	Acquire(ctx context.Context, name string, attempt int, kind classify.ErrorKind) Decision
}
