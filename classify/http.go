package classify

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aponysus/opcall/sdk"
)

// HTTPStatus classifies service errors by the status code of the raw
// response, and defers everything else to Standard.
//
//   - 429: ThrottlingError, or Explicit when Retry-After is present
//   - 5xx: ServerError
//   - 408 and Retryable4xx: Transient
//   - other 4xx: Unretryable
//
// A 429 with a usable Retry-After header is always Explicit. Otherwise a
// modeled error that provides its own kind takes precedence.
type HTTPStatus[T any] struct {
	// Retryable4xx is an optional set of additional retryable 4xx codes.
	Retryable4xx map[int]struct{}

	// IgnoreRetryAfter disables Explicit verdicts from Retry-After headers.
	IgnoreRetryAfter bool

	// now is overridable in tests.
	now func() time.Time
}

func (c HTTPStatus[T]) Classify(out T, err error) Verdict {
	if err == nil {
		return Unnecessary()
	}
	se := mustSDKError(err)
	if se.Kind != sdk.KindService || se.Raw == nil {
		return Standard[T]{}.Classify(out, err)
	}

	status := se.Raw.StatusCode
	if status == http.StatusTooManyRequests && !c.IgnoreRetryAfter {
		if d, ok := c.retryAfter(se.Raw.Header); ok {
			v := Explicit(d)
			v.ErrorKind = ThrottlingError
			v.Reason = "http_429_retry_after"
			return v
		}
	}
	if v := fromModeled(se.Err); v.Kind == VerdictRetryable {
		return v
	}

	switch {
	case status == http.StatusTooManyRequests:
		v := Retryable(ThrottlingError)
		v.Reason = "http_429"
		return v
	case status >= 500 && status <= 599:
		v := Retryable(ServerError)
		v.Reason = "http_5xx"
		return v
	case status == http.StatusRequestTimeout || c.retryable4xx(status):
		v := Retryable(Transient)
		v.Reason = "http_" + strconv.Itoa(status)
		return v
	default:
		return Unretryable("http_non_retryable_status")
	}
}

func (c HTTPStatus[T]) retryable4xx(status int) bool {
	if c.Retryable4xx == nil {
		return false
	}
	_, ok := c.Retryable4xx[status]
	return ok
}

func (c HTTPStatus[T]) retryAfter(h http.Header) (time.Duration, bool) {
	now := c.now
	if now == nil {
		now = time.Now
	}
	return ParseRetryAfter(h, now())
}

// maxRetryAfterSeconds is the largest delay-seconds value a time.Duration holds.
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// ParseRetryAfter reads a Retry-After header given either as delay seconds or
// as an HTTP date relative to now. Negative or unrepresentable delays are
// rejected.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	s := strings.TrimSpace(h.Get("Retry-After"))
	if s == "" {
		return 0, false
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 || secs > maxRetryAfterSeconds {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if t, err := http.ParseTime(s); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
