package classify

import "time"

// ErrorKind groups retryable errors. All kinds share one backoff schedule;
// only an Explicit verdict changes the delay.
type ErrorKind int

const (
	Transient ErrorKind = iota + 1
	ThrottlingError
	ClientError
	ServerError
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ThrottlingError:
		return "throttling"
	case ClientError:
		return "client"
	case ServerError:
		return "server"
	default:
		return "unknown"
	}
}

// ProvideErrorKind is implemented by modeled errors that know whether they
// are retryable. ok is false for errors that must not be retried.
type ProvideErrorKind interface {
	RetryableErrorKind() (kind ErrorKind, ok bool)
}

// VerdictKind is the retry decision for one attempt.
type VerdictKind int

const (
	VerdictUnknown VerdictKind = iota
	// VerdictUnnecessary: the attempt succeeded.
	VerdictUnnecessary
	// VerdictRetryable: retry on the standard backoff schedule.
	VerdictRetryable
	// VerdictUnretryable: stop and surface the failure.
	VerdictUnretryable
	// VerdictExplicit: retry after Verdict.Delay instead of the schedule.
	VerdictExplicit
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictUnnecessary:
		return "unnecessary"
	case VerdictRetryable:
		return "retryable"
	case VerdictUnretryable:
		return "unretryable"
	case VerdictExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Verdict is the result of classifying an attempt.
type Verdict struct {
	Kind      VerdictKind
	ErrorKind ErrorKind
	Delay     time.Duration

	// Reason is a short machine-readable label for logs and metrics.
	Reason string
}

// Retry reports whether the verdict asks for another attempt.
func (v Verdict) Retry() bool {
	return v.Kind == VerdictRetryable || v.Kind == VerdictExplicit
}

func (v Verdict) String() string {
	switch v.Kind {
	case VerdictRetryable:
		return "retryable(" + v.ErrorKind.String() + ")"
	case VerdictExplicit:
		return "explicit(" + v.Delay.String() + ")"
	default:
		return v.Kind.String()
	}
}

func Unnecessary() Verdict {
	return Verdict{Kind: VerdictUnnecessary, Reason: "success"}
}

func Retryable(kind ErrorKind) Verdict {
	return Verdict{Kind: VerdictRetryable, ErrorKind: kind, Reason: kind.String() + "_error"}
}

func Unretryable(reason string) Verdict {
	if reason == "" {
		reason = "non_retryable_error"
	}
	return Verdict{Kind: VerdictUnretryable, Reason: reason}
}

func Explicit(d time.Duration) Verdict {
	if d < 0 {
		d = 0
	}
	return Verdict{Kind: VerdictExplicit, Delay: d, Reason: "explicit_delay"}
}
