// Package sensitivity declares which parts of an operation's requests and
// responses must never be logged, and formats them for logging with those
// parts replaced by a fixed marker.
//
// Redaction never hashes or truncates a sensitive value: the value is
// omitted entirely and Redacted is written in its place.
package sensitivity

import (
	"log/slog"

	"github.com/aponysus/opcall/transport"
)

// Redacted replaces every sensitive value.
const Redacted = "{redacted}"

// RequestFormatter renders a request for logging.
type RequestFormatter interface {
	FormatRequest(req *transport.Request) (slog.Value, error)
}

// ResponseFormatter renders a response for logging.
type ResponseFormatter interface {
	FormatResponse(resp *transport.Response) (slog.Value, error)
}

// Sensitivity is an operation's fixed redaction policy.
type Sensitivity interface {
	RequestFormatter() RequestFormatter
	ResponseFormatter() ResponseFormatter
}

// Static is a Sensitivity built from fixed formatter descriptions.
type Static struct {
	Request  RequestFmt
	Response ResponseFmt
}

func (s Static) RequestFormatter() RequestFormatter   { return s.Request }
func (s Static) ResponseFormatter() ResponseFormatter { return s.Response }

// None marks nothing sensitive.
var None Sensitivity = Static{}
