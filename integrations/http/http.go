// Package http connects clients to HTTP services through net/http.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/client"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/operation"
	"github.com/aponysus/opcall/transport"
)

// Connection sends transport requests with an *http.Client. Relative request
// URIs are resolved against BaseURL.
type Connection struct {
	Client  *http.Client
	BaseURL string
}

var _ transport.Connection = (*Connection)(nil)

// NewConnection returns a connection using http.DefaultClient when c is nil.
func NewConnection(baseURL string, c *http.Client) *Connection {
	if c == nil {
		c = http.DefaultClient
	}
	return &Connection{Client: c, BaseURL: baseURL}
}

// Send performs one exchange. The response body is left streaming. Errors
// are *transport.DispatchError values: timeouts and connection failures are
// transient, malformed requests are user errors.
func (c *Connection) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	target, err := c.resolve(req.URI)
	if err != nil {
		return nil, transport.UserErr(err)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, transport.UserErr(err)
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}

	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, dispatchError(ctx, err)
	}

	return &transport.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *Connection) resolve(uri string) (string, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("http: parse request uri: %w", err)
	}
	if ref.IsAbs() || c.BaseURL == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("http: parse base url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func dispatchError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return transport.TimeoutErr(err)
	case errors.Is(err, context.Canceled):
		return &transport.DispatchError{Kind: transport.DispatchOther, Err: err}
	case transport.IsTransient(err):
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return transport.TimeoutErr(err)
		}
		return transport.IOErr(err)
	default:
		return &transport.DispatchError{Kind: transport.DispatchOther, Err: err}
	}
}

// StatusError is the modeled error for a non-2xx response.
type StatusError struct {
	Code   int
	Method string
	Header http.Header
}

func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.Code)
}

func (e *StatusError) HTTPStatusCode() int { return e.Code }
func (e *StatusError) HTTPMethod() string  { return e.Method }

// RetryableErrorKind reports 429 as throttling, 408 as transient and 5xx as
// server errors.
func (e *StatusError) RetryableErrorKind() (classify.ErrorKind, bool) {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return classify.ThrottlingError, true
	case e.Code == http.StatusRequestTimeout:
		return classify.Transient, true
	case e.Code >= 500 && e.Code <= 599:
		return classify.ServerError, true
	default:
		return 0, false
	}
}

// RetryAfter returns the delay requested by the response's Retry-After header.
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return RetryAfter(e.Header)
}

// RetryAfter parses a Retry-After header given as delay seconds or an HTTP
// date. Dates in the past yield zero.
func RetryAfter(h http.Header) (time.Duration, bool) {
	return classify.ParseRetryAfter(h, time.Now())
}

// ErrorFromResponse returns a *StatusError for resp. It suits operation
// parsers as their non-2xx handler.
func ErrorFromResponse(method string) func(resp *transport.Response) error {
	return func(resp *transport.Response) error {
		return &StatusError{Code: resp.StatusCode, Method: method, Header: resp.Header}
	}
}

// DoHTTP sends req through c as a retried operation named "<METHOD> <path>"
// and returns the 2xx body together with the call's timeline. Non-2xx
// responses surface as a *StatusError inside the returned error.
func DoHTTP(ctx context.Context, c *client.Client, req *http.Request) ([]byte, observe.Timeline, error) {
	treq, err := fromHTTP(req)
	if err != nil {
		return nil, observe.Timeline{}, err
	}

	name := strings.ToUpper(req.Method) + " " + req.URL.Path
	op := operation.New(name, treq, operation.Bytes(ErrorFromResponse(req.Method))).
		WithClassifier(classify.HTTPStatus[[]byte]{})

	ctx, capture := observe.RecordTimeline(ctx)
	out, err := client.Call(ctx, c, op)

	var tl observe.Timeline
	if t := capture.Timeline(); t != nil {
		tl = *t
	}
	return out, tl, err
}

func fromHTTP(req *http.Request) (*transport.Request, error) {
	var body []byte
	switch {
	case req.GetBody != nil:
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("http: get request body: %w", err)
		}
		defer rc.Close()
		if body, err = io.ReadAll(rc); err != nil {
			return nil, fmt.Errorf("http: read request body: %w", err)
		}
	case req.Body != nil && req.Body != http.NoBody:
		defer req.Body.Close()
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("http: read request body: %w", err)
		}
	}

	out := transport.NewRequest(req.Method, req.URL.String(), body)
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	return out, nil
}
