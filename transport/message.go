package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit bounds how many bytes Load buffers when no limit is given.
const DefaultBodyLimit int64 = 10 << 20

// ErrBodyTooLarge is returned by Load when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("transport: response body exceeds limit")

// Request is a transport-level request. The body is held in memory so the
// request can be re-sent on every attempt.
type Request struct {
	Method     string
	URI        string
	Header     http.Header
	Body       []byte
	Extensions Extensions
}

// NewRequest returns a request with an empty header.
func NewRequest(method, uri string, body []byte) *Request {
	return &Request{
		Method: method,
		URI:    uri,
		Header: make(http.Header),
		Body:   body,
	}
}

// Clone returns a deep copy of r. Extension values themselves are shared.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := &Request{
		Method:     r.Method,
		URI:        r.URI,
		Header:     r.Header.Clone(),
		Extensions: r.Extensions.Clone(),
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Response is a transport-level response. Body may be streaming until Load
// is called.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Extensions Extensions

	loaded   bool
	buffered []byte
}

// NewResponse returns a response whose body is already buffered.
func NewResponse(status int, body []byte) *Response {
	return &Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
		loaded:     true,
		buffered:   body,
	}
}

// Success reports whether the status code is 2xx.
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Loaded reports whether the body has been buffered.
func (r *Response) Loaded() bool {
	return r != nil && r.loaded
}

// Bytes returns the buffered body, or nil if Load has not been called.
func (r *Response) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.buffered
}

// Load reads the whole body (at most limit bytes, DefaultBodyLimit if
// limit <= 0), closes the original reader and replaces Body with a reader over
// the buffered bytes. Subsequent calls return the cached bytes.
func (r *Response) Load(limit int64) ([]byte, error) {
	if r == nil {
		return nil, errors.New("transport: nil response")
	}
	if r.loaded {
		return r.buffered, nil
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	var data []byte
	if r.Body != nil {
		var err error
		data, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		closeErr := r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("transport: read body: %w", err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("transport: close body: %w", closeErr)
		}
		if int64(len(data)) > limit {
			return nil, ErrBodyTooLarge
		}
	}

	r.loaded = true
	r.buffered = data
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// Close releases the body without reading it.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
