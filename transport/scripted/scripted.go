// Package scripted provides a Connection that replays a fixed sequence of
// responses and records what it was sent. It is a test double: fixture
// faults such as running out of events are reported to the test, never
// returned as dispatch errors.
package scripted

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aponysus/opcall/sleep"
	"github.com/aponysus/opcall/transport"
)

// Event is one scripted exchange. Request is the expected request; nil
// accepts any request. Exactly one of Response and Err should be set.
type Event struct {
	Request  *transport.Request
	Response *transport.Response
	Err      error
}

// Reply returns an event that expects req and answers with resp.
func Reply(req *transport.Request, resp *transport.Response) Event {
	return Event{Request: req, Response: resp}
}

// Fail returns an event that expects req and fails the send with err.
func Fail(req *transport.Request, err error) Event {
	return Event{Request: req, Err: err}
}

// TB is the subset of testing.TB used to report fixture faults.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// Mismatch describes an observed request that differed from the script.
type Mismatch struct {
	Index    int
	Expected *transport.Request
	Actual   *transport.Request
	Reason   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("request %d: %s", m.Index, m.Reason)
}

// Fault is the panic value raised for fixture faults when no TB is set.
type Fault struct {
	Msg string
}

func (f *Fault) Error() string { return "scripted: " + f.Msg }

// Option configures a Connection.
type Option func(*Connection)

// Lenient records request mismatches instead of failing on them.
func Lenient() Option {
	return func(c *Connection) { c.lenient = true }
}

// WithT reports fixture faults to t.
func WithT(t TB) Option {
	return func(c *Connection) { c.t = t }
}

// WithDelay waits d on s before answering each send.
func WithDelay(d time.Duration, s sleep.Sleeper) Option {
	return func(c *Connection) {
		c.delay = d
		c.sleeper = s
	}
}

// Connection replays events in order. It is safe for concurrent use; events
// are handed out in the order sends acquire the lock.
type Connection struct {
	lenient bool
	t       TB
	delay   time.Duration
	sleeper sleep.Sleeper

	mu         sync.Mutex
	events     []Event
	next       int
	requests   []*transport.Request
	mismatches []Mismatch
}

var _ transport.Connection = (*Connection)(nil)

// New returns a connection that replays events.
func New(events []Event, opts ...Option) *Connection {
	c := &Connection{events: append([]Event(nil), events...)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.delay > 0 && c.sleeper == nil {
		c.sleeper = sleep.Real()
	}
	return c
}

func (c *Connection) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if req == nil {
		c.fault("nil request")
		return nil, nil
	}

	c.mu.Lock()
	idx := c.next
	if idx >= len(c.events) {
		c.mu.Unlock()
		c.fault(fmt.Sprintf("no events remaining: request %d (%s %s) was not scripted", idx, req.Method, req.URI))
		return nil, nil
	}
	c.next++
	ev := c.events[idx]
	observed := req.Clone()
	c.requests = append(c.requests, observed)

	var mismatch string
	if ev.Request != nil {
		mismatch = compare(ev.Request, observed)
	}
	if mismatch != "" && c.lenient {
		c.mismatches = append(c.mismatches, Mismatch{Index: idx, Expected: ev.Request, Actual: observed, Reason: mismatch})
	}
	c.mu.Unlock()

	if mismatch != "" && !c.lenient {
		c.fault(fmt.Sprintf("request %d mismatch: %s", idx, mismatch))
		return nil, nil
	}

	if c.delay > 0 {
		if err := c.sleeper.Sleep(ctx, c.delay); err != nil {
			return nil, err
		}
	}

	if ev.Err != nil {
		return nil, ev.Err
	}
	if ev.Response == nil {
		c.fault(fmt.Sprintf("event %d has neither a response nor an error", idx))
		return nil, nil
	}
	return ev.Response, nil
}

// Requests returns the requests observed so far, in order.
func (c *Connection) Requests() []*transport.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*transport.Request(nil), c.requests...)
}

// Mismatches returns the mismatches recorded in lenient mode.
func (c *Connection) Mismatches() []Mismatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Mismatch(nil), c.mismatches...)
}

// Remaining reports how many events have not been consumed.
func (c *Connection) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events) - c.next
}

// AssertExhausted fails t if any events were not consumed.
func (c *Connection) AssertExhausted(t TB) {
	t.Helper()
	if n := c.Remaining(); n > 0 {
		t.Errorf("scripted: %d events were not consumed", n)
	}
}

func (c *Connection) fault(msg string) {
	f := &Fault{Msg: msg}
	if c.t != nil {
		c.t.Helper()
		c.t.Fatalf("%v", f)
	}
	panic(f)
}

func compare(expected, actual *transport.Request) string {
	var diffs []string
	if expected.Method != "" && expected.Method != actual.Method {
		diffs = append(diffs, fmt.Sprintf("method %q != %q", actual.Method, expected.Method))
	}
	if expected.URI != "" && expected.URI != actual.URI {
		diffs = append(diffs, fmt.Sprintf("uri %q != %q", actual.URI, expected.URI))
	}
	for _, name := range slices.Sorted(maps.Keys(expected.Header)) {
		want := expected.Header[name]
		got := actual.Header.Values(name)
		if !slices.Equal(got, want) {
			diffs = append(diffs, fmt.Sprintf("header %s %q != %q", http.CanonicalHeaderKey(name), got, want))
		}
	}
	if expected.Body != nil && !bytes.Equal(expected.Body, actual.Body) {
		diffs = append(diffs, fmt.Sprintf("body %q != %q", actual.Body, expected.Body))
	}
	return strings.Join(diffs, "; ")
}
