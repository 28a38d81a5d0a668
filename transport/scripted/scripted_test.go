package scripted_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/sleep"
	"github.com/aponysus/opcall/transport"
	"github.com/aponysus/opcall/transport/scripted"
)

// fakeTB records faults and stops the caller the way t.Fatalf would.
type fakeTB struct {
	errors []string
	fatals []string
}

type stopped struct{}

func (f *fakeTB) Helper() {}
func (f *fakeTB) Errorf(format string, args ...any) {
	f.errors = append(f.errors, fmt.Sprintf(format, args...))
}
func (f *fakeTB) Fatalf(format string, args ...any) {
	f.fatals = append(f.fatals, fmt.Sprintf(format, args...))
	panic(stopped{})
}

func expectPanic(t *testing.T, fn func()) (v any) {
	t.Helper()
	defer func() { v = recover() }()
	fn()
	return nil
}

func getReq(uri string) *transport.Request {
	return transport.NewRequest("GET", uri, nil)
}

func TestConnection_ReplaysInOrder(t *testing.T) {
	conn := scripted.New([]scripted.Event{
		scripted.Reply(getReq("/a"), transport.NewResponse(500, nil)),
		scripted.Fail(getReq("/a"), transport.IOErr(errors.New("reset"))),
		scripted.Reply(nil, transport.NewResponse(200, []byte("ok"))),
	})
	ctx := context.Background()

	resp, err := conn.Send(ctx, getReq("/a"))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	_, err = conn.Send(ctx, getReq("/a"))
	assert.True(t, transport.IsTransient(err))

	resp, err = conn.Send(ctx, getReq("/anything"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Bytes())

	reqs := conn.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/anything", reqs[2].URI)
	assert.Equal(t, 0, conn.Remaining())
	conn.AssertExhausted(t)
}

func TestConnection_RecordsClones(t *testing.T) {
	conn := scripted.New([]scripted.Event{scripted.Reply(nil, transport.NewResponse(200, nil))})
	req := getReq("/a")
	req.Header.Set("X-Attempt", "1")

	_, err := conn.Send(context.Background(), req)
	require.NoError(t, err)
	req.Header.Set("X-Attempt", "2")

	assert.Equal(t, "1", conn.Requests()[0].Header.Get("X-Attempt"))
}

func TestConnection_ExhaustionIsHardFault(t *testing.T) {
	conn := scripted.New(nil)
	v := expectPanic(t, func() { _, _ = conn.Send(context.Background(), getReq("/a")) })
	var f *scripted.Fault
	require.ErrorAs(t, v.(error), &f)
	assert.Contains(t, f.Msg, "no events remaining")

	tb := &fakeTB{}
	conn = scripted.New(nil, scripted.WithT(tb))
	v = expectPanic(t, func() { _, _ = conn.Send(context.Background(), getReq("/a")) })
	assert.Equal(t, stopped{}, v)
	require.Len(t, tb.fatals, 1)
}

func TestConnection_StrictMismatch(t *testing.T) {
	expected := transport.NewRequest("POST", "/items", []byte(`{"a":1}`))
	expected.Header.Set("Content-Type", "application/json")

	cases := []struct {
		name string
		req  *transport.Request
		want string
	}{
		{name: "method", req: transport.NewRequest("PUT", "/items", []byte(`{"a":1}`)), want: "method"},
		{name: "uri", req: transport.NewRequest("POST", "/other", []byte(`{"a":1}`)), want: "uri"},
		{name: "body", req: transport.NewRequest("POST", "/items", []byte(`{}`)), want: "body"},
		{name: "header", req: transport.NewRequest("POST", "/items", []byte(`{"a":1}`)), want: "header Content-Type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name != "header" {
				tc.req.Header.Set("Content-Type", "application/json")
			}
			tb := &fakeTB{}
			conn := scripted.New([]scripted.Event{scripted.Reply(expected, transport.NewResponse(200, nil))}, scripted.WithT(tb))
			expectPanic(t, func() { _, _ = conn.Send(context.Background(), tc.req) })
			require.Len(t, tb.fatals, 1)
			assert.Contains(t, tb.fatals[0], tc.want)
		})
	}
}

func TestConnection_LenientRecordsMismatch(t *testing.T) {
	conn := scripted.New([]scripted.Event{
		scripted.Reply(getReq("/a"), transport.NewResponse(200, nil)),
	}, scripted.Lenient())

	resp, err := conn.Send(context.Background(), getReq("/b"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	mm := conn.Mismatches()
	require.Len(t, mm, 1)
	assert.Equal(t, 0, mm[0].Index)
	assert.Contains(t, mm[0].String(), "uri")
}

func TestConnection_AssertExhausted(t *testing.T) {
	tb := &fakeTB{}
	conn := scripted.New([]scripted.Event{scripted.Reply(nil, transport.NewResponse(200, nil))})
	conn.AssertExhausted(tb)
	require.Len(t, tb.errors, 1)
	assert.Contains(t, tb.errors[0], "1 events")
}

func TestConnection_Delay(t *testing.T) {
	p := sleep.NewPaused()
	conn := scripted.New([]scripted.Event{
		scripted.Reply(nil, transport.NewResponse(200, nil)),
		scripted.Reply(nil, transport.NewResponse(200, nil)),
	}, scripted.WithDelay(250*time.Millisecond, p))

	_, err := conn.Send(context.Background(), getReq("/a"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, p.Elapsed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conn.Send(ctx, getReq("/a"))
	assert.ErrorIs(t, err, context.Canceled)
}
