package circuit_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aponysus/opcall/circuit"
	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/client"
	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/operation"
	"github.com/aponysus/opcall/retry"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/sleep"
	"github.com/aponysus/opcall/transport"
	"github.com/aponysus/opcall/transport/scripted"
)

func statusError(resp *transport.Response) error {
	return fmt.Errorf("status %d", resp.StatusCode)
}

func getOp(name string) operation.Operation[[]byte] {
	return operation.New(name, transport.NewRequest(http.MethodGet, "/x", nil), operation.Bytes(statusError)).
		WithClassifier(classify.HTTPStatus[[]byte]{})
}

func TestLayer_OpensAndFailsFast(t *testing.T) {
	clock := clockwork.NewFakeClock()
	breaker := circuit.NewConsecutiveFailureBreaker(2, time.Minute, circuit.WithClock(clock))

	conn := scripted.New([]scripted.Event{
		scripted.Reply(nil, transport.NewResponse(http.StatusInternalServerError, nil)),
		scripted.Reply(nil, transport.NewResponse(http.StatusInternalServerError, nil)),
	})

	c, err := client.New(conn,
		client.WithRetryConfig(retry.Config{MaxAttempts: 5, InitialBackoff: time.Millisecond, Base: 1}),
		client.WithSleeper(sleep.NewPaused()),
		client.WithLayer(circuit.Layer(breaker)),
	)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), c, getOp("Get"))
	require.Error(t, err)

	// Two 500s open the breaker; the third attempt is refused without a send
	// and the refusal is not retried.
	assert.Len(t, conn.Requests(), 2)
	assert.Equal(t, circuit.StateOpen, breaker.State())

	se, ok := sdk.As(err)
	require.True(t, ok)
	assert.Equal(t, sdk.KindDispatch, se.Kind)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 3, se.Attempts)
}

func TestLayer_SuccessResets(t *testing.T) {
	breaker := circuit.NewConsecutiveFailureBreaker(2, time.Minute)
	calls := 0
	inner := layer.ServiceFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		calls++
		if calls%2 == 1 {
			return nil, errors.New("refused")
		}
		return transport.NewResponse(http.StatusOK, nil), nil
	})

	svc := circuit.Layer(breaker).Wrap(inner)
	for range 6 {
		_, _ = svc.Call(context.Background(), transport.NewRequest("GET", "/", nil))
	}
	assert.Equal(t, 6, calls)
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func TestPerOperation(t *testing.T) {
	reg := circuit.NewRegistry(circuit.Config{Enabled: true, Threshold: 1, Cooldown: time.Minute}, clockwork.NewFakeClock())

	conn := scripted.New([]scripted.Event{
		scripted.Reply(nil, transport.NewResponse(http.StatusServiceUnavailable, nil)),
		scripted.Reply(nil, transport.NewResponse(http.StatusOK, []byte("ok"))),
	})

	c, err := client.New(conn,
		client.WithRetryConfig(retry.NewConfig(retry.Disabled())),
		client.WithLayer(circuit.PerOperation(reg)),
	)
	require.NoError(t, err)

	_, err = client.Call(context.Background(), c, getOp("A"))
	require.Error(t, err)
	assert.Equal(t, circuit.StateOpen, reg.Get("A").State())

	out, err := client.Call(context.Background(), c, getOp("B"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)

	_, err = client.Call(context.Background(), c, getOp("A"))
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Len(t, conn.Requests(), 2)
}

func TestLayer_NilAndDisabled(t *testing.T) {
	assert.NotNil(t, circuit.Layer(nil))
	assert.NotNil(t, circuit.PerOperation(circuit.NewRegistry(circuit.Config{}, nil)))
}
