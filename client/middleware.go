package client

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/sdk"
	"github.com/aponysus/opcall/transport"
)

// AttemptHeaderName is the header written by AttemptHeader.
const AttemptHeaderName = "X-Attempt"

// AttemptHeader writes the attempt number, and the attempt limit when known,
// into the X-Attempt header: "attempt=2; max=3".
func AttemptHeader() layer.Layer {
	return layer.LayerFunc(func(inner layer.Service) layer.Service {
		return layer.ServiceFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			n, ok := transport.ExtensionValue[transport.AttemptCount](&req.Extensions)
			if ok {
				v := "attempt=" + strconv.Itoa(int(n))
				if info, ok := observe.AttemptFromContext(ctx); ok && info.MaxAttempts > 0 {
					v += "; max=" + strconv.Itoa(info.MaxAttempts)
				}
				req.Header.Set(AttemptHeaderName, v)
			}
			return inner.Call(ctx, req)
		})
	})
}

// TimeoutLayer bounds each send, including reading the response body, to d.
// An expired send fails with a timeout dispatch error. The body is buffered
// up to the request's transport.BodyLimit extension, or
// transport.DefaultBodyLimit when unset.
func TimeoutLayer(d time.Duration) layer.Layer {
	if d <= 0 {
		return layer.Identity
	}
	return layer.LayerFunc(func(inner layer.Service) layer.Service {
		return layer.ServiceFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := inner.Call(ctx, req)
			if err != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, transport.TimeoutErr(context.DeadlineExceeded)
				}
				return nil, err
			}
			// The body must be read before cancel runs.
			limit, _ := transport.ExtensionValue[transport.BodyLimit](&req.Extensions)
			if _, err := resp.Load(int64(limit)); err != nil {
				if errors.Is(err, transport.ErrBodyTooLarge) {
					return nil, sdk.ResponseError(err, resp)
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, transport.TimeoutErr(context.DeadlineExceeded)
				}
				return nil, transport.IOErr(err)
			}
			return resp, nil
		})
	})
}
