package circuit

import (
	"context"
	"net/http"

	"github.com/aponysus/opcall/layer"
	"github.com/aponysus/opcall/observe"
	"github.com/aponysus/opcall/transport"
)

// Layer returns a client layer guarded by b. A refused send fails with a
// non-transient dispatch error wrapping ErrOpen. Dispatch errors and 5xx
// responses count as failures.
func Layer(b Breaker) layer.Layer {
	if b == nil {
		return layer.Identity
	}
	return layer.LayerFunc(func(inner layer.Service) layer.Service {
		return guard(inner, func(context.Context) Breaker { return b })
	})
}

// PerOperation returns a client layer that guards each operation with its
// own breaker from reg, keyed by the operation name of the attempt.
func PerOperation(reg *Registry) layer.Layer {
	if reg == nil || !reg.cfg.Enabled {
		return layer.Identity
	}
	return layer.LayerFunc(func(inner layer.Service) layer.Service {
		return guard(inner, func(ctx context.Context) Breaker {
			info, _ := observe.AttemptFromContext(ctx)
			return reg.Get(info.Name)
		})
	})
}

func guard(inner layer.Service, breakerFor func(context.Context) Breaker) layer.Service {
	return layer.ServiceFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		b := breakerFor(ctx)
		if b == nil {
			return inner.Call(ctx, req)
		}
		if d := b.Allow(ctx); !d.Allowed {
			return nil, &transport.DispatchError{Kind: transport.DispatchOther, Err: ErrOpen}
		}

		resp, err := inner.Call(ctx, req)
		if err != nil || (resp != nil && resp.StatusCode >= http.StatusInternalServerError) {
			b.RecordFailure(ctx)
		} else {
			b.RecordSuccess(ctx)
		}
		return resp, err
	})
}
