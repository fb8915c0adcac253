package breaker

import (
	"context"

	"cogateway/model"
)

type breakerClient struct {
	next model.Client
	b    *Breaker
}

// Middleware returns a model.Client middleware that routes every Complete
// call through b, rejecting with ErrCircuitOpen while the circuit is open.
// Mirrors model/middleware.AdaptiveRateLimiter.Middleware's wrapping shape so
// the two compose in either order at the gateway composition root.
func (b *Breaker) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &breakerClient{next: next, b: b}
	}
}

func (c *breakerClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	var resp model.Response
	err := c.b.Call(ctx, func(ctx context.Context) error {
		r, err := c.next.Complete(ctx, req)
		resp = r
		return err
	})
	return resp, err
}
