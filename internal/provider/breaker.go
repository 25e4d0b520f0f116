package provider

import (
	"context"

	"github.com/coreswarm/swarm/internal/circuitbreaker"
)

// BreakerWrapped wraps a Provider with a circuit breaker, per the
// provider-transport wrapping every worker's model calls go through.
type BreakerWrapped struct {
	inner   Provider
	breaker *circuitbreaker.Breaker
}

// WrapWithBreaker returns a Provider whose Invoke calls are routed
// through breaker.
func WrapWithBreaker(inner Provider, breaker *circuitbreaker.Breaker) *BreakerWrapped {
	return &BreakerWrapped{inner: inner, breaker: breaker}
}

// Name delegates to the wrapped provider.
func (b *BreakerWrapped) Name() string { return b.inner.Name() }

// Invoke runs through the breaker; when the breaker is open it fails
// fast with circuitbreaker.ErrOpen without ever calling the wrapped
// provider.
func (b *BreakerWrapped) Invoke(ctx context.Context, req Request) (Response, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Invoke(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return result.(Response), nil
}
