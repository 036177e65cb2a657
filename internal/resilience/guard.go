package resilience

import (
	"context"
	"time"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/models"
)

// GuardedMarket routes market-data calls through a circuit breaker.
type GuardedMarket struct {
	inner   broker.MarketData
	breaker *CircuitBreaker
}

// GuardMarketData wraps md with cb.
func GuardMarketData(md broker.MarketData, cb *CircuitBreaker) *GuardedMarket {
	return &GuardedMarket{inner: md, breaker: cb}
}

// Spot delegates through the breaker.
func (g *GuardedMarket) Spot(ctx context.Context) (float64, error) {
	return ExecuteWithResult(g.breaker, ctx, func() (float64, error) {
		return g.inner.Spot(ctx)
	})
}

// Expiries delegates through the breaker.
func (g *GuardedMarket) Expiries(ctx context.Context) ([]time.Time, error) {
	return ExecuteWithResult(g.breaker, ctx, func() ([]time.Time, error) {
		return g.inner.Expiries(ctx)
	})
}

// OptionChain delegates through the breaker.
func (g *GuardedMarket) OptionChain(ctx context.Context, expiry time.Time) (*models.OptionChain, error) {
	return ExecuteWithResult(g.breaker, ctx, func() (*models.OptionChain, error) {
		return g.inner.OptionChain(ctx, expiry)
	})
}

// Breaker returns the guarding circuit breaker.
func (g *GuardedMarket) Breaker() *CircuitBreaker {
	return g.breaker
}

var _ broker.MarketData = (*GuardedMarket)(nil)
