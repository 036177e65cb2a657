package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/errors"
	"nifty-strangler/pkg/utils"
)

var errBroker = stderrors.New("kite: 503")

func newTestBreaker() (*CircuitBreaker, *utils.FixedClock) {
	clock := &utils.FixedClock{T: time.Date(2026, 1, 6, 10, 0, 0, 0, utils.IndiaLocation)}
	cb := NewCircuitBreaker("market", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         2 * time.Minute,
	}, clock, zerolog.Nop())
	return cb, clock
}

func fail() error { return errBroker }
func ok() error   { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	}
	assert.Equal(t, CircuitClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().Rejected)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().CurrentFailures)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
	assert.Equal(t, CircuitOpen, cb.State(), "failed probe reopens")

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.Advance(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		assert.Error(t, cb.Execute(ctx, func() error { return ctx.Err() }))
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Stats().Failures)
}

func TestCircuitBreaker_DataAnswersDoNotTrip(t *testing.T) {
	cb, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func() error { return errors.Wrap(errors.ErrEmptyChain, "chain") })
		assert.ErrorIs(t, err, errors.ErrEmptyChain)
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, int64(5), cb.Stats().Calls)
}

func TestGuardedMarket(t *testing.T) {
	cb, _ := newTestBreaker()
	market := broker.NewStaticMarket()
	market.SetSpot(25000)
	g := GuardMarketData(market, cb)
	ctx := context.Background()

	spot, err := g.Spot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, spot)

	market.SetError(errBroker)
	for i := 0; i < 3; i++ {
		_, err = g.Spot(ctx)
		assert.ErrorIs(t, err, errBroker)
	}
	_, err = g.Expiries(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Same(t, cb, g.Breaker())
}
