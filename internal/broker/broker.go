// Package broker provides the market-data and order-execution collaborators.
package broker

import (
	"context"
	"time"

	"nifty-strangler/internal/models"
)

// MarketData is the read side of a broker: spot, listed expiries and chains.
type MarketData interface {
	// Spot returns the underlying index last price.
	Spot(ctx context.Context) (float64, error)

	// Expiries returns the listed option expiries in ascending order.
	Expiries(ctx context.Context) ([]time.Time, error)

	// OptionChain returns the quoted chain for one expiry.
	OptionChain(ctx context.Context, expiry time.Time) (*models.OptionChain, error)
}

// Executor places a single option leg and waits for its fill.
type Executor interface {
	PlaceLeg(ctx context.Context, order models.LegOrder) (models.Fill, error)
}

// Broker is a full collaborator.
type Broker interface {
	MarketData
	Executor
}

// OrderStatus values as reported by Kite.
const (
	StatusComplete  = "COMPLETE"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusOpen      = "OPEN"
)

// IsTerminal reports whether an order status will not change any more.
func IsTerminal(status string) bool {
	switch status {
	case StatusComplete, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ApplySlippage moves price against the side of the order by fraction s.
func ApplySlippage(price float64, side models.OrderSide, s float64) float64 {
	if side == models.OrderSideSell {
		return price * (1 - s)
	}
	return price * (1 + s)
}
