package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

// StaticMarket serves spot and chains that the caller sets explicitly.
// It backs replays and tests.
type StaticMarket struct {
	spot   float64
	chains map[time.Time]*models.OptionChain
	err    error
	mu     sync.RWMutex
}

// NewStaticMarket creates an empty static market.
func NewStaticMarket() *StaticMarket {
	return &StaticMarket{chains: make(map[time.Time]*models.OptionChain)}
}

// SetSpot sets the spot price.
func (m *StaticMarket) SetSpot(spot float64) {
	m.mu.Lock()
	m.spot = spot
	m.mu.Unlock()
}

// SetChain installs a chain under its expiry day.
func (m *StaticMarket) SetChain(chain *models.OptionChain) {
	m.mu.Lock()
	m.chains[utils.SessionDate(chain.Expiry)] = chain
	if chain.Spot > 0 {
		m.spot = chain.Spot
	}
	m.mu.Unlock()
}

// SetError makes every call fail with err until cleared with nil.
func (m *StaticMarket) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Spot returns the configured spot.
func (m *StaticMarket) Spot(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.spot <= 0 {
		return 0, errors.ErrQuoteUnavailable
	}
	return m.spot, nil
}

// Expiries returns the expiries of the installed chains.
func (m *StaticMarket) Expiries(ctx context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]time.Time, 0, len(m.chains))
	for day := range m.chains {
		out = append(out, day)
	}
	if len(out) == 0 {
		return nil, errors.ErrNoExpiry
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// OptionChain returns the installed chain for an expiry.
func (m *StaticMarket) OptionChain(ctx context.Context, expiry time.Time) (*models.OptionChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	chain, ok := m.chains[utils.SessionDate(expiry)]
	if !ok {
		return nil, errors.ErrEmptyChain
	}
	return chain, nil
}

var _ MarketData = (*StaticMarket)(nil)
