package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

// DefaultPaperSlippage is the adverse fill slippage applied to paper orders (0.05%).
const DefaultPaperSlippage = 0.0005

// PaperTrade is one simulated fill.
type PaperTrade struct {
	OrderID  string
	Order    models.LegOrder
	RefPrice float64
	Price    float64
	FilledAt time.Time
}

// PaperBroker serves market data from a real source and simulates fills.
type PaperBroker struct {
	data     MarketData
	slippage float64
	clock    utils.Clock
	logger   zerolog.Logger

	// last seen LTPs by expiry day and contract
	priceCache map[time.Time]map[models.ChainKey]float64
	trades     []PaperTrade

	mu sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	Data     MarketData
	Slippage float64
	Clock    utils.Clock
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig, logger zerolog.Logger) *PaperBroker {
	slippage := cfg.Slippage
	if slippage < 0 {
		slippage = DefaultPaperSlippage
	}
	clock := cfg.Clock
	if clock == nil {
		clock = utils.SystemClock{}
	}

	return &PaperBroker{
		data:       cfg.Data,
		slippage:   slippage,
		clock:      clock,
		logger:     logging.WithComponent(logger, "paper"),
		priceCache: make(map[time.Time]map[models.ChainKey]float64),
	}
}

// Spot delegates to the data source.
func (p *PaperBroker) Spot(ctx context.Context) (float64, error) {
	if p.data == nil {
		return 0, fmt.Errorf("no data source configured: %w", errors.ErrQuoteUnavailable)
	}
	return p.data.Spot(ctx)
}

// Expiries delegates to the data source.
func (p *PaperBroker) Expiries(ctx context.Context) ([]time.Time, error) {
	if p.data == nil {
		return nil, fmt.Errorf("no data source configured: %w", errors.ErrQuoteUnavailable)
	}
	return p.data.Expiries(ctx)
}

// OptionChain fetches a chain from the data source and remembers its prices.
func (p *PaperBroker) OptionChain(ctx context.Context, expiry time.Time) (*models.OptionChain, error) {
	if p.data == nil {
		return nil, fmt.Errorf("no data source configured: %w", errors.ErrQuoteUnavailable)
	}
	chain, err := p.data.OptionChain(ctx, expiry)
	if err != nil {
		return nil, err
	}
	p.cacheChain(chain)
	return chain, nil
}

func (p *PaperBroker) cacheChain(chain *models.OptionChain) {
	prices := make(map[models.ChainKey]float64, chain.Len())
	for _, q := range chain.Quotes() {
		if q.LastPrice > 0 {
			prices[models.ChainKey{Strike: q.Strike, Type: q.Type}] = q.LastPrice
		}
	}

	p.mu.Lock()
	p.priceCache[utils.SessionDate(chain.Expiry)] = prices
	p.mu.Unlock()
}

func (p *PaperBroker) getPrice(expiry time.Time, strike float64, typ models.OptionType) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.priceCache[utils.SessionDate(expiry)][models.ChainKey{Strike: strike, Type: typ}]
}

// PlaceLeg fills immediately at the reference price moved against the order by the slippage.
func (p *PaperBroker) PlaceLeg(ctx context.Context, order models.LegOrder) (models.Fill, error) {
	price := order.RefPrice
	if price <= 0 {
		price = p.getPrice(order.Expiry, order.Strike, order.Type)
	}
	if price <= 0 && p.data != nil {
		if _, err := p.OptionChain(ctx, order.Expiry); err == nil {
			price = p.getPrice(order.Expiry, order.Strike, order.Type)
		}
	}
	if price <= 0 {
		return models.Fill{}, errors.NewOrderError("", legLabel(order), string(order.Side), "no price to fill at", errors.ErrQuoteUnavailable)
	}

	fill := models.Fill{
		OrderID:  "PAPER_" + uuid.NewString(),
		Price:    ApplySlippage(price, order.Side, p.slippage),
		Quantity: order.Quantity,
		FilledAt: p.clock.Now(),
	}

	p.mu.Lock()
	p.trades = append(p.trades, PaperTrade{
		OrderID:  fill.OrderID,
		Order:    order,
		RefPrice: price,
		Price:    fill.Price,
		FilledAt: fill.FilledAt,
	})
	p.mu.Unlock()

	logging.LogOrder(p.logger, fill.OrderID, legLabel(order), string(order.Side), StatusComplete)
	return fill, nil
}

// Trades returns the simulated fills in order.
func (p *PaperBroker) Trades() []PaperTrade {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PaperTrade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Reset clears the fill history and price cache.
func (p *PaperBroker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = nil
	p.priceCache = make(map[time.Time]map[models.ChainKey]float64)
}

// IsPaperTrading always returns true.
func (p *PaperBroker) IsPaperTrading() bool {
	return true
}

func legLabel(order models.LegOrder) string {
	if order.TradingSymbol != "" {
		return order.TradingSymbol
	}
	return order.Symbol + utils.FormatStrike(order.Strike) + order.Type.KiteSuffix()
}

var _ Broker = (*PaperBroker)(nil)
