// Package chain selects strangle strikes from a quoted option chain by delta.
package chain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/pricing"
)

// SelectorConfig holds the strike-selection parameters.
type SelectorConfig struct {
	StrikeStep  float64
	TargetDelta float64
	BandLower   float64
	BandUpper   float64
}

// Selector finds the call and put strikes closest to a target delta.
type Selector struct {
	cfg     SelectorConfig
	forward *pricing.Engine // zero carry, synthetic underlying
	spot    *pricing.Engine // configured carry, used when ATM legs are missing
	logger  zerolog.Logger
}

// NewSelector creates a selector. spotCarry applies only when the synthetic
// underlying cannot be derived and spot is used instead.
func NewSelector(cfg SelectorConfig, spotCarry pricing.Carry, logger zerolog.Logger) *Selector {
	return &Selector{
		cfg:     cfg,
		forward: pricing.NewEngine(pricing.ZeroCarry),
		spot:    pricing.NewEngine(spotCarry),
		logger:  logger.With().Str("component", "selector").Logger(),
	}
}

// Config returns the selector configuration.
func (s *Selector) Config() SelectorConfig {
	return s.cfg
}

// ATMStrike rounds spot to the nearest strike increment.
func ATMStrike(spot, step float64) float64 {
	return math.Round(spot/step) * step
}

// SyntheticUnderlying is the forward implied by put-call parity at the ATM strike.
func SyntheticUnderlying(atm, callPrice, putPrice float64) float64 {
	return atm + callPrice - putPrice
}

// InBand reports whether |delta| lies inside the acceptance band.
func (s *Selector) InBand(delta float64) bool {
	d := math.Abs(delta)
	return d >= s.cfg.BandLower && d <= s.cfg.BandUpper
}

// StrikeAnalysis is the priced view of one quote.
type StrikeAnalysis struct {
	Strike       float64
	Type         models.OptionType
	LastPrice    float64
	IV           pricing.IVResult
	Delta        float64
	OpenInterest int64
	OTM          bool
	InBand       bool
}

// Analysis is the chain priced off one underlying.
type Analysis struct {
	Expiry     time.Time
	Spot       float64
	ATMStrike  float64
	Underlying float64
	FromSpot   bool // synthetic underlying unavailable, spot used
	YearFrac   float64
	Rows       []StrikeAnalysis
}

// Analyze prices every quote of the chain. Rows with a NotFound IV are kept
// with zero delta so callers can display them; selection ignores them.
func (s *Selector) Analyze(chain *models.OptionChain, now time.Time) (Analysis, error) {
	if chain.Len() == 0 {
		return Analysis{}, errors.ErrEmptyChain
	}

	a := Analysis{
		Expiry:    chain.Expiry,
		Spot:      chain.Spot,
		ATMStrike: ATMStrike(chain.Spot, s.cfg.StrikeStep),
		YearFrac:  pricing.YearFraction(now, chain.Expiry),
	}

	engine := s.forward
	atmCall, okCall := chain.LastPrice(a.ATMStrike, models.Call)
	atmPut, okPut := chain.LastPrice(a.ATMStrike, models.Put)
	if okCall && okPut {
		a.Underlying = SyntheticUnderlying(a.ATMStrike, atmCall, atmPut)
	} else {
		a.Underlying = chain.Spot
		a.FromSpot = true
		engine = s.spot
		s.logger.Warn().
			Float64("atm", a.ATMStrike).
			Bool("call_quoted", okCall).
			Bool("put_quoted", okPut).
			Msg("ATM legs missing, pricing off spot")
	}
	if a.Underlying <= 0 {
		return Analysis{}, errors.NewDataError("chain", chain.Symbol, "no usable underlying", errors.ErrQuoteUnavailable)
	}

	ivs := engine.ChainIV(chain, a.Underlying, a.YearFrac)
	for _, q := range chain.Quotes() {
		row := StrikeAnalysis{
			Strike:       q.Strike,
			Type:         q.Type,
			LastPrice:    q.LastPrice,
			IV:           ivs[models.ChainKey{Strike: q.Strike, Type: q.Type}],
			OpenInterest: q.OpenInterest,
		}
		if q.Type == models.Call {
			row.OTM = q.Strike > a.Underlying
		} else {
			row.OTM = q.Strike < a.Underlying
		}
		if row.IV.Found {
			row.Delta = engine.Delta(q.Type, a.Underlying, q.Strike, a.YearFrac, row.IV.Value)
			row.InBand = s.InBand(row.Delta)
		}
		a.Rows = append(a.Rows, row)
	}

	return a, nil
}

// Select picks one call and one put. Each side takes the in-band OTM strike
// closest to the target delta; an empty band falls back to the furthest OTM
// strike on that side and flags it. Callers must check the fallback flags or
// InBand before treating the result as on target.
func (s *Selector) Select(chain *models.OptionChain, now time.Time) (models.StrangleCandidate, error) {
	a, err := s.Analyze(chain, now)
	if err != nil {
		return models.StrangleCandidate{}, err
	}

	var calls, puts []StrikeAnalysis
	for _, row := range a.Rows {
		if !row.IV.Found {
			s.logger.Debug().
				Float64("strike", row.Strike).
				Str("type", string(row.Type)).
				Str("reason", row.IV.Reason).
				Msg("Strike excluded, no implied volatility")
			continue
		}
		if !row.OTM {
			continue
		}
		if row.Type == models.Call {
			calls = append(calls, row)
		} else {
			puts = append(puts, row)
		}
	}

	call, callFallback, err := s.pickSide(calls, models.Call)
	if err != nil {
		return models.StrangleCandidate{}, err
	}
	put, putFallback, err := s.pickSide(puts, models.Put)
	if err != nil {
		return models.StrangleCandidate{}, err
	}

	engine := s.forward
	if a.FromSpot {
		engine = s.spot
	}
	callPremium, callSource := premium(engine, chain, call, a)
	putPremium, putSource := premium(engine, chain, put, a)

	callQuote, _ := chain.Quote(call.Strike, models.Call)
	putQuote, _ := chain.Quote(put.Strike, models.Put)

	c := models.StrangleCandidate{
		Symbol:              chain.Symbol,
		Expiry:              chain.Expiry,
		CallStrike:          call.Strike,
		PutStrike:           put.Strike,
		CallDelta:           call.Delta,
		PutDelta:            put.Delta,
		CallIV:              call.IV.Value,
		PutIV:               put.IV.Value,
		CallPremium:         callPremium,
		PutPremium:          putPremium,
		CallSymbol:          callQuote.TradingSymbol,
		PutSymbol:           putQuote.TradingSymbol,
		CallFallback:        callFallback,
		PutFallback:         putFallback,
		CallPremiumSource:   callSource,
		PutPremiumSource:    putSource,
		SyntheticUnderlying: a.Underlying,
		ATMStrike:           a.ATMStrike,
		WidthPoints:         call.Strike - put.Strike,
	}

	s.logger.Info().
		Float64("underlying", a.Underlying).
		Float64("call_strike", c.CallStrike).
		Float64("call_delta", c.CallDelta).
		Float64("put_strike", c.PutStrike).
		Float64("put_delta", c.PutDelta).
		Bool("fallback", c.UsedFallback()).
		Msg("Strikes selected")

	return c, nil
}

func (s *Selector) pickSide(rows []StrikeAnalysis, typ models.OptionType) (StrikeAnalysis, bool, error) {
	if len(rows) == 0 {
		return StrikeAnalysis{}, false, fmt.Errorf("%w: no OTM %s strikes", errors.ErrNoCandidates, typ)
	}

	var band []StrikeAnalysis
	for _, r := range rows {
		if s.InBand(r.Delta) {
			band = append(band, r)
		}
	}
	if len(band) > 0 {
		return closest(band, s.cfg.TargetDelta, typ), false, nil
	}

	s.logger.Warn().
		Str("type", string(typ)).
		Float64("lower", s.cfg.BandLower).
		Float64("upper", s.cfg.BandUpper).
		Msg("No strike inside delta band, using furthest OTM")
	return furthestOTM(rows, typ), true, nil
}

// furtherOTM reports whether strike a is further out of the money than b.
func furtherOTM(typ models.OptionType, a, b float64) bool {
	if typ == models.Call {
		return a > b
	}
	return a < b
}

// closest minimizes ||delta| - target|, ties going to the further OTM strike.
func closest(rows []StrikeAnalysis, target float64, typ models.OptionType) StrikeAnalysis {
	const eps = 1e-12
	best := rows[0]
	bestDist := math.Abs(math.Abs(best.Delta) - target)
	for _, r := range rows[1:] {
		dist := math.Abs(math.Abs(r.Delta) - target)
		switch {
		case dist < bestDist-eps:
			best, bestDist = r, dist
		case math.Abs(dist-bestDist) <= eps && furtherOTM(typ, r.Strike, best.Strike):
			best, bestDist = r, dist
		}
	}
	return best
}

func furthestOTM(rows []StrikeAnalysis, typ models.OptionType) StrikeAnalysis {
	best := rows[0]
	for _, r := range rows[1:] {
		if furtherOTM(typ, r.Strike, best.Strike) {
			best = r
		}
	}
	return best
}

func premium(engine *pricing.Engine, chain *models.OptionChain, row StrikeAnalysis, a Analysis) (float64, models.PremiumSource) {
	if ltp, ok := chain.LastPrice(row.Strike, row.Type); ok {
		return ltp, models.PremiumFromChain
	}
	return engine.Price(row.Type, a.Underlying, row.Strike, a.YearFrac, row.IV.Value), models.PremiumFromModel
}

// SortByDistance orders rows by closeness to the target delta, for display.
func SortByDistance(rows []StrikeAnalysis, target float64) {
	sort.SliceStable(rows, func(i, j int) bool {
		return math.Abs(math.Abs(rows[i].Delta)-target) < math.Abs(math.Abs(rows[j].Delta)-target)
	})
}
