// Package pricing implements Black-Scholes pricing, Greeks and implied volatility.
//
// Underlyings are either a synthetic forward derived from ATM options (priced with
// ZeroCarry, since carry is already embedded) or raw spot (priced with SpotCarry).
package pricing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

const (
	daysPerYear = 365.0
	// MinYearFraction floors time to expiry on expiry day.
	MinYearFraction = 0.5 / daysPerYear
)

var normal = distuv.UnitNormal

// Carry holds the continuous rate and dividend yield.
type Carry struct {
	Rate     float64
	Dividend float64
}

// ZeroCarry is used when the underlying is a synthetic forward.
var ZeroCarry = Carry{}

// SpotCarry is used when pricing off raw spot.
func SpotCarry(rate, dividend float64) Carry {
	return Carry{Rate: rate, Dividend: dividend}
}

// Greeks bundles the model outputs for one contract.
type Greeks struct {
	Price float64
	Delta float64
	Gamma float64
	Vega  float64 // per 1 vol point
	Theta float64 // per calendar day
}

// Engine prices European options under one carry mode.
type Engine struct {
	carry Carry
}

// NewEngine creates a pricing engine.
func NewEngine(carry Carry) *Engine {
	return &Engine{carry: carry}
}

// Carry returns the engine's carry parameters.
func (e *Engine) Carry() Carry {
	return e.carry
}

func degenerate(u, k, t, sigma float64) bool {
	return t <= 0 || sigma <= 0 || u <= 0 || k <= 0 ||
		math.IsNaN(u) || math.IsNaN(k) || math.IsNaN(t) || math.IsNaN(sigma)
}

func (e *Engine) d1d2(u, k, t, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(u/k) + (e.carry.Rate-e.carry.Dividend+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// Intrinsic is the undiscounted exercise value.
func Intrinsic(typ models.OptionType, u, k float64) float64 {
	if typ == models.Put {
		return math.Max(0, k-u)
	}
	return math.Max(0, u-k)
}

// LowerBound is the no-arbitrage floor of a European price: the discounted
// intrinsic value, which equals Intrinsic under zero carry.
func (e *Engine) LowerBound(typ models.OptionType, u, k, t float64) float64 {
	if t <= 0 {
		return Intrinsic(typ, u, k)
	}
	fwd := u * math.Exp(-e.carry.Dividend*t)
	disc := k * math.Exp(-e.carry.Rate*t)
	if typ == models.Put {
		return math.Max(0, disc-fwd)
	}
	return math.Max(0, fwd-disc)
}

// Price returns the Black-Scholes premium, or intrinsic value for degenerate inputs.
func (e *Engine) Price(typ models.OptionType, u, k, t, sigma float64) float64 {
	if degenerate(u, k, t, sigma) {
		return Intrinsic(typ, math.Max(u, 0), math.Max(k, 0))
	}
	d1, d2 := e.d1d2(u, k, t, sigma)
	qf := math.Exp(-e.carry.Dividend * t)
	rf := math.Exp(-e.carry.Rate * t)
	if typ == models.Put {
		return math.Max(0, k*rf*normal.CDF(-d2)-u*qf*normal.CDF(-d1))
	}
	return math.Max(0, u*qf*normal.CDF(d1)-k*rf*normal.CDF(d2))
}

// Delta is in (0,1) for calls and (-1,0) for puts.
func (e *Engine) Delta(typ models.OptionType, u, k, t, sigma float64) float64 {
	if degenerate(u, k, t, sigma) {
		return 0
	}
	d1, _ := e.d1d2(u, k, t, sigma)
	qf := math.Exp(-e.carry.Dividend * t)
	if typ == models.Put {
		return qf * (normal.CDF(d1) - 1)
	}
	return qf * normal.CDF(d1)
}

// Gamma is the same for calls and puts.
func (e *Engine) Gamma(u, k, t, sigma float64) float64 {
	if degenerate(u, k, t, sigma) {
		return 0
	}
	d1, _ := e.d1d2(u, k, t, sigma)
	return math.Exp(-e.carry.Dividend*t) * normal.Prob(d1) / (u * sigma * math.Sqrt(t))
}

// Vega is the price change for a one point (1%) move in volatility.
func (e *Engine) Vega(u, k, t, sigma float64) float64 {
	return e.rawVega(u, k, t, sigma) / 100
}

func (e *Engine) rawVega(u, k, t, sigma float64) float64 {
	if degenerate(u, k, t, sigma) {
		return 0
	}
	d1, _ := e.d1d2(u, k, t, sigma)
	return u * math.Exp(-e.carry.Dividend*t) * math.Sqrt(t) * normal.Prob(d1)
}

// Theta is the price change per calendar day.
func (e *Engine) Theta(typ models.OptionType, u, k, t, sigma float64) float64 {
	if degenerate(u, k, t, sigma) {
		return 0
	}
	d1, d2 := e.d1d2(u, k, t, sigma)
	r, q := e.carry.Rate, e.carry.Dividend
	qf := math.Exp(-q * t)
	rf := math.Exp(-r * t)

	decay := -(u * sigma * qf * normal.Prob(d1)) / (2 * math.Sqrt(t))
	var theta float64
	if typ == models.Put {
		theta = decay - q*u*qf*normal.CDF(-d1) + r*k*rf*normal.CDF(-d2)
	} else {
		theta = decay + q*u*qf*normal.CDF(d1) - r*k*rf*normal.CDF(d2)
	}
	return theta / daysPerYear
}

// Greeks computes every output in one call.
func (e *Engine) Greeks(typ models.OptionType, u, k, t, sigma float64) Greeks {
	return Greeks{
		Price: e.Price(typ, u, k, t, sigma),
		Delta: e.Delta(typ, u, k, t, sigma),
		Gamma: e.Gamma(u, k, t, sigma),
		Vega:  e.Vega(u, k, t, sigma),
		Theta: e.Theta(typ, u, k, t, sigma),
	}
}

// ExpiryClose is the instant an expiry settles: market close on the expiry date.
func ExpiryClose(expiry time.Time) time.Time {
	return utils.DefaultMarketHours().CloseOn(expiry)
}

// YearFraction is the time from now to the expiry close in years, floored at MinYearFraction.
func YearFraction(now, expiry time.Time) float64 {
	t := ExpiryClose(expiry).Sub(now).Hours() / 24 / daysPerYear
	if t < MinYearFraction {
		return MinYearFraction
	}
	return t
}
