package pricing

import (
	"math"

	"nifty-strangler/internal/models"
)

// Solver bounds for implied volatility.
const (
	MinVol        = 1e-4
	MaxVol        = 5.0
	VolTolerance  = 1e-4
	MaxIterations = 100

	newtonGuess      = 0.20
	newtonIterations = 50
	newtonPriceTol   = 1e-8
)

// Reasons an implied volatility could not be found.
const (
	ReasonNonPositivePrice = "non-positive price"
	ReasonExpired          = "expired"
	ReasonBadUnderlying    = "non-positive underlying or strike"
	ReasonBelowIntrinsic   = "below intrinsic"
	ReasonNoSignChange     = "no sign change"
	ReasonNoConvergence    = "no convergence"
)

// IVResult is Found(Value) or NotFound(Reason). Callers must skip the option
// when Found is false; Value is meaningless then.
type IVResult struct {
	Value  float64
	Found  bool
	Reason string
	Method string
}

func found(v float64, method string) IVResult {
	return IVResult{Value: v, Found: true, Method: method}
}

func notFound(reason string) IVResult {
	return IVResult{Reason: reason}
}

// ImpliedVolatility solves price(σ) = marketPrice. Newton-Raphson runs first from
// a 20% guess; when it leaves the bracket, meets a vanishing vega or fails to
// converge, a Brent search on [MinVol, MaxVol] takes over.
func (e *Engine) ImpliedVolatility(typ models.OptionType, marketPrice, u, k, t float64) IVResult {
	switch {
	case marketPrice <= 0 || math.IsNaN(marketPrice):
		return notFound(ReasonNonPositivePrice)
	case t <= 0:
		return notFound(ReasonExpired)
	case u <= 0 || k <= 0:
		return notFound(ReasonBadUnderlying)
	case marketPrice < e.LowerBound(typ, u, k, t):
		return notFound(ReasonBelowIntrinsic)
	}

	if sigma, ok := e.newton(typ, marketPrice, u, k, t); ok {
		return found(sigma, "newton")
	}

	f := func(sigma float64) float64 {
		return e.Price(typ, u, k, t, sigma) - marketPrice
	}
	sigma, reason := brent(f, MinVol, MaxVol, VolTolerance, MaxIterations)
	if reason != "" {
		return notFound(reason)
	}
	return found(sigma, "brent")
}

func (e *Engine) newton(typ models.OptionType, marketPrice, u, k, t float64) (float64, bool) {
	sigma := newtonGuess
	for i := 0; i < newtonIterations; i++ {
		diff := e.Price(typ, u, k, t, sigma) - marketPrice
		if math.Abs(diff) < newtonPriceTol {
			return sigma, true
		}
		vega := e.rawVega(u, k, t, sigma)
		if vega < 1e-10 || math.IsNaN(vega) || math.IsInf(vega, 0) {
			return 0, false
		}
		next := sigma - diff/vega
		if math.IsNaN(next) || next < MinVol || next > MaxVol {
			return 0, false
		}
		if math.Abs(next-sigma) < 1e-10 {
			return next, true
		}
		sigma = next
	}
	return 0, false
}

// brent finds a root of f in [a, b] (Brent-Dekker). It returns a non-empty reason on failure.
func brent(f func(float64) float64, a, b, tol float64, maxIter int) (float64, string) {
	const eps = 1e-15

	fa, fb := f(a), f(b)
	if fa == 0 {
		return a, ""
	}
	if fb == 0 {
		return b, ""
	}
	if (fa > 0) == (fb > 0) {
		return 0, ReasonNoSignChange
	}

	c, fc := b, fb
	var d, e float64
	for i := 0; i < maxIter; i++ {
		if (fb > 0) == (fc > 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol1 := 2*eps*math.Abs(b) + 0.5*tol
		xm := 0.5 * (c - b)
		if math.Abs(xm) <= tol1 || fb == 0 {
			return b, ""
		}

		if math.Abs(e) >= tol1 && math.Abs(fa) > math.Abs(fb) {
			// Inverse quadratic interpolation, or secant when only two points differ.
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * xm * s
				q = 1 - s
			} else {
				qa := fa / fc
				r := fb / fc
				p = s * (2*xm*qa*(qa-r) - (b-a)*(r-1))
				q = (qa - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			if 2*p < math.Min(3*xm*q-math.Abs(tol1*q), math.Abs(e*q)) {
				e = d
				d = p / q
			} else {
				d = xm
				e = d
			}
		} else {
			d = xm
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol1 {
			b += d
		} else {
			b += math.Copysign(tol1, xm)
		}
		fb = f(b)
	}
	return 0, ReasonNoConvergence
}

// ChainIV resolves a volatility for every quote: a positive quoted IV is used
// as-is, otherwise it is solved from the last price. Unsolvable quotes carry a
// NotFound result.
func (e *Engine) ChainIV(chain *models.OptionChain, u, t float64) map[models.ChainKey]IVResult {
	out := make(map[models.ChainKey]IVResult, chain.Len())
	for _, q := range chain.Quotes() {
		key := models.ChainKey{Strike: q.Strike, Type: q.Type}
		if q.ImpliedVol != nil && *q.ImpliedVol > 0 {
			out[key] = found(*q.ImpliedVol, "quoted")
			continue
		}
		out[key] = e.ImpliedVolatility(q.Type, q.LastPrice, u, q.Strike, t)
	}
	return out
}
