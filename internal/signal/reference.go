package signal

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"nifty-strangler/pkg/utils"
)

// ReferencePoint is one ATM straddle observation.
type ReferencePoint struct {
	At     time.Time
	Price  float64
	Weight float64
}

// StraddleReference is the intraday rolling VWAP-style reference of the ATM
// straddle. Points are weighted; a non-positive weight counts as 1, which makes
// the reference time-weighted. It resets on a new local day.
type StraddleReference struct {
	mu      sync.RWMutex
	day     time.Time
	points  []ReferencePoint
	values  []float64
	weights []float64
}

// NewStraddleReference creates an empty reference.
func NewStraddleReference() *StraddleReference {
	return &StraddleReference{}
}

// Add records a point and returns the updated reference.
func (r *StraddleReference) Add(price, weight float64, at time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(ReferencePoint{At: at, Price: price, Weight: weight})
	return r.meanLocked()
}

func (r *StraddleReference) addLocked(p ReferencePoint) {
	if r.day.IsZero() || !utils.SameSession(r.day, p.At) {
		r.day = utils.SessionDate(p.At)
		r.points, r.values, r.weights = nil, nil, nil
	}
	if p.Price <= 0 || math.IsNaN(p.Price) {
		return
	}
	if p.Weight <= 0 {
		p.Weight = 1
	}
	r.points = append(r.points, p)
	r.values = append(r.values, p.Price)
	r.weights = append(r.weights, p.Weight)
}

func (r *StraddleReference) meanLocked() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return stat.Mean(r.values, r.weights)
}

// Value returns the current reference, false before the first point of the day.
func (r *StraddleReference) Value(now time.Time) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.values) == 0 || !utils.SameSession(r.day, now) {
		return 0, false
	}
	return r.meanLocked(), true
}

// Stats returns the weighted mean and standard deviation of today's points.
func (r *StraddleReference) Stats() (mean, std float64, n int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.values) < 2 {
		return r.meanLocked(), 0, len(r.values)
	}
	mean, std = stat.MeanStdDev(r.values, r.weights)
	return mean, std, len(r.values)
}

// Load replays persisted points, keeping only those from the latest day.
func (r *StraddleReference) Load(points []ReferencePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range points {
		r.addLocked(p)
	}
}

// Points returns today's points.
func (r *StraddleReference) Points() []ReferencePoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReferencePoint, len(r.points))
	copy(out, r.points)
	return out
}
