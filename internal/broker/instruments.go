package broker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

// OptionInstrument is one listed option contract.
type OptionInstrument struct {
	Token         uint32
	TradingSymbol string
	Name          string
	Expiry        time.Time
	Strike        float64
	Type          models.OptionType
	LotSize       int
}

// InstrumentIndex indexes the option contracts of one underlying by expiry day.
type InstrumentIndex struct {
	name     string
	loadedAt time.Time
	byExpiry map[time.Time]map[models.ChainKey]OptionInstrument
	mu       sync.RWMutex
}

// NewInstrumentIndex creates an empty index for an underlying name such as NIFTY.
func NewInstrumentIndex(name string) *InstrumentIndex {
	return &InstrumentIndex{
		name:     name,
		byExpiry: make(map[time.Time]map[models.ChainKey]OptionInstrument),
	}
}

// Load replaces the index contents. Contracts of other underlyings are ignored.
func (ix *InstrumentIndex) Load(instruments []OptionInstrument, at time.Time) int {
	byExpiry := make(map[time.Time]map[models.ChainKey]OptionInstrument)
	n := 0
	for _, inst := range instruments {
		if inst.Name != ix.name {
			continue
		}
		day := utils.SessionDate(inst.Expiry)
		contracts, ok := byExpiry[day]
		if !ok {
			contracts = make(map[models.ChainKey]OptionInstrument)
			byExpiry[day] = contracts
		}
		contracts[models.ChainKey{Strike: inst.Strike, Type: inst.Type}] = inst
		n++
	}

	ix.mu.Lock()
	ix.byExpiry = byExpiry
	ix.loadedAt = at
	ix.mu.Unlock()
	return n
}

// Stale reports whether the index was not loaded during now's session.
func (ix *InstrumentIndex) Stale(now time.Time) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.loadedAt.IsZero() || !utils.SameSession(ix.loadedAt, now)
}

// Expiries returns every indexed expiry in ascending order.
func (ix *InstrumentIndex) Expiries() []time.Time {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]time.Time, 0, len(ix.byExpiry))
	for day := range ix.byExpiry {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Strikes returns the listed strikes of an expiry in ascending order.
func (ix *InstrumentIndex) Strikes(expiry time.Time) []float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[float64]bool)
	var out []float64
	for key := range ix.byExpiry[utils.SessionDate(expiry)] {
		if !seen[key.Strike] {
			seen[key.Strike] = true
			out = append(out, key.Strike)
		}
	}
	sort.Float64s(out)
	return out
}

// Contract looks up a single contract.
func (ix *InstrumentIndex) Contract(expiry time.Time, strike float64, typ models.OptionType) (OptionInstrument, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	inst, ok := ix.byExpiry[utils.SessionDate(expiry)][models.ChainKey{Strike: strike, Type: typ}]
	return inst, ok
}

// Around returns the contracts of an expiry whose strikes lie within width strikes of atm.
func (ix *InstrumentIndex) Around(expiry time.Time, atm float64, step float64, width int) []OptionInstrument {
	lo := atm - float64(width)*step
	hi := atm + float64(width)*step

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []OptionInstrument
	for key, inst := range ix.byExpiry[utils.SessionDate(expiry)] {
		if key.Strike >= lo && key.Strike <= hi {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strike != out[j].Strike {
			return out[i].Strike < out[j].Strike
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// QuoteKey is the "EXCHANGE:TRADINGSYMBOL" form Kite expects.
func QuoteKey(exchange models.Exchange, tradingSymbol string) string {
	return fmt.Sprintf("%s:%s", exchange, tradingSymbol)
}
