package models

import (
	"sort"
	"time"
)

// OptionQuote is an immutable snapshot of one option contract.
// ImpliedVol and Delta are nil when the data source did not supply them.
type OptionQuote struct {
	Strike          float64
	Expiry          time.Time
	Type            OptionType
	LastPrice       float64
	ImpliedVol      *float64
	Delta           *float64
	OpenInterest    int64
	Volume          int64
	TradingSymbol   string
	InstrumentToken uint32
}

// ChainKey identifies a contract within one expiry.
type ChainKey struct {
	Strike float64
	Type   OptionType
}

// OptionChain is a quoted chain for a single expiry keyed by (strike, type).
type OptionChain struct {
	Symbol  string
	Spot    float64
	Expiry  time.Time
	AsOf    time.Time
	quotes  map[ChainKey]OptionQuote
	strikes []float64
}

// NewOptionChain builds a chain from quotes. Later quotes for the same key replace earlier ones.
func NewOptionChain(symbol string, spot float64, expiry time.Time, quotes []OptionQuote) *OptionChain {
	c := &OptionChain{
		Symbol: symbol,
		Spot:   spot,
		Expiry: expiry,
		quotes: make(map[ChainKey]OptionQuote, len(quotes)),
	}
	for _, q := range quotes {
		c.quotes[ChainKey{Strike: q.Strike, Type: q.Type}] = q
	}
	c.indexStrikes()
	return c
}

func (c *OptionChain) indexStrikes() {
	seen := make(map[float64]bool, len(c.quotes))
	c.strikes = c.strikes[:0]
	for k := range c.quotes {
		if !seen[k.Strike] {
			seen[k.Strike] = true
			c.strikes = append(c.strikes, k.Strike)
		}
	}
	sort.Float64s(c.strikes)
}

// Quote looks up one contract.
func (c *OptionChain) Quote(strike float64, typ OptionType) (OptionQuote, bool) {
	if c == nil {
		return OptionQuote{}, false
	}
	q, ok := c.quotes[ChainKey{Strike: strike, Type: typ}]
	return q, ok
}

// LastPrice returns the LTP of a contract when it is quoted with a positive price.
func (c *OptionChain) LastPrice(strike float64, typ OptionType) (float64, bool) {
	q, ok := c.Quote(strike, typ)
	if !ok || q.LastPrice <= 0 {
		return 0, false
	}
	return q.LastPrice, true
}

// Strikes returns all strikes in ascending order.
func (c *OptionChain) Strikes() []float64 {
	if c == nil {
		return nil
	}
	out := make([]float64, len(c.strikes))
	copy(out, c.strikes)
	return out
}

// Quotes returns every quote ordered by strike, calls before puts.
func (c *OptionChain) Quotes() []OptionQuote {
	if c == nil {
		return nil
	}
	out := make([]OptionQuote, 0, len(c.quotes))
	for _, s := range c.strikes {
		for _, typ := range []OptionType{Call, Put} {
			if q, ok := c.quotes[ChainKey{Strike: s, Type: typ}]; ok {
				out = append(out, q)
			}
		}
	}
	return out
}

// Len is the number of quoted contracts.
func (c *OptionChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.quotes)
}

// WithQuote returns a copy of the chain with q added or replaced.
func (c *OptionChain) WithQuote(q OptionQuote) *OptionChain {
	out := &OptionChain{
		Symbol: c.Symbol,
		Spot:   c.Spot,
		Expiry: c.Expiry,
		AsOf:   c.AsOf,
		quotes: make(map[ChainKey]OptionQuote, len(c.quotes)+1),
	}
	for k, v := range c.quotes {
		out.quotes[k] = v
	}
	out.quotes[ChainKey{Strike: q.Strike, Type: q.Type}] = q
	out.indexStrikes()
	return out
}

// Float returns a pointer to v, for optional quote fields.
func Float(v float64) *float64 {
	return &v
}
