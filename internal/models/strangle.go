package models

import "time"

// PremiumSource tells where a candidate's premiums came from.
type PremiumSource string

const (
	PremiumFromChain PremiumSource = "chain"
	PremiumFromModel PremiumSource = "model"
)

// StrangleCandidate is the output of strike selection. It is never mutated after it is returned.
type StrangleCandidate struct {
	Symbol              string
	Expiry              time.Time
	CallStrike          float64
	PutStrike           float64
	CallDelta           float64
	PutDelta            float64
	CallIV              float64
	PutIV               float64
	CallPremium         float64
	PutPremium          float64
	CallSymbol          string
	PutSymbol           string
	CallFallback        bool
	PutFallback         bool
	CallPremiumSource   PremiumSource
	PutPremiumSource    PremiumSource
	SyntheticUnderlying float64
	ATMStrike           float64
	WidthPoints         float64
}

// UsedFallback reports whether either leg came from the furthest-OTM fallback.
func (c StrangleCandidate) UsedFallback() bool {
	return c.CallFallback || c.PutFallback
}

// TotalPremium is the combined credit per unit.
func (c StrangleCandidate) TotalPremium() float64 {
	return c.CallPremium + c.PutPremium
}

// PositionStatus is OPEN or CLOSED. CLOSED is terminal.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitManual       ExitReason = "MANUAL"
	ExitExpiry       ExitReason = "EXPIRY"
)

// Position is one short strangle. Once created only the exit fields change, and only once.
type Position struct {
	ID               string
	Symbol           string
	Expiry           time.Time
	CallStrike       float64
	PutStrike        float64
	CallSymbol       string
	PutSymbol        string
	Lots             int
	LotSize          int
	EntryCallPremium float64
	EntryPutPremium  float64
	EntrySpot        float64
	EntryAt          time.Time
	EntryCallDelta   float64
	EntryPutDelta    float64
	Slot             int
	MaxProfit        float64
	Window           string
	Status           PositionStatus
	ExitCallPremium  float64
	ExitPutPremium   float64
	ExitAt           *time.Time
	ExitReason       ExitReason
	RealizedPnL      float64
}

// Quantity is the number of units per leg.
func (p *Position) Quantity() int {
	return p.Lots * p.LotSize
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// EntryCredit is the combined premium collected per unit.
func (p *Position) EntryCredit() float64 {
	return p.EntryCallPremium + p.EntryPutPremium
}
