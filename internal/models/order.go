package models

import "time"

// LegOrder is one single-contract order handed to the execution collaborator.
type LegOrder struct {
	Symbol        string
	TradingSymbol string
	Strike        float64
	Expiry        time.Time
	Type          OptionType
	Side          OrderSide
	Lots          int
	Quantity      int
	RefPrice      float64 // last seen LTP, used by the paper broker
	Tag           string
}

// Fill is a confirmed execution of a LegOrder.
type Fill struct {
	OrderID  string
	Price    float64
	Quantity int
	FilledAt time.Time
}

// TradeAction is a trade log action.
type TradeAction string

const (
	ActionEntry  TradeAction = "ENTRY"
	ActionExit   TradeAction = "EXIT"
	ActionSignal TradeAction = "SIGNAL"
	ActionUnwind TradeAction = "UNWIND"
)

// TradeLogEntry is one row of the audit trade log.
type TradeLogEntry struct {
	ID         int64
	At         time.Time
	Action     TradeAction
	PositionID string
	Details    string
}
