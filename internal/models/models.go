// Package models provides domain models shared across the strangle engine.
package models

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideSell {
		return OrderSideBuy
	}
	return OrderSideSell
}

// OptionType is CALL or PUT.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// KiteSuffix returns the tradingsymbol suffix (CE/PE).
func (t OptionType) KiteSuffix() string {
	if t == Put {
		return "PE"
	}
	return "CE"
}

// ParseOptionType accepts CALL/PUT as well as exchange CE/PE codes.
func ParseOptionType(s string) (OptionType, bool) {
	switch s {
	case "CALL", "CE", "call", "ce", "C", "c":
		return Call, true
	case "PUT", "PE", "put", "pe", "P", "p":
		return Put, true
	}
	return "", false
}
