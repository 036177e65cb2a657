// Package errors holds the sentinel and typed errors shared by the strangle
// engine, its brokers and its store, plus thin wrappers over the standard
// errors package so callers need a single import.
package errors

import (
	"errors"
	"fmt"
)

// Market and session.
var (
	ErrNotAuthenticated = errors.New("kite session not authenticated")
	ErrMarketClosed     = errors.New("market is closed")
	ErrQuoteUnavailable = errors.New("quote unavailable")
	ErrEmptyChain       = errors.New("option chain is empty")
	ErrNoExpiry         = errors.New("no suitable expiry")
)

// Orders.
var (
	ErrOrderRejected = errors.New("order rejected")
	ErrFillTimeout   = errors.New("no fill within poll horizon")
)

// Strategy refusals. These end an entry attempt without failing the tick.
var (
	ErrNoCandidates     = errors.New("no strike candidates")
	ErrNoCapital        = errors.New("no free capital part")
	ErrQuotaExceeded    = errors.New("daily entry quota reached")
	ErrAlreadyAllocated = errors.New("position already holds a capital part")
)

// Book and storage.
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrAlreadyClosed    = errors.New("position already closed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDataNotFound     = errors.New("data not found")
	ErrDatabaseError    = errors.New("database error")
)

// IsSkip reports whether err is a strategy refusal or an empty chain, which
// the engine records as a skipped entry rather than a tick error.
func IsSkip(err error) bool {
	for _, target := range []error{ErrNoCandidates, ErrEmptyChain, ErrNoCapital, ErrQuotaExceeded} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// OrderError is a failed order for one option leg.
type OrderError struct {
	OrderID string
	Symbol  string // exchange tradingsymbol, e.g. NIFTY26JAN25600CE
	Side    string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	id := e.OrderID
	if id == "" {
		id = "unplaced"
	}
	msg := fmt.Sprintf("%s %s (order %s): %s", e.Side, e.Symbol, id, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, side, reason string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Side: side, Reason: reason, Err: err}
}

// LegError reports a strangle entry or exit where only one leg went through.
// Unwound is true when the filled leg was reversed afterwards.
type LegError struct {
	FilledLeg string
	FailedLeg string
	Unwound   bool
	Err       error
}

func (e *LegError) Error() string {
	state := "left open"
	if e.Unwound {
		state = "unwound"
	}
	return fmt.Sprintf("partial strangle: %s filled, %s failed (%s leg %s): %v",
		e.FilledLeg, e.FailedLeg, e.FilledLeg, state, e.Err)
}

func (e *LegError) Unwrap() error { return e.Err }

// NewLegError creates a new LegError.
func NewLegError(filled, failed string, unwound bool, err error) *LegError {
	return &LegError{FilledLeg: filled, FailedLeg: failed, Unwound: unwound, Err: err}
}

// ValidationError is a rejected configuration value or command argument.
// It matches ErrConfigInvalid.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrConfigInvalid }

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// DataError is a market-data failure for one instrument or request kind.
type DataError struct {
	DataType string // spot, chain, instruments, quote
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.DataType, e.Symbol, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataError) Unwrap() error { return e.Err }

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{DataType: dataType, Symbol: symbol, Message: message, Err: err}
}

// Wrap wraps an error with additional context. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context. A nil err stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target interface{}) bool { return errors.As(err, target) }
func Join(errs ...error) error { return errors.Join(errs...) }
func New(text string) error { return errors.New(text) }
