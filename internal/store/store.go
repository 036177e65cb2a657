// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"nifty-strangler/internal/models"
	"nifty-strangler/internal/signal"
)

// DataStore defines the interface for data persistence.
// Persisted window and capital state is authoritative after a restart.
type DataStore interface {
	// Positions
	SavePosition(ctx context.Context, pos models.Position) error
	GetPosition(ctx context.Context, id string) (models.Position, error)
	GetPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error)

	// Window quotas
	SaveWindowState(ctx context.Context, ws signal.WindowState) error
	LoadWindowState(ctx context.Context, day time.Time) (signal.WindowState, error)

	// Capital slots
	SaveCapitalState(ctx context.Context, cs CapitalState) error
	LoadCapitalState(ctx context.Context) (CapitalState, error)

	// Signal history
	SaveSignalEvent(ctx context.Context, ev signal.Event) error
	GetSignalEvents(ctx context.Context, filter EventFilter) ([]SignalEventRecord, error)

	// Exit legs bought back before the exit completed
	SaveExitLeg(ctx context.Context, leg ExitLeg) error
	GetExitLegs(ctx context.Context) ([]ExitLeg, error)
	ClearExitLegs(ctx context.Context, positionID string) error

	// Trade log
	LogTrade(ctx context.Context, entry models.TradeLogEntry) error
	GetTradeLog(ctx context.Context, filter TradeLogFilter) ([]models.TradeLogEntry, error)

	// Straddle reference
	SaveReferencePoint(ctx context.Context, p signal.ReferencePoint) error
	GetReferencePoints(ctx context.Context, day time.Time) ([]signal.ReferencePoint, error)

	// Run markers
	GetLastRun(kind string) time.Time
	SetLastRun(kind string, t time.Time) error

	// Lifecycle
	Close() error
}

// Run marker kinds.
const (
	RunTick        = "tick"
	RunEntry       = "entry"
	RunInstruments = "instruments"
)

// CapitalState is the persisted capital partition.
type CapitalState struct {
	Slots        map[int]string // slot number -> position id
	EntriesToday int
	Day          time.Time
}

// ExitLeg is one leg of an open position that was bought back on an exit
// whose other leg has not filled yet.
type ExitLeg struct {
	PositionID string
	Type       models.OptionType
	Fill       models.Fill
	Reason     models.ExitReason
}

// PositionFilter represents filters for querying positions.
type PositionFilter struct {
	Status    models.PositionStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// EventFilter represents filters for querying signal events.
type EventFilter struct {
	Kind      signal.EventKind
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TradeLogFilter represents filters for querying the trade log.
type TradeLogFilter struct {
	Action     models.TradeAction
	PositionID string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
}

// SignalEventRecord is a stored signal transition.
type SignalEventRecord struct {
	ID int64
	signal.Event
}
