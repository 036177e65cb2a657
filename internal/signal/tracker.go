// Package signal tracks the sustained entry condition and the trading-window quotas that gate it.
package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/logging"
	"nifty-strangler/pkg/utils"
)

// Window is a time-of-day interval [Start, End) with its own trade quota.
type Window struct {
	Name      string
	Start     utils.TimeOfDay
	End       utils.TimeOfDay
	MaxTrades int
}

// Contains reports whether tod falls inside the window.
func (w Window) Contains(tod utils.TimeOfDay) bool {
	return tod >= w.Start && tod < w.End
}

// Config holds tracker parameters. Windows must be sorted and non-overlapping.
type Config struct {
	RequiredDuration time.Duration
	Windows          []Window
	MaxTradesPerDay  int // 0 disables the day-level quota
}

// State is the sustained-condition state.
type State struct {
	Active    bool
	StartedAt time.Time
}

// WindowState holds the day's trade counters.
type WindowState struct {
	Day         time.Time
	Trades      map[string]int
	DayTrades   int
	LastTradeAt *time.Time
}

func (w WindowState) clone() WindowState {
	out := w
	out.Trades = make(map[string]int, len(w.Trades))
	for k, v := range w.Trades {
		out.Trades[k] = v
	}
	if w.LastTradeAt != nil {
		t := *w.LastTradeAt
		out.LastTradeAt = &t
	}
	return out
}

// Status is the result of one update.
type Status struct {
	Active    bool
	Held      time.Duration
	Required  time.Duration
	Window    string // empty outside every window
	CanTrade  bool
	Ready     bool
	Observed  float64
	Reference float64
	Trades    map[string]int
	DayTrades int
}

// EventKind names a signal transition.
type EventKind string

const (
	EventStarted  EventKind = "STARTED"
	EventBroken   EventKind = "BROKEN"
	EventTraded   EventKind = "TRADED"
	EventDayReset EventKind = "DAY_RESET"
)

// Event is one signal transition, emitted to the EventSink.
type Event struct {
	Kind      EventKind
	At        time.Time
	StartedAt time.Time
	Held      time.Duration
	Required  time.Duration
	Reached   bool
	Observed  float64
	Reference float64
	Window    string
}

// EventSink receives signal transitions.
type EventSink interface {
	OnSignalEvent(Event)
}

// Tracker is owned by the decision engine; only ticks mutate it.
type Tracker struct {
	cfg    Config
	mu     sync.RWMutex
	state  State
	win    WindowState
	sink   EventSink
	logger zerolog.Logger
}

// NewTracker creates a tracker. sink may be nil.
func NewTracker(cfg Config, sink EventSink, logger zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		win:    WindowState{Trades: make(map[string]int)},
		sink:   sink,
		logger: logging.WithComponent(logger, "signal"),
	}
}

func (t *Tracker) emit(ev Event) {
	if t.sink != nil {
		t.sink.OnSignalEvent(ev)
	}
}

// rollDay clears both state containers on the first call of a new local day.
func (t *Tracker) rollDay(now time.Time) {
	if !t.win.Day.IsZero() && utils.SameSession(t.win.Day, now) {
		return
	}
	hadDay := !t.win.Day.IsZero()
	t.win = WindowState{Day: utils.SessionDate(now), Trades: make(map[string]int)}
	t.state = State{}
	if hadDay {
		t.logger.Info().Time("day", t.win.Day).Msg("New trading day, window counters reset")
		t.emit(Event{Kind: EventDayReset, At: now})
	}
}

// Update applies one observation. The day rolls over first, then the state moves
// IDLE→ACTIVE when observed > reference and back to IDLE on the first tick where
// it does not hold.
func (t *Tracker) Update(observed, reference float64, now time.Time) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollDay(now)

	if observed > reference {
		if !t.state.Active {
			t.state = State{Active: true, StartedAt: now}
			logging.LogSignal(t.logger, "started", observed, reference, 0)
			t.emit(Event{Kind: EventStarted, At: now, StartedAt: now, Observed: observed,
				Reference: reference, Required: t.cfg.RequiredDuration})
		}
	} else if t.state.Active {
		held := now.Sub(t.state.StartedAt)
		logging.LogSignal(t.logger, "broken", observed, reference, held)
		t.emit(Event{Kind: EventBroken, At: now, StartedAt: t.state.StartedAt, Held: held,
			Required: t.cfg.RequiredDuration, Reached: held >= t.cfg.RequiredDuration,
			Observed: observed, Reference: reference})
		t.state = State{}
	}

	st := t.statusLocked(now)
	st.Observed = observed
	st.Reference = reference
	return st
}

func (t *Tracker) statusLocked(now time.Time) Status {
	st := Status{
		Active:    t.state.Active,
		Required:  t.cfg.RequiredDuration,
		Trades:    t.win.clone().Trades,
		DayTrades: t.win.DayTrades,
	}
	if t.state.Active {
		st.Held = now.Sub(t.state.StartedAt)
	}
	if w, ok := t.WindowAt(now); ok {
		st.Window = w.Name
		st.CanTrade = t.canTradeLocked(w)
	}
	st.Ready = st.Active && st.Held >= t.cfg.RequiredDuration && st.CanTrade
	return st
}

func (t *Tracker) canTradeLocked(w Window) bool {
	if t.win.Trades[w.Name] >= w.MaxTrades {
		return false
	}
	return t.cfg.MaxTradesPerDay <= 0 || t.win.DayTrades < t.cfg.MaxTradesPerDay
}

// Readiness reports whether an entry may be taken at now.
func (t *Tracker) Readiness(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay(now)
	return t.statusLocked(now).Ready
}

// WindowAt returns the window containing now, if any.
func (t *Tracker) WindowAt(now time.Time) (Window, bool) {
	tod := utils.TimeOfDayOf(now)
	for _, w := range t.cfg.Windows {
		if w.Contains(tod) {
			return w, true
		}
	}
	return Window{}, false
}

// RecordTrade counts an executed entry against window and the day, and resets
// the signal so a sustained condition cannot trigger a second entry.
func (t *Tracker) RecordTrade(window string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.knownWindow(window) {
		return fmt.Errorf("unknown trading window %q", window)
	}
	t.rollDay(now)

	held := time.Duration(0)
	if t.state.Active {
		held = now.Sub(t.state.StartedAt)
	}
	t.win.Trades[window]++
	t.win.DayTrades++
	at := now
	t.win.LastTradeAt = &at
	t.emit(Event{Kind: EventTraded, At: now, StartedAt: t.state.StartedAt, Held: held,
		Required: t.cfg.RequiredDuration, Reached: held >= t.cfg.RequiredDuration, Window: window})
	t.state = State{}

	t.logger.Info().Str("window", window).Int("window_trades", t.win.Trades[window]).Msg("Trade recorded")
	return nil
}

func (t *Tracker) knownWindow(name string) bool {
	for _, w := range t.cfg.Windows {
		if w.Name == name {
			return true
		}
	}
	return false
}

// NextWindowStart returns the start of the next window today that still has quota.
func (t *Tracker) NextWindowStart(now time.Time) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stale := t.win.Day.IsZero() || !utils.SameSession(t.win.Day, now)
	tod := utils.TimeOfDayOf(now)
	for _, w := range t.cfg.Windows {
		if w.Start <= tod {
			continue
		}
		if stale || t.canTradeLocked(w) {
			return w.Start.On(now), true
		}
	}
	return time.Time{}, false
}

// Snapshot is a consistent copy of the tracker state.
type Snapshot struct {
	Signal  State
	Windows WindowState
}

// Snapshot returns a copy safe to read from other goroutines.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Signal: t.state, Windows: t.win.clone()}
}

// Restore installs persisted window counters. A state from an earlier day is
// discarded on the next update.
func (t *Tracker) Restore(ws WindowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.win = ws.clone()
	if t.win.Trades == nil {
		t.win.Trades = make(map[string]int)
	}
}

// Windows returns the configured windows.
func (t *Tracker) Windows() []Window {
	out := make([]Window, len(t.cfg.Windows))
	copy(out, t.cfg.Windows)
	return out
}
