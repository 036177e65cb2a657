// Package ledger owns the strangle positions and their exit rules.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

// Config holds the exit rules.
type Config struct {
	ProfitTarget float64 // fraction of max profit that forces an exit
	ExitDTE      int     // advisory only
	LotSize      int
}

// Ledger is append-only: positions move OPEN → CLOSED and are never removed.
type Ledger struct {
	mu        sync.RWMutex
	cfg       Config
	positions map[string]*models.Position
	order     []string
	logger    zerolog.Logger
}

// New creates an empty ledger.
func New(cfg Config, logger zerolog.Logger) *Ledger {
	return &Ledger{
		cfg:       cfg,
		positions: make(map[string]*models.Position),
		logger:    logging.WithComponent(logger, "ledger"),
	}
}

// NewID returns a fresh position id.
func NewID() string {
	return uuid.NewString()
}

// OpenRequest describes a confirmed two-leg entry.
type OpenRequest struct {
	ID        string
	Candidate models.StrangleCandidate
	Lots      int
	CallFill  models.Fill
	PutFill   models.Fill
	EntrySpot float64
	Slot      int
	Window    string
	At        time.Time
}

// MaxProfit is the premium collected on the whole position.
func (l *Ledger) MaxProfit(callPremium, putPremium float64, lots int) float64 {
	return (callPremium + putPremium) * float64(lots*l.cfg.LotSize)
}

// Open records a position from filled entry legs. MaxProfit is fixed here.
func (l *Ledger) Open(req OpenRequest) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if req.ID == "" {
		req.ID = NewID()
	}
	if _, exists := l.positions[req.ID]; exists {
		return models.Position{}, errors.Wrapf(errors.ErrAlreadyAllocated, "position %s already in ledger", req.ID)
	}
	if req.Lots <= 0 {
		return models.Position{}, errors.NewValidationError("lots", req.Lots, "must be positive")
	}

	c := req.Candidate
	pos := &models.Position{
		ID:               req.ID,
		Symbol:           c.Symbol,
		Expiry:           c.Expiry,
		CallStrike:       c.CallStrike,
		PutStrike:        c.PutStrike,
		CallSymbol:       c.CallSymbol,
		PutSymbol:        c.PutSymbol,
		Lots:             req.Lots,
		LotSize:          l.cfg.LotSize,
		EntryCallPremium: req.CallFill.Price,
		EntryPutPremium:  req.PutFill.Price,
		EntrySpot:        req.EntrySpot,
		EntryAt:          req.At,
		EntryCallDelta:   c.CallDelta,
		EntryPutDelta:    c.PutDelta,
		Slot:             req.Slot,
		Window:           req.Window,
		Status:           models.PositionOpen,
	}
	pos.MaxProfit = l.MaxProfit(pos.EntryCallPremium, pos.EntryPutPremium, pos.Lots)

	l.positions[pos.ID] = pos
	l.order = append(l.order, pos.ID)

	logging.LogEntry(l.logger, pos.ID, pos.CallStrike, pos.PutStrike, pos.EntryCallPremium, pos.EntryPutPremium, pos.Slot)
	return *pos, nil
}

// PnL is the mark-to-market P&L of the short strangle at the given premiums.
func PnL(pos models.Position, callPremium, putPremium float64) float64 {
	return (pos.EntryCallPremium + pos.EntryPutPremium - callPremium - putPremium) * float64(pos.Quantity())
}

// ExitDecision is the outcome of evaluating one open position.
type ExitDecision struct {
	Exit        bool
	Reason      models.ExitReason
	PnL         float64
	PnLFraction float64
	DTE         int
	DTEAdvisory bool // exit DTE reached; informational, never forces an exit
}

// EvaluateExit applies the mandatory profit-target rule and reports the
// advisory DTE rule.
func (l *Ledger) EvaluateExit(pos models.Position, callPremium, putPremium float64, now time.Time) ExitDecision {
	d := ExitDecision{
		PnL: PnL(pos, callPremium, putPremium),
		DTE: utils.DaysBetween(now, pos.Expiry),
	}
	if pos.MaxProfit > 0 {
		d.PnLFraction = d.PnL / pos.MaxProfit
	}
	if !pos.IsOpen() {
		return d
	}

	d.DTEAdvisory = d.DTE <= l.cfg.ExitDTE
	if pos.MaxProfit > 0 && d.PnL >= l.cfg.ProfitTarget*pos.MaxProfit {
		d.Exit = true
		d.Reason = models.ExitProfitTarget
	}
	return d
}

// Close marks a position CLOSED and freezes realized P&L. It succeeds once per
// position; later calls return ErrAlreadyClosed.
func (l *Ledger) Close(id string, callPremium, putPremium float64, reason models.ExitReason, now time.Time) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[id]
	if !ok {
		return models.Position{}, errors.Wrapf(errors.ErrPositionNotFound, "position %s", id)
	}
	if !pos.IsOpen() {
		return *pos, errors.Wrapf(errors.ErrAlreadyClosed, "position %s", id)
	}

	at := now
	pos.Status = models.PositionClosed
	pos.ExitCallPremium = callPremium
	pos.ExitPutPremium = putPremium
	pos.ExitAt = &at
	pos.ExitReason = reason
	pos.RealizedPnL = PnL(*pos, callPremium, putPremium)

	logging.LogExit(l.logger, pos.ID, string(reason), pos.RealizedPnL)
	return *pos, nil
}

// Get returns a copy of a position.
func (l *Ledger) Get(id string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

func (l *Ledger) filter(keep func(*models.Position) bool) []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Position
	for _, id := range l.order {
		if p := l.positions[id]; keep(p) {
			out = append(out, *p)
		}
	}
	return out
}

// OpenPositions returns open positions in entry order.
func (l *Ledger) OpenPositions() []models.Position {
	return l.filter(func(p *models.Position) bool { return p.IsOpen() })
}

// ClosedPositions returns closed positions in entry order.
func (l *Ledger) ClosedPositions() []models.Position {
	return l.filter(func(p *models.Position) bool { return !p.IsOpen() })
}

// All returns every position in entry order.
func (l *Ledger) All() []models.Position {
	return l.filter(func(*models.Position) bool { return true })
}

// Load restores persisted positions ordered by entry time. Ids already present are skipped.
func (l *Ledger) Load(positions []models.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]models.Position, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EntryAt.Before(sorted[j].EntryAt) })

	for i := range sorted {
		p := sorted[i]
		if _, exists := l.positions[p.ID]; exists {
			continue
		}
		l.positions[p.ID] = &p
		l.order = append(l.order, p.ID)
	}
}

// Mark is the current premium pair for an open position.
type Mark struct {
	Call float64
	Put  float64
}

// Summary aggregates the book.
type Summary struct {
	Open          int
	Closed        int
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalPnL      float64
	Wins          int
	Losses        int
	WinRate       float64
	AvgPnL        float64
	BestPnL       float64
	WorstPnL      float64
}

// Summary totals realized P&L and marks open positions with the given marks
// (positions without a mark contribute nothing unrealized).
func (l *Ledger) Summary(marks map[string]Mark) Summary {
	var s Summary
	var realized []float64

	for _, p := range l.All() {
		if p.IsOpen() {
			s.Open++
			if m, ok := marks[p.ID]; ok {
				s.UnrealizedPnL += PnL(p, m.Call, m.Put)
			}
			continue
		}
		s.Closed++
		s.RealizedPnL += p.RealizedPnL
		realized = append(realized, p.RealizedPnL)
		if p.RealizedPnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}

	if len(realized) > 0 {
		s.WinRate = float64(s.Wins) / float64(len(realized))
		s.AvgPnL = stat.Mean(realized, nil)
		sorted := append([]float64(nil), realized...)
		sort.Float64s(sorted)
		s.WorstPnL, s.BestPnL = sorted[0], sorted[len(sorted)-1]
	}
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL
	return s
}
