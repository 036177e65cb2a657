// Package engine runs the strangle decision loop: one tick refreshes the
// signal, evaluates exits and, when the signal is ready and capital allows,
// selects strikes and enters a new position.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/capital"
	"nifty-strangler/internal/chain"
	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/notify"
	"nifty-strangler/internal/signal"
	"nifty-strangler/internal/store"
	"nifty-strangler/pkg/utils"
)

// Config holds the engine parameters that are not owned by a component.
type Config struct {
	Symbol   string
	Lots     int
	LotSize  int
	EntryDTE int
	Hours    utils.MarketHours
}

// Deps are the collaborators the engine orchestrates. Store may be nil, in
// which case nothing is persisted.
type Deps struct {
	Market    broker.MarketData
	Executor  broker.Executor
	Selector  *chain.Selector
	Tracker   *signal.Tracker
	Reference *signal.StraddleReference
	Capital   *capital.Allocator
	Ledger    *ledger.Ledger
	Store     store.DataStore
	Notifier  Notifier
	Clock     utils.Clock
}

// Notifier receives trade alerts. Delivery failures never affect a tick.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// TickResult describes what one tick saw and did.
type TickResult struct {
	At         time.Time
	MarketOpen bool
	Spot       float64
	Expiry     time.Time
	ATMStrike  float64
	Straddle   float64
	Reference  float64
	Signal     signal.Status
	Exited     []models.Position
	Entered    *models.Position
	Candidate  *models.StrangleCandidate
	Skipped    string // why no entry was attempted, empty when one was
	Advisories []string
}

// Engine is the per-tick orchestrator. Ticks are serialized; Status may be
// called concurrently.
type Engine struct {
	cfg       Config
	market    broker.MarketData
	selector  *chain.Selector
	tracker   *signal.Tracker
	reference *signal.StraddleReference
	capital   *capital.Allocator
	ledger    *ledger.Ledger
	store     store.DataStore
	notifier  Notifier
	clock     utils.Clock
	legs      *LegExecutor
	logger    zerolog.Logger

	tickMu sync.Mutex

	// volume baseline for straddle weights, per ATM strike and day
	volATM  float64
	volDay  time.Time
	volLast float64

	mu       sync.RWMutex
	marks    map[string]ledger.Mark
	lastTick *TickResult
}

// New creates an engine.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = utils.SystemClock{}
	}
	if deps.Reference == nil {
		deps.Reference = signal.NewStraddleReference()
	}
	var journal ExitJournal
	if deps.Store != nil {
		journal = deps.Store
	}
	return &Engine{
		cfg:       cfg,
		market:    deps.Market,
		selector:  deps.Selector,
		tracker:   deps.Tracker,
		reference: deps.Reference,
		capital:   deps.Capital,
		ledger:    deps.Ledger,
		store:     deps.Store,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		legs:      NewLegExecutor(deps.Executor, journal, logger),
		logger:    logging.WithComponent(logger, "engine"),
		marks:     make(map[string]ledger.Mark),
	}
}

// Restore rebuilds in-memory state from the store. Persisted window and
// capital state win over anything derived in memory.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.clock.Now()

	positions, err := e.store.GetPositions(ctx, store.PositionFilter{})
	if err != nil {
		return errors.Wrap(err, "loading positions")
	}
	e.ledger.Load(positions)

	cs, err := e.store.LoadCapitalState(ctx)
	if err != nil {
		return errors.Wrap(err, "loading capital state")
	}
	if err := e.capital.Restore(cs.Slots, cs.EntriesToday, cs.Day); err != nil {
		return errors.Wrap(err, "restoring capital state")
	}

	ws, err := e.store.LoadWindowState(ctx, now)
	if err != nil {
		return errors.Wrap(err, "loading window state")
	}
	e.tracker.Restore(ws)

	points, err := e.store.GetReferencePoints(ctx, now)
	if err != nil {
		return errors.Wrap(err, "loading straddle reference")
	}
	e.reference.Load(points)

	exitLegs, err := e.store.GetExitLegs(ctx)
	if err != nil {
		return errors.Wrap(err, "loading exit legs")
	}
	var pending []store.ExitLeg
	for _, l := range exitLegs {
		if p, ok := e.ledger.Get(l.PositionID); ok && p.IsOpen() {
			pending = append(pending, l)
			continue
		}
		if err := e.store.ClearExitLegs(ctx, l.PositionID); err != nil {
			e.logger.Warn().Err(err).Str("position_id", l.PositionID).Msg("Stale exit legs not cleared")
		}
	}
	e.legs.Restore(pending)

	open := e.ledger.OpenPositions()
	for _, p := range open {
		if e.capital.SlotOf(p.ID) == 0 {
			e.logger.Warn().Str("position_id", p.ID).Int("slot", p.Slot).
				Msg("Open position holds no capital slot")
		}
	}
	for i, id := range e.capital.Status().Slots {
		if id == "" {
			continue
		}
		if p, ok := e.ledger.Get(id); !ok || !p.IsOpen() {
			e.logger.Warn().Int("slot", i+1).Str("position_id", id).
				Msg("Capital slot held by a position that is not open")
		}
	}

	e.logger.Info().
		Int("positions", len(positions)).
		Int("open", len(open)).
		Int("entries_today", ws.DayTrades).
		Int("reference_points", len(points)).
		Int("pending_exit_legs", len(pending)).
		Msg("State restored")
	return nil
}

// Tick runs one decision cycle. A returned error aborts only the rest of the
// tick; the result still reports what happened before it.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.clock.Now()
	res := TickResult{At: now}
	defer e.recordTick(&res)

	if !e.cfg.Hours.IsOpen(now) {
		res.Skipped = "market closed"
		return res, nil
	}
	res.MarketOpen = true

	spot, err := e.market.Spot(ctx)
	if err != nil {
		return res, errors.Wrap(err, "fetching spot")
	}
	res.Spot = spot

	expiries, err := e.market.Expiries(ctx)
	if err != nil {
		return res, errors.Wrap(err, "fetching expiries")
	}
	expiry, err := chain.TargetExpiry(expiries, now, e.cfg.EntryDTE)
	if err != nil {
		return res, errors.Wrap(err, "choosing expiry")
	}
	res.Expiry = expiry

	chains := make(map[time.Time]*models.OptionChain)
	oc, err := e.chainFor(ctx, chains, expiry)
	if err != nil {
		return res, err
	}

	haveSignal := e.updateSignal(ctx, oc, spot, now, &res)

	var errs []error
	if err := e.evaluateExits(ctx, chains, now, &res); err != nil {
		errs = append(errs, err)
	}

	switch {
	case !haveSignal:
		res.Skipped = "ATM straddle unavailable"
	case !res.Signal.Ready:
		res.Skipped = notReadyReason(res.Signal)
	case !e.capital.CanEnter():
		res.Skipped = "no capital slot or daily entry quota used"
	default:
		if err := e.enter(ctx, oc, spot, res.Signal.Window, now, &res); err != nil {
			errs = append(errs, err)
		}
	}

	if e.store != nil {
		if err := e.store.SetLastRun(store.RunTick, now); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to record tick time")
		}
	}
	return res, errors.Join(errs...)
}

func (e *Engine) chainFor(ctx context.Context, cache map[time.Time]*models.OptionChain, expiry time.Time) (*models.OptionChain, error) {
	key := utils.SessionDate(expiry)
	if oc, ok := cache[key]; ok {
		return oc, nil
	}
	oc, err := e.market.OptionChain(ctx, expiry)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching chain for %s", utils.FormatExpiry(expiry))
	}
	cache[key] = oc
	return oc, nil
}

// updateSignal adds the ATM straddle to the reference and feeds the pair to
// the tracker. It returns false when the ATM legs are not quoted.
func (e *Engine) updateSignal(ctx context.Context, oc *models.OptionChain, spot float64, now time.Time, res *TickResult) bool {
	atm := chain.ATMStrike(spot, e.selector.Config().StrikeStep)
	res.ATMStrike = atm

	callQ, okCall := oc.Quote(atm, models.Call)
	putQ, okPut := oc.Quote(atm, models.Put)
	if !okCall || !okPut || callQ.LastPrice <= 0 || putQ.LastPrice <= 0 {
		e.logger.Warn().Float64("atm", atm).Msg("ATM straddle not quoted, signal not updated")
		return false
	}

	straddle := callQ.LastPrice + putQ.LastPrice
	weight := e.straddleWeight(atm, float64(callQ.Volume+putQ.Volume), now)
	ref := e.reference.Add(straddle, weight, now)

	if e.store != nil {
		if err := e.store.SaveReferencePoint(ctx, signal.ReferencePoint{At: now, Price: straddle, Weight: weight}); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to persist straddle point")
		}
	}

	res.Straddle = straddle
	res.Reference = ref
	res.Signal = e.tracker.Update(straddle, ref, now)

	e.logger.Debug().
		Float64("straddle", straddle).
		Float64("reference", ref).
		Float64("weight", weight).
		Bool("active", res.Signal.Active).
		Dur("held", res.Signal.Held).
		Msg("Signal updated")
	return true
}

// straddleWeight is the volume traded in the ATM legs since the previous
// tick. It is 0 on the first tick of a day or after the ATM strike moves.
func (e *Engine) straddleWeight(atm, cumulative float64, now time.Time) float64 {
	var w float64
	if atm == e.volATM && utils.SameSession(e.volDay, now) && cumulative >= e.volLast {
		w = cumulative - e.volLast
	}
	e.volATM, e.volDay, e.volLast = atm, utils.SessionDate(now), cumulative
	return w
}

func notReadyReason(st signal.Status) string {
	switch {
	case !st.Active:
		return "signal inactive"
	case st.Held < st.Required:
		return fmt.Sprintf("signal held %s of %s", utils.FormatDuration(st.Held), utils.FormatDuration(st.Required))
	case st.Window == "":
		return "outside trading windows"
	default:
		return fmt.Sprintf("window %s quota used", st.Window)
	}
}

// evaluateExits marks every open position and closes those whose exit rule
// fires. A position whose legs are not quoted is skipped for this tick. An
// exit that left one leg bought back is retried on every tick until it
// completes, whether or not its rule still fires.
func (e *Engine) evaluateExits(ctx context.Context, chains map[time.Time]*models.OptionChain, now time.Time, res *TickResult) error {
	var errs []error
	marks := make(map[string]ledger.Mark)

	for _, pos := range e.ledger.OpenPositions() {
		log := logging.WithPosition(e.logger, pos.ID)

		var (
			mark          ledger.Mark
			okCall, okPut bool
		)
		oc, chainErr := e.chainFor(ctx, chains, pos.Expiry)
		if chainErr == nil {
			mark.Call, okCall = oc.LastPrice(pos.CallStrike, models.Call)
			mark.Put, okPut = oc.LastPrice(pos.PutStrike, models.Put)
		}

		if reason, pending := e.legs.ExitInProgress(pos.ID); pending {
			log.Info().
				Str("reason", string(reason)).
				Interface("filled", e.legs.PendingExit(pos.ID)).
				Msg("Completing partial exit")
			closed, err := e.closePosition(ctx, pos, mark, reason, now)
			if err != nil {
				if m := e.legs.MarkFilled(pos.ID, mark); m.Call > 0 && m.Put > 0 {
					marks[pos.ID] = m
				}
				errs = append(errs, err)
				continue
			}
			res.Exited = append(res.Exited, closed)
			continue
		}

		if chainErr != nil {
			log.Warn().Err(chainErr).Msg("No chain for open position, exit check skipped")
			continue
		}
		if !okCall || !okPut {
			log.Warn().Bool("call_quoted", okCall).Bool("put_quoted", okPut).
				Msg("Position legs not quoted, exit check skipped")
			continue
		}
		marks[pos.ID] = mark
		call, put := mark.Call, mark.Put

		d := e.ledger.EvaluateExit(pos, call, put, now)
		if d.DTEAdvisory {
			res.Advisories = append(res.Advisories,
				fmt.Sprintf("%s: %d DTE, at or below exit DTE", pos.ID, d.DTE))
		}
		if !d.Exit {
			continue
		}

		log.Info().
			Str("reason", string(d.Reason)).
			Float64("pnl", d.PnL).
			Float64("pnl_fraction", d.PnLFraction).
			Msg("Exit rule fired")

		closed, err := e.closePosition(ctx, pos, marks[pos.ID], d.Reason, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		delete(marks, pos.ID)
		res.Exited = append(res.Exited, closed)
	}

	e.mu.Lock()
	e.marks = marks
	e.mu.Unlock()
	return errors.Join(errs...)
}

// closePosition buys back both legs and then closes the ledger entry and
// frees its slot. If a leg fails the position stays OPEN.
func (e *Engine) closePosition(ctx context.Context, pos models.Position, mark ledger.Mark, reason models.ExitReason, now time.Time) (models.Position, error) {
	log := logging.WithPosition(e.logger, pos.ID)

	callFill, putFill, err := e.legs.Close(ctx, pos, reason, mark.Call, mark.Put, "exit")
	if err != nil {
		log.Error().Err(err).Msg("Exit order failed, position left open")
		e.notify(ctx, notify.Failure("Exit failed for "+pos.ID, err, now))
		return models.Position{}, errors.Wrapf(err, "exiting position %s", pos.ID)
	}

	closed, err := e.ledger.Close(pos.ID, callFill.Price, putFill.Price, reason, now)
	if err != nil {
		return models.Position{}, err
	}
	e.capital.Release(pos.ID)

	e.persist(ctx, func(ds store.DataStore) error { return ds.SavePosition(ctx, closed) })
	e.persistCapital(ctx)
	e.logTrade(ctx, models.ActionExit, closed.ID, fmt.Sprintf(
		"reason=%s call=%.2f put=%.2f pnl=%.2f", reason, callFill.Price, putFill.Price, closed.RealizedPnL))
	e.notify(ctx, notify.Exit(closed))
	return closed, nil
}

// enter selects strikes, claims a slot and sells both legs. Selection and
// capital refusals are skips, not errors.
func (e *Engine) enter(ctx context.Context, oc *models.OptionChain, spot float64, window string, now time.Time, res *TickResult) error {
	cand, err := e.selector.Select(oc, now)
	if err != nil {
		if errors.IsSkip(err) {
			res.Skipped = "no strike candidates"
			e.logger.Info().Err(err).Msg("Strike selection found nothing, entry skipped")
			return nil
		}
		return errors.Wrap(err, "selecting strikes")
	}
	res.Candidate = &cand

	if cand.UsedFallback() {
		res.Skipped = "no strike inside the delta band"
		e.logger.Info().
			Bool("call_fallback", cand.CallFallback).
			Bool("put_fallback", cand.PutFallback).
			Msg("Fallback strike selected, entry refused")
		return nil
	}
	if !e.selector.InBand(cand.CallDelta) || !e.selector.InBand(cand.PutDelta) {
		res.Skipped = "selected delta outside band"
		e.logger.Info().
			Float64("call_delta", cand.CallDelta).
			Float64("put_delta", cand.PutDelta).
			Msg("Selected strikes off target, entry refused")
		return nil
	}

	id := ledger.NewID()
	log := logging.WithPosition(e.logger, id)

	slot, err := e.capital.Allocate(id)
	if err != nil {
		if errors.IsSkip(err) {
			res.Skipped = err.Error()
			return nil
		}
		return errors.Wrap(err, "allocating capital")
	}

	quantity := e.cfg.Lots * e.cfg.LotSize
	callFill, putFill, err := e.legs.Open(ctx, cand, e.cfg.Lots, quantity, id)
	if err != nil {
		e.capital.Rollback(id)
		var legErr *errors.LegError
		if errors.As(err, &legErr) {
			e.logTrade(ctx, models.ActionUnwind, id, legErr.Error())
			e.notify(ctx, notify.Unwind(id, legErr, now))
		}
		log.Error().Err(err).Msg("Entry failed, capital allocation rolled back")
		return errors.Wrap(err, "entering strangle")
	}

	pos, err := e.ledger.Open(ledger.OpenRequest{
		ID:        id,
		Candidate: cand,
		Lots:      e.cfg.Lots,
		CallFill:  callFill,
		PutFill:   putFill,
		EntrySpot: spot,
		Slot:      slot,
		Window:    window,
		At:        now,
	})
	if err != nil {
		unwindErr := e.legs.Unwind(ctx, cand, e.cfg.Lots, quantity, callFill, putFill, id)
		e.capital.Rollback(id)
		details := "not recorded: " + err.Error()
		if unwindErr != nil {
			details += "; unwind failed: " + unwindErr.Error()
		}
		e.logTrade(ctx, models.ActionUnwind, id, details)
		e.notify(ctx, notify.Failure("Entry not recorded for "+id, errors.Join(err, unwindErr), now))
		log.Error().Err(err).AnErr("unwind_error", unwindErr).
			Msg("Filled entry could not be recorded, both legs bought back")
		return errors.Wrap(errors.Join(err, unwindErr), "recording position")
	}
	if err := e.tracker.RecordTrade(window, now); err != nil {
		log.Warn().Err(err).Msg("Trade not counted against window")
	}
	res.Entered = &pos

	e.persist(ctx, func(ds store.DataStore) error { return ds.SavePosition(ctx, pos) })
	e.persist(ctx, func(ds store.DataStore) error { return ds.SaveWindowState(ctx, e.tracker.Snapshot().Windows) })
	e.persistCapital(ctx)
	e.persist(ctx, func(ds store.DataStore) error { return ds.SetLastRun(store.RunEntry, now) })
	e.logTrade(ctx, models.ActionEntry, pos.ID, fmt.Sprintf(
		"window=%s slot=%d ce=%.0f@%.2f pe=%.0f@%.2f delta=%.3f/%.3f",
		window, slot, pos.CallStrike, pos.EntryCallPremium, pos.PutStrike, pos.EntryPutPremium,
		cand.CallDelta, cand.PutDelta))
	e.notify(ctx, notify.Entry(pos))
	return nil
}

// ForceExit closes an open position immediately, independent of exit rules.
func (e *Engine) ForceExit(ctx context.Context, id string, reason models.ExitReason) (models.Position, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	pos, ok := e.ledger.Get(id)
	if !ok {
		return models.Position{}, errors.Wrapf(errors.ErrPositionNotFound, "position %s", id)
	}
	if !pos.IsOpen() {
		return pos, errors.Wrapf(errors.ErrAlreadyClosed, "position %s", id)
	}
	if reason == "" {
		reason = models.ExitManual
	}

	var mark ledger.Mark
	if oc, err := e.market.OptionChain(ctx, pos.Expiry); err == nil {
		mark.Call, _ = oc.LastPrice(pos.CallStrike, models.Call)
		mark.Put, _ = oc.LastPrice(pos.PutStrike, models.Put)
	} else {
		e.logger.Warn().Err(err).Str("position_id", id).Msg("No chain for forced exit, placing without reference prices")
	}

	return e.closePosition(ctx, pos, mark, reason, e.clock.Now())
}

// OnMarketOpen is called once when the session opens.
func (e *Engine) OnMarketOpen(ctx context.Context, now time.Time) {
	e.tickMu.Lock()
	e.volATM, e.volLast = 0, 0
	e.tickMu.Unlock()

	st := e.capital.Status()
	e.logger.Info().
		Time("at", now).
		Int("free_slots", st.Free).
		Int("open_positions", len(e.ledger.OpenPositions())).
		Msg("Market open")
}

// OnMarketClose logs the day's summary and persists counters.
func (e *Engine) OnMarketClose(ctx context.Context, now time.Time) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	snap := e.tracker.Snapshot()
	e.persist(ctx, func(ds store.DataStore) error { return ds.SaveWindowState(ctx, snap.Windows) })
	e.persistCapital(ctx)

	e.mu.RLock()
	sum := e.ledger.Summary(e.marks)
	e.mu.RUnlock()

	mean, _, n := e.reference.Stats()
	e.logger.Info().
		Time("at", now).
		Int("trades_today", snap.Windows.DayTrades).
		Int("open", sum.Open).
		Int("closed", sum.Closed).
		Float64("realized_pnl", sum.RealizedPnL).
		Float64("unrealized_pnl", sum.UnrealizedPnL).
		Float64("straddle_reference", mean).
		Int("reference_points", n).
		Msg("Market close summary")
	e.notify(ctx, notify.Summary(now, snap.Windows.DayTrades, sum))
}

// Status is an eventually consistent snapshot for display.
type Status struct {
	At             time.Time
	MarketOpen     bool
	Capital        capital.Status
	Signal         signal.Snapshot
	Open           []models.Position
	Marks          map[string]ledger.Mark
	Summary        ledger.Summary
	ReferenceMean  float64
	ReferenceStd   float64
	ReferenceCount int
	NextWindow     *time.Time
	LastTick       *TickResult
}

// Status returns a snapshot of the engine state. It never blocks on a tick.
func (e *Engine) Status() Status {
	now := e.clock.Now()

	e.mu.RLock()
	marks := make(map[string]ledger.Mark, len(e.marks))
	for k, v := range e.marks {
		marks[k] = v
	}
	var last *TickResult
	if e.lastTick != nil {
		t := *e.lastTick
		last = &t
	}
	e.mu.RUnlock()

	st := Status{
		At:         now,
		MarketOpen: e.cfg.Hours.IsOpen(now),
		Capital:    e.capital.Status(),
		Signal:     e.tracker.Snapshot(),
		Open:       e.ledger.OpenPositions(),
		Marks:      marks,
		Summary:    e.ledger.Summary(marks),
		LastTick:   last,
	}
	st.ReferenceMean, st.ReferenceStd, st.ReferenceCount = e.reference.Stats()
	if next, ok := e.tracker.NextWindowStart(now); ok {
		st.NextWindow = &next
	}
	return st
}

func (e *Engine) recordTick(res *TickResult) {
	e.mu.Lock()
	t := *res
	e.lastTick = &t
	e.mu.Unlock()
}

func (e *Engine) persist(ctx context.Context, fn func(store.DataStore) error) {
	if e.store == nil {
		return
	}
	if err := fn(e.store); err != nil {
		e.logger.Error().Err(err).Msg("Persistence failed")
	}
}

func (e *Engine) persistCapital(ctx context.Context) {
	st := e.capital.Status()
	slots := make(map[int]string, len(st.Slots))
	for i, id := range st.Slots {
		if id != "" {
			slots[i+1] = id
		}
	}
	e.persist(ctx, func(ds store.DataStore) error {
		return ds.SaveCapitalState(ctx, store.CapitalState{Slots: slots, EntriesToday: st.EntriesToday, Day: st.Day})
	})
}

func (e *Engine) logTrade(ctx context.Context, action models.TradeAction, positionID, details string) {
	e.persist(ctx, func(ds store.DataStore) error {
		return ds.LogTrade(ctx, models.TradeLogEntry{
			At:         e.clock.Now(),
			Action:     action,
			PositionID: positionID,
			Details:    details,
		})
	})
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Debug().Err(err).Str("kind", string(n.Kind)).Msg("Notification not delivered")
	}
}
