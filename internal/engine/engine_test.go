package engine

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/capital"
	"nifty-strangler/internal/chain"
	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/notify"
	"nifty-strangler/internal/pricing"
	"nifty-strangler/internal/signal"
	"nifty-strangler/internal/store"
	"nifty-strangler/pkg/utils"
)

var testExpiry = time.Date(2026, 1, 20, 0, 0, 0, 0, utils.IndiaLocation)

// at is a time on Tuesday 2026-01-06.
func at(h, m int) time.Time {
	return time.Date(2026, 1, 6, h, m, 0, 0, utils.IndiaLocation)
}

// buildChain prices strikes [from, to] off a forward of 25000 at a flat vol.
func buildChain(from, to, vol float64) *models.OptionChain {
	e := pricing.NewEngine(pricing.ZeroCarry)
	tt := pricing.YearFraction(at(10, 0), testExpiry)
	var quotes []models.OptionQuote
	for k := from; k <= to; k += 50 {
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			price := math.Round(e.Price(typ, 25000, k, tt, vol)*100) / 100
			quotes = append(quotes, models.OptionQuote{Strike: k, Expiry: testExpiry, Type: typ, LastPrice: price})
		}
	}
	return models.NewOptionChain("NIFTY", 25000, testExpiry, quotes)
}

func repriced(oc *models.OptionChain, strike float64, typ models.OptionType, price float64) *models.OptionChain {
	q, _ := oc.Quote(strike, typ)
	q.LastPrice = price
	return oc.WithQuote(q)
}

func without(oc *models.OptionChain, strike float64, typ models.OptionType) *models.OptionChain {
	var quotes []models.OptionQuote
	for _, q := range oc.Quotes() {
		if q.Strike == strike && q.Type == typ {
			continue
		}
		quotes = append(quotes, q)
	}
	return models.NewOptionChain(oc.Symbol, oc.Spot, oc.Expiry, quotes)
}

// scriptedExecutor fills every order at its reference price unless fail says otherwise.
type scriptedExecutor struct {
	mu     sync.Mutex
	orders []models.LegOrder
	fail   func(models.LegOrder) error
}

func (s *scriptedExecutor) PlaceLeg(ctx context.Context, o models.LegOrder) (models.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	if s.fail != nil {
		if err := s.fail(o); err != nil {
			return models.Fill{}, err
		}
	}
	return models.Fill{OrderID: fmt.Sprintf("T%d", len(s.orders)), Price: o.RefPrice, Quantity: o.Quantity}, nil
}

func (s *scriptedExecutor) count(typ models.OptionType, side models.OrderSide) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.Type == typ && o.Side == side {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, n.Kind)
	return nil
}

func (r *recordingNotifier) sent() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Kind(nil), r.kinds...)
}

type harness struct {
	notes   *recordingNotifier
	clock   *utils.FixedClock
	market  *broker.StaticMarket
	store   *store.SQLiteStore
	engine  *Engine
	capital *capital.Allocator
	ledger  *ledger.Ledger
	tracker *signal.Tracker
}

func newHarness(t *testing.T, exec broker.Executor, ds *store.SQLiteStore) *harness {
	t.Helper()
	h := &harness{
		clock:  &utils.FixedClock{T: at(10, 0)},
		market: broker.NewStaticMarket(),
		store:  ds,
		notes:  &recordingNotifier{},
	}
	if h.store == nil {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		h.store = s
	}
	if exec == nil {
		exec = broker.NewPaperBroker(broker.PaperBrokerConfig{Data: h.market, Slippage: 0, Clock: h.clock}, zerolog.Nop())
	}

	h.tracker = signal.NewTracker(signal.Config{
		RequiredDuration: 300 * time.Second,
		Windows: []signal.Window{
			{Name: "morning", Start: utils.MustTimeOfDay("09:30"), End: utils.MustTimeOfDay("13:15"), MaxTrades: 1},
			{Name: "afternoon", Start: utils.MustTimeOfDay("13:15"), End: utils.MustTimeOfDay("15:15"), MaxTrades: 1},
		},
	}, h.store, zerolog.Nop())
	h.capital = capital.New(100000, 6, 2, h.clock, zerolog.Nop())
	h.ledger = ledger.New(ledger.Config{ProfitTarget: 0.5, ExitDTE: 7, LotSize: 65}, zerolog.Nop())

	selector := chain.NewSelector(chain.SelectorConfig{
		StrikeStep: 50, TargetDelta: 0.07, BandLower: 0.035, BandUpper: 0.14,
	}, pricing.SpotCarry(0.07, 0), zerolog.Nop())

	h.engine = New(Config{
		Symbol:   "NIFTY",
		Lots:     1,
		LotSize:  65,
		EntryDTE: 14,
		Hours:    utils.DefaultMarketHours(),
	}, Deps{
		Market:    h.market,
		Executor:  exec,
		Selector:  selector,
		Tracker:   h.tracker,
		Reference: signal.NewStraddleReference(),
		Capital:   h.capital,
		Ledger:    h.ledger,
		Store:     h.store,
		Notifier:  h.notes,
		Clock:     h.clock,
	}, zerolog.Nop())
	return h
}

func (h *harness) tickAt(t *testing.T, when time.Time) (TickResult, error) {
	t.Helper()
	h.clock.Set(when)
	return h.engine.Tick(context.Background())
}

// enter drives the straddle above its reference for five minutes and returns
// the entry tick.
func (h *harness) enter(t *testing.T, from, to float64) TickResult {
	t.Helper()
	h.market.SetChain(buildChain(from, to, 0.12))
	res, err := h.tickAt(t, at(10, 0))
	require.NoError(t, err)
	require.False(t, res.Signal.Active, "first point equals its own reference")

	h.market.SetChain(buildChain(from, to, 0.13))
	res, err = h.tickAt(t, at(10, 1))
	require.NoError(t, err)
	require.True(t, res.Signal.Active)

	res, err = h.tickAt(t, at(10, 6))
	require.NoError(t, err)
	return res
}

func TestTick_MarketClosed(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.market.SetChain(buildChain(23000, 27000, 0.12))

	res, err := h.tickAt(t, at(8, 0))
	require.NoError(t, err)
	assert.False(t, res.MarketOpen)
	assert.Equal(t, "market closed", res.Skipped)
	assert.Zero(t, res.Spot)
}

func TestTick_DataErrorAbortsTick(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.market.SetError(errors.ErrQuoteUnavailable)

	_, err := h.tickAt(t, at(10, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQuoteUnavailable))
}

func TestTick_EntersAfterSustainedSignal(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := h.enter(t, 23000, 27000)

	require.NotNil(t, res.Entered, "skipped: %s", res.Skipped)
	pos := *res.Entered
	assert.Equal(t, "morning", pos.Window)
	assert.Equal(t, 1, pos.Slot)
	assert.Equal(t, testExpiry, pos.Expiry)
	assert.Greater(t, pos.CallStrike, 25000.0)
	assert.Less(t, pos.PutStrike, 25000.0)
	assert.InDelta(t, (pos.EntryCallPremium+pos.EntryPutPremium)*65, pos.MaxProfit, 1e-9)

	require.NotNil(t, res.Candidate)
	assert.False(t, res.Candidate.UsedFallback())

	// Trade counted against the window and the signal reset.
	snap := h.tracker.Snapshot()
	assert.Equal(t, 1, snap.Windows.Trades["morning"])
	assert.False(t, snap.Signal.Active)

	st := h.capital.Status()
	assert.Equal(t, 5, st.Free)
	assert.Equal(t, 1, st.EntriesToday)

	ctx := context.Background()
	stored, err := h.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, stored.Status)

	cs, err := h.store.LoadCapitalState(ctx)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, cs.Slots[1])

	entries, err := h.store.GetTradeLog(ctx, store.TradeLogFilter{Action: models.ActionEntry})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, pos.ID, entries[0].PositionID)

	assert.Equal(t, at(10, 6), h.store.GetLastRun(store.RunEntry))
	assert.Equal(t, []notify.Kind{notify.KindEntry}, h.notes.sent())
}

func TestTick_SignalBreakPreventsEntry(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.market.SetChain(buildChain(23000, 27000, 0.12))
	_, err := h.tickAt(t, at(10, 0))
	require.NoError(t, err)

	h.market.SetChain(buildChain(23000, 27000, 0.13))
	res, err := h.tickAt(t, at(10, 1))
	require.NoError(t, err)
	require.True(t, res.Signal.Active)

	h.market.SetChain(buildChain(23000, 27000, 0.11))
	res, err = h.tickAt(t, at(10, 4))
	require.NoError(t, err)
	assert.False(t, res.Signal.Active)

	h.market.SetChain(buildChain(23000, 27000, 0.13))
	res, err = h.tickAt(t, at(10, 6))
	require.NoError(t, err)
	assert.True(t, res.Signal.Active)
	assert.Nil(t, res.Entered, "condition restarted at 10:06")
	assert.Contains(t, res.Skipped, "signal held")
}

func TestTick_RefusesFallbackStrikes(t *testing.T) {
	h := newHarness(t, nil, nil)
	res := h.enter(t, 24700, 25300)

	assert.Nil(t, res.Entered)
	require.NotNil(t, res.Candidate)
	assert.True(t, res.Candidate.UsedFallback())
	assert.Equal(t, "no strike inside the delta band", res.Skipped)

	st := h.capital.Status()
	assert.Equal(t, 6, st.Free)
	assert.Equal(t, 0, st.EntriesToday)
}

func TestTick_ExitsAtProfitTarget(t *testing.T) {
	h := newHarness(t, nil, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	callExit, putExit := pos.EntryCallPremium*0.3, pos.EntryPutPremium*0.3
	oc := buildChain(23000, 27000, 0.13)
	oc = repriced(oc, pos.CallStrike, models.Call, callExit)
	oc = repriced(oc, pos.PutStrike, models.Put, putExit)
	h.market.SetChain(oc)

	res, err := h.tickAt(t, at(10, 7))
	require.NoError(t, err)
	require.Len(t, res.Exited, 1)

	closed := res.Exited[0]
	assert.Equal(t, models.PositionClosed, closed.Status)
	assert.Equal(t, models.ExitProfitTarget, closed.ExitReason)
	assert.InDelta(t, 0.7*pos.MaxProfit, closed.RealizedPnL, 1e-6)
	assert.Equal(t, 6, h.capital.Status().Free)
	assert.Empty(t, h.ledger.OpenPositions())

	stored, err := h.store.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, stored.Status)
	assert.InDelta(t, closed.RealizedPnL, stored.RealizedPnL, 1e-6)
	assert.Equal(t, []notify.Kind{notify.KindEntry, notify.KindExit}, h.notes.sent())
}

func TestTick_HoldsBelowProfitTarget(t *testing.T) {
	h := newHarness(t, nil, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	oc := buildChain(23000, 27000, 0.13)
	oc = repriced(oc, pos.CallStrike, models.Call, pos.EntryCallPremium*0.6)
	oc = repriced(oc, pos.PutStrike, models.Put, pos.EntryPutPremium*0.6)
	h.market.SetChain(oc)

	res, err := h.tickAt(t, at(10, 7))
	require.NoError(t, err)
	assert.Empty(t, res.Exited)
	assert.Len(t, h.ledger.OpenPositions(), 1)

	mark := h.engine.Status().Marks[pos.ID]
	assert.InDelta(t, pos.EntryCallPremium*0.6, mark.Call, 1e-9)
}

func TestTick_MissingQuoteSkipsExit(t *testing.T) {
	h := newHarness(t, nil, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	oc := buildChain(23000, 27000, 0.13)
	oc = repriced(oc, pos.PutStrike, models.Put, 0.05)
	h.market.SetChain(without(oc, pos.CallStrike, models.Call))

	res, err := h.tickAt(t, at(10, 7))
	require.NoError(t, err)
	assert.Empty(t, res.Exited)
	assert.Len(t, h.ledger.OpenPositions(), 1)
	assert.Equal(t, 1, h.capital.SlotOf(pos.ID))
}

func TestEntry_PutFailureUnwindsCall(t *testing.T) {
	exec := &scriptedExecutor{fail: func(o models.LegOrder) error {
		if o.Type == models.Put && o.Side == models.OrderSideSell {
			return errors.NewOrderError("", "PE", "SELL", "rejected", errors.ErrOrderRejected)
		}
		return nil
	}}
	h := newHarness(t, exec, nil)

	h.market.SetChain(buildChain(23000, 27000, 0.12))
	_, err := h.tickAt(t, at(10, 0))
	require.NoError(t, err)
	h.market.SetChain(buildChain(23000, 27000, 0.13))
	_, err = h.tickAt(t, at(10, 1))
	require.NoError(t, err)

	res, err := h.tickAt(t, at(10, 6))
	require.Error(t, err)
	assert.Nil(t, res.Entered)

	var legErr *errors.LegError
	require.True(t, errors.As(err, &legErr))
	assert.True(t, legErr.Unwound)
	assert.Equal(t, "call", legErr.FilledLeg)
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))

	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideSell))
	assert.Equal(t, 1, exec.count(models.Put, models.OrderSideSell))
	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideBuy))

	assert.Empty(t, h.ledger.All(), "a one-legged strangle is never recorded")
	st := h.capital.Status()
	assert.Equal(t, 6, st.Free)
	assert.Equal(t, 0, st.EntriesToday)
	assert.Equal(t, 0, h.tracker.Snapshot().Windows.Trades["morning"])

	unwinds, err := h.store.GetTradeLog(context.Background(), store.TradeLogFilter{Action: models.ActionUnwind})
	require.NoError(t, err)
	assert.Len(t, unwinds, 1)
	assert.Equal(t, []notify.Kind{notify.KindUnwind}, h.notes.sent())
}

func TestExit_RetryOnlyPlacesOpenLeg(t *testing.T) {
	failPut := true
	exec := &scriptedExecutor{}
	exec.fail = func(o models.LegOrder) error {
		if failPut && o.Type == models.Put && o.Side == models.OrderSideBuy {
			failPut = false
			return errors.NewOrderError("", "PE", "BUY", "timeout", errors.ErrFillTimeout)
		}
		return nil
	}
	h := newHarness(t, exec, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	oc := buildChain(23000, 27000, 0.13)
	oc = repriced(oc, pos.CallStrike, models.Call, 1)
	oc = repriced(oc, pos.PutStrike, models.Put, 1)
	h.market.SetChain(oc)

	_, err := h.tickAt(t, at(10, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFillTimeout))
	assert.Len(t, h.ledger.OpenPositions(), 1, "failed exit leaves the position open")
	assert.Equal(t, 1, h.capital.SlotOf(pos.ID))
	assert.Equal(t, []models.OptionType{models.Call}, h.engine.legs.PendingExit(pos.ID))

	res, err := h.tickAt(t, at(10, 8))
	require.NoError(t, err)
	require.Len(t, res.Exited, 1)
	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideBuy))
	assert.Equal(t, 2, exec.count(models.Put, models.OrderSideBuy))
	assert.InDelta(t, (pos.EntryCredit()-2)*65, res.Exited[0].RealizedPnL, 1e-6)
	assert.Empty(t, h.engine.legs.PendingExit(pos.ID))
	assert.Equal(t, []notify.Kind{notify.KindEntry, notify.KindError, notify.KindExit}, h.notes.sent())
}

func TestExit_PartialExitCompletesAfterRuleStops(t *testing.T) {
	failPut := true
	exec := &scriptedExecutor{}
	exec.fail = func(o models.LegOrder) error {
		if failPut && o.Type == models.Put && o.Side == models.OrderSideBuy {
			failPut = false
			return errors.NewOrderError("", "PE", "BUY", "timeout", errors.ErrFillTimeout)
		}
		return nil
	}
	h := newHarness(t, exec, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	oc := buildChain(23000, 27000, 0.13)
	h.market.SetChain(repriced(repriced(oc, pos.CallStrike, models.Call, 1), pos.PutStrike, models.Put, 1))
	_, err := h.tickAt(t, at(10, 7))
	require.Error(t, err)
	require.Equal(t, []models.OptionType{models.Call}, h.engine.legs.PendingExit(pos.ID))

	// Premiums back near entry, the profit target no longer fires.
	putMark := pos.EntryPutPremium * 0.9
	oc = repriced(oc, pos.CallStrike, models.Call, pos.EntryCallPremium*0.9)
	oc = repriced(oc, pos.PutStrike, models.Put, putMark)
	h.market.SetChain(oc)

	res, err := h.tickAt(t, at(10, 8))
	require.NoError(t, err)
	require.Len(t, res.Exited, 1)
	closed := res.Exited[0]
	assert.Equal(t, models.ExitProfitTarget, closed.ExitReason)
	assert.Equal(t, 1.0, closed.ExitCallPremium)
	assert.InDelta(t, putMark, closed.ExitPutPremium, 1e-9)
	assert.InDelta(t, (pos.EntryCredit()-1-putMark)*65, closed.RealizedPnL, 1e-6)

	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideBuy))
	assert.Equal(t, 2, exec.count(models.Put, models.OrderSideBuy))
	assert.Empty(t, h.ledger.OpenPositions())
	assert.Equal(t, 6, h.capital.Status().Free)
}

func TestRestore_ResumesPartialExit(t *testing.T) {
	ctx := context.Background()
	exec := &scriptedExecutor{fail: func(o models.LegOrder) error {
		if o.Type == models.Put && o.Side == models.OrderSideBuy {
			return errors.NewOrderError("", "PE", "BUY", "timeout", errors.ErrFillTimeout)
		}
		return nil
	}}
	first := newHarness(t, exec, nil)
	pos := *first.enter(t, 23000, 27000).Entered

	oc := buildChain(23000, 27000, 0.13)
	oc = repriced(oc, pos.CallStrike, models.Call, 1)
	oc = repriced(oc, pos.PutStrike, models.Put, 1)
	first.market.SetChain(oc)
	_, err := first.tickAt(t, at(10, 7))
	require.Error(t, err)

	stored, err := first.store.GetExitLegs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, pos.ID, stored[0].PositionID)
	assert.Equal(t, models.Call, stored[0].Type)
	assert.Equal(t, models.ExitProfitTarget, stored[0].Reason)

	// Still pending: only the put is retried and the call is marked at its fill.
	first.market.SetChain(repriced(oc, pos.CallStrike, models.Call, 5))
	_, err = first.tickAt(t, at(10, 8))
	require.Error(t, err)
	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideBuy))
	assert.Equal(t, 2, exec.count(models.Put, models.OrderSideBuy))
	assert.Equal(t, 1.0, first.engine.Status().Marks[pos.ID].Call)

	restarted := &scriptedExecutor{}
	second := newHarness(t, restarted, first.store)
	second.clock.Set(at(10, 30))
	require.NoError(t, second.engine.Restore(ctx))
	assert.Equal(t, []models.OptionType{models.Call}, second.engine.legs.PendingExit(pos.ID))

	second.market.SetChain(oc)
	res, err := second.tickAt(t, at(10, 31))
	require.NoError(t, err)
	require.Len(t, res.Exited, 1)
	assert.Zero(t, restarted.count(models.Call, models.OrderSideBuy), "call was bought back before the restart")
	assert.Equal(t, 1, restarted.count(models.Put, models.OrderSideBuy))
	assert.Equal(t, 1.0, res.Exited[0].ExitCallPremium)
	assert.Equal(t, models.ExitProfitTarget, res.Exited[0].ExitReason)

	stored, err = first.store.GetExitLegs(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEntry_UnrecordedFillIsUnwound(t *testing.T) {
	exec := &scriptedExecutor{}
	h := newHarness(t, exec, nil)
	h.engine.cfg.Lots = 0 // the ledger refuses a position without lots

	h.market.SetChain(buildChain(23000, 27000, 0.12))
	_, err := h.tickAt(t, at(10, 0))
	require.NoError(t, err)
	h.market.SetChain(buildChain(23000, 27000, 0.13))
	_, err = h.tickAt(t, at(10, 1))
	require.NoError(t, err)

	res, err := h.tickAt(t, at(10, 6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
	assert.Nil(t, res.Entered)

	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideSell))
	assert.Equal(t, 1, exec.count(models.Put, models.OrderSideSell))
	assert.Equal(t, 1, exec.count(models.Call, models.OrderSideBuy))
	assert.Equal(t, 1, exec.count(models.Put, models.OrderSideBuy))

	assert.Empty(t, h.ledger.All())
	st := h.capital.Status()
	assert.Equal(t, 6, st.Free)
	assert.Equal(t, 0, st.EntriesToday)
	assert.Equal(t, 0, h.tracker.Snapshot().Windows.Trades["morning"])

	unwinds, err := h.store.GetTradeLog(context.Background(), store.TradeLogFilter{Action: models.ActionUnwind})
	require.NoError(t, err)
	require.Len(t, unwinds, 1)
	assert.Contains(t, unwinds[0].Details, "not recorded")
	assert.Equal(t, []notify.Kind{notify.KindError}, h.notes.sent())
}

func TestForceExit(t *testing.T) {
	h := newHarness(t, nil, nil)
	pos := *h.enter(t, 23000, 27000).Entered
	ctx := context.Background()

	h.clock.Set(at(11, 0))
	closed, err := h.engine.ForceExit(ctx, pos.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExitManual, closed.ExitReason)
	assert.Equal(t, 6, h.capital.Status().Free)

	_, err = h.engine.ForceExit(ctx, pos.ID, models.ExitManual)
	assert.True(t, errors.Is(err, errors.ErrAlreadyClosed))

	_, err = h.engine.ForceExit(ctx, "missing", models.ExitManual)
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestRestore_RebuildsStateFromStore(t *testing.T) {
	first := newHarness(t, nil, nil)
	pos := *first.enter(t, 23000, 27000).Entered

	second := newHarness(t, nil, first.store)
	second.clock.Set(at(10, 30))
	require.NoError(t, second.engine.Restore(context.Background()))

	open := second.ledger.OpenPositions()
	require.Len(t, open, 1)
	assert.Equal(t, pos.ID, open[0].ID)
	assert.Equal(t, 1, second.capital.SlotOf(pos.ID))
	assert.Equal(t, 1, second.capital.Status().EntriesToday)
	assert.Equal(t, 1, second.tracker.Snapshot().Windows.Trades["morning"])

	_, _, n := second.engine.reference.Stats()
	assert.Equal(t, 3, n)
}

func TestStatus_Snapshot(t *testing.T) {
	h := newHarness(t, nil, nil)
	pos := *h.enter(t, 23000, 27000).Entered

	st := h.engine.Status()
	assert.True(t, st.MarketOpen)
	require.Len(t, st.Open, 1)
	assert.Equal(t, pos.ID, st.Open[0].ID)
	assert.Equal(t, 5, st.Capital.Free)
	assert.Equal(t, 3, st.ReferenceCount)
	require.NotNil(t, st.NextWindow)
	assert.Equal(t, at(13, 15), *st.NextWindow)
	require.NotNil(t, st.LastTick)
	assert.Equal(t, at(10, 6), st.LastTick.At)
}

func TestStraddleWeight(t *testing.T) {
	h := newHarness(t, nil, nil)
	e := h.engine

	assert.Zero(t, e.straddleWeight(25000, 1000, at(10, 0)))
	assert.Equal(t, 500.0, e.straddleWeight(25000, 1500, at(10, 1)))
	assert.Zero(t, e.straddleWeight(25050, 900, at(10, 2)), "ATM moved")
	assert.Equal(t, 100.0, e.straddleWeight(25050, 1000, at(10, 3)))
	assert.Zero(t, e.straddleWeight(25050, 2000, at(10, 3).AddDate(0, 0, 1)), "new day")
}
