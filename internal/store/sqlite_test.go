package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/signal"
	"nifty-strangler/pkg/utils"
)

var (
	day1   = time.Date(2026, 1, 6, 0, 0, 0, 0, utils.IndiaLocation)
	expiry = time.Date(2026, 1, 20, 0, 0, 0, 0, utils.IndiaLocation)
)

func at(h, m int) time.Time {
	return time.Date(2026, 1, 6, h, m, 0, 0, utils.IndiaLocation)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPosition(id string, entry time.Time) models.Position {
	return models.Position{
		ID: id, Symbol: "NIFTY", Expiry: expiry,
		CallStrike: 25900, PutStrike: 24100,
		CallSymbol: "NIFTY26JAN25900CE", PutSymbol: "NIFTY26JAN24100PE",
		Lots: 1, LotSize: 65,
		EntryCallPremium: 50, EntryPutPremium: 40, EntrySpot: 25010,
		EntryAt: entry, EntryCallDelta: 0.071, EntryPutDelta: -0.068,
		Slot: 1, MaxProfit: 90 * 65, Window: "morning",
		Status: models.PositionOpen,
	}
}

func TestPositions_SaveAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := testPosition("p1", at(10, 5))
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionOpen, got.Status)
	assert.True(t, got.EntryAt.Equal(pos.EntryAt))
	assert.Nil(t, got.ExitAt)
	assert.Equal(t, "morning", got.Window)
	assert.Equal(t, 65, got.Quantity())

	exitAt := at(14, 0)
	pos.Status = models.PositionClosed
	pos.ExitCallPremium = 20
	pos.ExitPutPremium = 15
	pos.ExitAt = &exitAt
	pos.ExitReason = models.ExitProfitTarget
	pos.RealizedPnL = 55 * 65
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err = s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, got.Status)
	require.NotNil(t, got.ExitAt)
	assert.True(t, got.ExitAt.Equal(exitAt))
	assert.Equal(t, models.ExitProfitTarget, got.ExitReason)
	assert.InDelta(t, 3575.0, got.RealizedPnL, 1e-9)

	_, err = s.GetPosition(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestGetPositions_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePosition(ctx, testPosition("b", at(13, 30))))
	require.NoError(t, s.SavePosition(ctx, testPosition("a", at(10, 0))))
	closed := testPosition("c", at(9, 45))
	closed.Status = models.PositionClosed
	require.NoError(t, s.SavePosition(ctx, closed))

	open, err := s.GetPositions(ctx, PositionFilter{Status: models.PositionOpen})
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "a", open[0].ID)
	assert.Equal(t, "b", open[1].ID)

	all, err := s.GetPositions(ctx, PositionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWindowState_PerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last := at(13, 40)
	require.NoError(t, s.SaveWindowState(ctx, signal.WindowState{
		Day:         day1,
		Trades:      map[string]int{"morning": 1, "afternoon": 1},
		DayTrades:   2,
		LastTradeAt: &last,
	}))

	ws, err := s.LoadWindowState(ctx, at(15, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Trades["morning"])
	assert.Equal(t, 1, ws.Trades["afternoon"])
	assert.Equal(t, 2, ws.DayTrades)
	require.NotNil(t, ws.LastTradeAt)
	assert.True(t, ws.LastTradeAt.Equal(last))

	next, err := s.LoadWindowState(ctx, day1.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, next.Trades)
	assert.Zero(t, next.DayTrades)
}

func TestCapitalState_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.LoadCapitalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Slots)
	assert.True(t, empty.Day.IsZero())

	require.NoError(t, s.SaveCapitalState(ctx, CapitalState{
		Slots: map[int]string{1: "a", 3: "b"}, EntriesToday: 2, Day: day1,
	}))
	require.NoError(t, s.SaveCapitalState(ctx, CapitalState{
		Slots: map[int]string{3: "b"}, EntriesToday: 2, Day: day1,
	}))

	cs, err := s.LoadCapitalState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{3: "b"}, cs.Slots)
	assert.Equal(t, 2, cs.EntriesToday)
	assert.True(t, cs.Day.Equal(day1))
}

// Property: any set of held slots survives a save and reload.
func TestProperty_CapitalSlotsPersist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("reloaded slots equal saved slots", prop.ForAll(
		func(held []bool, entries int) bool {
			slots := make(map[int]string)
			for i, h := range held {
				if h {
					slots[i+1] = "pos-" + string(rune('a'+i))
				}
			}
			if err := s.SaveCapitalState(ctx, CapitalState{Slots: slots, EntriesToday: entries, Day: day1}); err != nil {
				return false
			}
			cs, err := s.LoadCapitalState(ctx)
			if err != nil || len(cs.Slots) != len(slots) || cs.EntriesToday != entries {
				return false
			}
			for k, v := range slots {
				if cs.Slots[k] != v {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Bool()),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func TestSignalEvents_SinkAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.OnSignalEvent(signal.Event{Kind: signal.EventStarted, At: at(9, 40), StartedAt: at(9, 40),
		Required: 5 * time.Minute, Observed: 181, Reference: 180, Window: "morning"})
	s.OnSignalEvent(signal.Event{Kind: signal.EventBroken, At: at(9, 43), StartedAt: at(9, 40),
		Held: 3 * time.Minute, Required: 5 * time.Minute, Observed: 179, Reference: 180, Window: "morning"})
	s.OnSignalEvent(signal.Event{Kind: signal.EventTraded, At: at(10, 0), StartedAt: at(9, 50),
		Held: 10 * time.Minute, Required: 5 * time.Minute, Reached: true, Window: "morning"})

	events, err := s.GetSignalEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, signal.EventTraded, events[0].Kind)
	assert.True(t, events[0].Reached)
	assert.Equal(t, 10*time.Minute, events[0].Held)

	broken, err := s.GetSignalEvents(ctx, EventFilter{Kind: signal.EventBroken})
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, 3*time.Minute, broken[0].Held)
	assert.False(t, broken[0].Reached)
	assert.True(t, broken[0].StartedAt.Equal(at(9, 40)))
}

func TestTradeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogTrade(ctx, models.TradeLogEntry{At: at(10, 0), Action: models.ActionEntry, PositionID: "p1", Details: "sold 25900CE/24100PE"}))
	require.NoError(t, s.LogTrade(ctx, models.TradeLogEntry{At: at(14, 0), Action: models.ActionExit, PositionID: "p1", Details: "profit target"}))
	require.NoError(t, s.LogTrade(ctx, models.TradeLogEntry{At: at(14, 5), Action: models.ActionEntry, PositionID: "p2"}))

	entries, err := s.GetTradeLog(ctx, TradeLogFilter{PositionID: "p1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionExit, entries[0].Action)

	entryRows, err := s.GetTradeLog(ctx, TradeLogFilter{Action: models.ActionEntry, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entryRows, 1)
	assert.Equal(t, "p2", entryRows[0].PositionID)
}

func TestExitLegs_SaveReplaceClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExitLeg(ctx, ExitLeg{
		PositionID: "p1", Type: models.Call, Reason: models.ExitProfitTarget,
		Fill: models.Fill{OrderID: "A1", Price: 4.5, Quantity: 65, FilledAt: at(10, 7)},
	}))
	require.NoError(t, s.SaveExitLeg(ctx, ExitLeg{
		PositionID: "p1", Type: models.Call, Reason: models.ExitProfitTarget,
		Fill: models.Fill{OrderID: "A2", Price: 4.0, Quantity: 65, FilledAt: at(10, 8)},
	}))
	require.NoError(t, s.SaveExitLeg(ctx, ExitLeg{
		PositionID: "p2", Type: models.Put, Reason: models.ExitManual,
		Fill: models.Fill{OrderID: "B1", Price: 3.25, Quantity: 130},
	}))

	legs, err := s.GetExitLegs(ctx)
	require.NoError(t, err)
	require.Len(t, legs, 2, "a leg is stored once per position")
	assert.Equal(t, "p1", legs[0].PositionID)
	assert.Equal(t, models.Call, legs[0].Type)
	assert.Equal(t, "A2", legs[0].Fill.OrderID)
	assert.Equal(t, 4.0, legs[0].Fill.Price)
	assert.True(t, at(10, 8).Equal(legs[0].Fill.FilledAt))
	assert.Equal(t, models.ExitProfitTarget, legs[0].Reason)
	assert.Equal(t, models.Put, legs[1].Type)
	assert.True(t, legs[1].Fill.FilledAt.IsZero())

	require.NoError(t, s.ClearExitLegs(ctx, "p1"))
	legs, err = s.GetExitLegs(ctx)
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, "p2", legs[0].PositionID)
}

func TestReferencePoints_ByDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReferencePoint(ctx, signal.ReferencePoint{At: at(9, 31), Price: 410, Weight: 1}))
	require.NoError(t, s.SaveReferencePoint(ctx, signal.ReferencePoint{At: at(9, 32), Price: 405, Weight: 2}))
	require.NoError(t, s.SaveReferencePoint(ctx, signal.ReferencePoint{At: at(9, 33).AddDate(0, 0, 1), Price: 380, Weight: 1}))

	points, err := s.GetReferencePoints(ctx, day1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 410.0, points[0].Price)
	assert.Equal(t, 2.0, points[1].Weight)
}

func TestLastRun(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.GetLastRun(RunTick).IsZero())
	require.NoError(t, s.SetLastRun(RunTick, at(10, 1)))
	assert.True(t, s.GetLastRun(RunTick).Equal(at(10, 1)))
}

func TestExportPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := testPosition("p1", at(10, 5))
	exitAt := at(14, 0)
	pos.Status = models.PositionClosed
	pos.ExitCallPremium, pos.ExitPutPremium = 20, 15
	pos.ExitAt = &exitAt
	pos.ExitReason = models.ExitProfitTarget
	pos.RealizedPnL = 55 * 65
	require.NoError(t, s.SavePosition(ctx, pos))
	require.NoError(t, s.SavePosition(ctx, testPosition("p2", at(13, 20))))

	dir := filepath.Join(t.TempDir(), "exports")
	path, n, err := ExportPositions(ctx, s, dir, time.Time{}, time.Time{}, at(16, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "strangles_20260106_160000.csv", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var rows []PositionRow
	require.NoError(t, gocsv.UnmarshalFile(f, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0].ID)
	assert.Equal(t, "20-Jan-2026", rows[0].Expiry)
	assert.Equal(t, "2026-01-06 14:00:00", rows[0].ExitAt)
	assert.InDelta(t, 61.11, rows[0].PnLPercent, 0.01)
}

func TestExportSignalEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.OnSignalEvent(signal.Event{Kind: signal.EventStarted, At: at(9, 40), StartedAt: at(9, 40), Required: 5 * time.Minute})

	path, n, err := ExportSignalEvents(ctx, s, t.TempDir(), time.Time{}, time.Time{}, at(16, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
