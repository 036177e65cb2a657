package signal

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/pkg/utils"
)

type recordingSink struct {
	events []Event
}

func (s *recordingSink) OnSignalEvent(ev Event) {
	s.events = append(s.events, ev)
}

func (s *recordingSink) kinds() []EventKind {
	out := make([]EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func defaultWindows() []Window {
	return []Window{
		{Name: "morning", Start: utils.MustTimeOfDay("09:30"), End: utils.MustTimeOfDay("13:15"), MaxTrades: 1},
		{Name: "afternoon", Start: utils.MustTimeOfDay("13:15"), End: utils.MustTimeOfDay("15:15"), MaxTrades: 1},
	}
}

func newTestTracker(sink EventSink) *Tracker {
	return NewTracker(Config{RequiredDuration: 300 * time.Second, Windows: defaultWindows()}, sink, zerolog.Nop())
}

func at(hh, mm int) time.Time {
	return time.Date(2026, 1, 6, hh, mm, 0, 0, utils.IndiaLocation)
}

// feed sends (observed, reference) once a second for n seconds starting at start
// and returns the index of the first ready tick, or -1.
func feed(tr *Tracker, start time.Time, n int, observed, reference float64) int {
	first := -1
	for i := 0; i < n; i++ {
		st := tr.Update(observed, reference, start.Add(time.Duration(i)*time.Second))
		if st.Ready && first < 0 {
			first = i
		}
	}
	return first
}

func TestUpdate_ReadyAfterRequiredDuration(t *testing.T) {
	tr := newTestTracker(nil)
	start := at(10, 0)

	for i := 0; i < 300; i++ {
		st := tr.Update(5, 3, start.Add(time.Duration(i)*time.Second))
		require.False(t, st.Ready, "tick %d", i)
		require.True(t, st.Active)
		require.Equal(t, "morning", st.Window)
	}
	st := tr.Update(5, 3, start.Add(300*time.Second))
	assert.True(t, st.Ready)
	assert.Equal(t, 300*time.Second, st.Held)
	assert.True(t, tr.Readiness(start.Add(300*time.Second)))
}

func TestUpdate_SingleViolationResetsDuration(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	start := at(10, 0)

	feed(tr, start, 200, 5, 3)
	st := tr.Update(3, 5, start.Add(200*time.Second))
	assert.False(t, st.Active)
	assert.Zero(t, st.Held)

	resume := start.Add(201 * time.Second)
	assert.Equal(t, 300, feed(tr, resume, 400, 5, 3))

	assert.Equal(t, []EventKind{EventStarted, EventBroken, EventStarted}, sink.kinds())
	assert.False(t, sink.events[1].Reached)
	assert.Equal(t, 200*time.Second, sink.events[1].Held)
}

func TestUpdate_EqualValuesBreakSignal(t *testing.T) {
	tr := newTestTracker(nil)
	tr.Update(5, 3, at(10, 0))
	st := tr.Update(4, 4, at(10, 1))
	assert.False(t, st.Active)
}

func TestReadiness_RequiresWindow(t *testing.T) {
	tr := newTestTracker(nil)

	assert.Equal(t, -1, feed(tr, at(9, 15), 600, 5, 3), "before first window")

	tr2 := newTestTracker(nil)
	assert.Equal(t, -1, feed(tr2, at(15, 10), 900, 5, 3), "window closes at 15:15")
}

func TestRecordTrade_ConsumesQuotaAndResetsSignal(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)
	start := at(10, 0)

	require.Equal(t, 300, feed(tr, start, 301, 5, 3))
	require.NoError(t, tr.RecordTrade("morning", start.Add(301*time.Second)))

	snap := tr.Snapshot()
	assert.False(t, snap.Signal.Active)
	assert.Equal(t, 1, snap.Windows.Trades["morning"])
	assert.Equal(t, 1, snap.Windows.DayTrades)
	require.NotNil(t, snap.Windows.LastTradeAt)

	// Sustained again but the morning quota is spent.
	assert.Equal(t, -1, feed(tr, start.Add(10*time.Minute), 900, 5, 3))

	// The afternoon window has its own quota.
	tr.Update(3, 5, at(13, 19))
	assert.Equal(t, 300, feed(tr, at(13, 20), 400, 5, 3))

	assert.Contains(t, sink.kinds(), EventTraded)
	assert.Error(t, tr.RecordTrade("evening", at(14, 0)))
}

func TestReadiness_DayQuota(t *testing.T) {
	tr := NewTracker(Config{RequiredDuration: 300 * time.Second, Windows: defaultWindows(), MaxTradesPerDay: 1},
		nil, zerolog.Nop())

	require.Equal(t, 300, feed(tr, at(10, 0), 301, 5, 3))
	require.NoError(t, tr.RecordTrade("morning", at(10, 6)))
	assert.Equal(t, -1, feed(tr, at(13, 20), 600, 5, 3))
}

func TestUpdate_DailyReset(t *testing.T) {
	sink := &recordingSink{}
	tr := newTestTracker(sink)

	feed(tr, at(10, 0), 301, 5, 3)
	require.NoError(t, tr.RecordTrade("morning", at(10, 6)))
	tr.Update(5, 3, at(15, 29))

	next := at(10, 0).AddDate(0, 0, 1)
	st := tr.Update(5, 3, next)
	assert.Equal(t, 0, st.Trades["morning"])
	assert.Equal(t, 0, st.DayTrades)
	assert.Zero(t, st.Held, "signal restarted on the new day")
	assert.Contains(t, sink.kinds(), EventDayReset)

	assert.Equal(t, 299, feed(tr, next.Add(time.Second), 400, 5, 3))
}

func TestRestore_KeepsSameDayCounters(t *testing.T) {
	tr := newTestTracker(nil)
	tr.Restore(WindowState{Day: utils.SessionDate(at(9, 0)), Trades: map[string]int{"morning": 1}, DayTrades: 1})

	assert.Equal(t, -1, feed(tr, at(10, 0), 600, 5, 3))

	stale := newTestTracker(nil)
	stale.Restore(WindowState{Day: utils.SessionDate(at(9, 0)).AddDate(0, 0, -1), Trades: map[string]int{"morning": 1}})
	assert.Equal(t, 300, feed(stale, at(10, 0), 400, 5, 3))
}

func TestNextWindowStart(t *testing.T) {
	tr := newTestTracker(nil)

	next, ok := tr.NextWindowStart(at(9, 0))
	require.True(t, ok)
	assert.Equal(t, at(9, 30), next)

	next, ok = tr.NextWindowStart(at(11, 0))
	require.True(t, ok)
	assert.Equal(t, at(13, 15), next)

	_, ok = tr.NextWindowStart(at(14, 0))
	assert.False(t, ok)

	tr.Update(1, 2, at(9, 0))
	tr.Restore(WindowState{Day: utils.SessionDate(at(9, 0)), Trades: map[string]int{"afternoon": 1}})
	_, ok = tr.NextWindowStart(at(11, 0))
	assert.False(t, ok, "afternoon quota already used")
}

// Property: Feeding (5, 3) once a second with a single (3, 5) at tick k makes the
// tracker ready exactly 300s after the last restart of the condition.
func TestProperty_HardResetDiscardsDuration(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("first ready tick follows the last break by the required duration", prop.ForAll(
		func(k int) bool {
			tr := newTestTracker(nil)
			start := at(10, 0)
			first := -1
			for i := 0; i < 700; i++ {
				obs, ref := 5.0, 3.0
				if i == k {
					obs, ref = 3, 5
				}
				st := tr.Update(obs, ref, start.Add(time.Duration(i)*time.Second))
				if i == k && st.Ready {
					return false
				}
				if st.Ready && first < 0 {
					first = i
				}
			}
			want := 300
			if k <= 300 {
				want = k + 301
			}
			return first == want
		},
		gen.IntRange(0, 390),
	))

	properties.TestingRun(t)
}
