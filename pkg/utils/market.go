package utils

import (
	"fmt"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Clock is the single authoritative time source for window and day-boundary logic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in exchange-local time.
type SystemClock struct{}

// Now returns the current time in IST.
func (SystemClock) Now() time.Time {
	return time.Now().In(IndiaLocation)
}

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c *FixedClock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.T = t
}

// TimeOfDay is minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// TimeOfDayOf returns the exchange-local time of day of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	local := t.In(IndiaLocation)
	return TimeOfDay(local.Hour()*60 + local.Minute())
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// On returns the instant of t on the exchange-local date of day.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.In(IndiaLocation).Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, IndiaLocation)
}

// SessionDate truncates t to the exchange-local calendar day.
func SessionDate(t time.Time) time.Time {
	y, m, d := t.In(IndiaLocation).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, IndiaLocation)
}

// SameSession reports whether a and b fall on the same exchange-local day.
func SameSession(a, b time.Time) bool {
	return SessionDate(a).Equal(SessionDate(b))
}

// DaysBetween counts calendar days from a to b in exchange-local time.
func DaysBetween(a, b time.Time) int {
	return int(SessionDate(b).Sub(SessionDate(a)).Hours() / 24)
}

// MarketHours describes the regular NSE session.
type MarketHours struct {
	Open     TimeOfDay
	Close    TimeOfDay
	Holidays map[string]bool // "2006-01-02" keys
}

// DefaultMarketHours returns 09:15 - 15:30 IST.
func DefaultMarketHours() MarketHours {
	return MarketHours{Open: MustTimeOfDay("09:15"), Close: MustTimeOfDay("15:30")}
}

// WithHolidays returns a copy of h closed on the given "YYYY-MM-DD" dates.
func (h MarketHours) WithHolidays(dates []string) (MarketHours, error) {
	out := h
	out.Holidays = make(map[string]bool, len(h.Holidays)+len(dates))
	for k := range h.Holidays {
		out.Holidays[k] = true
	}
	for _, d := range dates {
		day, err := time.ParseInLocation("2006-01-02", d, IndiaLocation)
		if err != nil {
			return h, fmt.Errorf("parsing holiday %q: %w", d, err)
		}
		out.Holidays[day.Format("2006-01-02")] = true
	}
	return out, nil
}

// IsTradingDay reports whether t's session is neither a weekend nor a holiday.
func (h MarketHours) IsTradingDay(t time.Time) bool {
	local := t.In(IndiaLocation)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return !h.Holidays[local.Format("2006-01-02")]
}

// IsOpen returns true if the market is open at t.
func (h MarketHours) IsOpen(t time.Time) bool {
	if !h.IsTradingDay(t) {
		return false
	}
	tod := TimeOfDayOf(t)
	return tod >= h.Open && tod <= h.Close
}

// NextOpen returns the next market opening time after t.
func (h MarketHours) NextOpen(t time.Time) time.Time {
	next := h.Open.On(t)
	if !t.Before(next) {
		next = next.AddDate(0, 0, 1)
	}

	// Skip weekends and holidays
	for !h.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// CloseOn returns the market close instant on t's session.
func (h MarketHours) CloseOn(t time.Time) time.Time {
	return h.Close.On(t)
}
