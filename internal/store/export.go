package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// PositionRow is the CSV shape of a closed position.
type PositionRow struct {
	ID           string  `csv:"id"`
	Symbol       string  `csv:"symbol"`
	Expiry       string  `csv:"expiry"`
	CallStrike   float64 `csv:"call_strike"`
	PutStrike    float64 `csv:"put_strike"`
	Lots         int     `csv:"lots"`
	Quantity     int     `csv:"quantity"`
	Window       string  `csv:"window"`
	Slot         int     `csv:"slot"`
	EntryAt      string  `csv:"entry_at"`
	EntrySpot    float64 `csv:"entry_spot"`
	EntryCall    float64 `csv:"entry_call_premium"`
	EntryPut     float64 `csv:"entry_put_premium"`
	EntryCallDel float64 `csv:"entry_call_delta"`
	EntryPutDel  float64 `csv:"entry_put_delta"`
	MaxProfit    float64 `csv:"max_profit"`
	ExitAt       string  `csv:"exit_at"`
	ExitCall     float64 `csv:"exit_call_premium"`
	ExitPut      float64 `csv:"exit_put_premium"`
	ExitReason   string  `csv:"exit_reason"`
	RealizedPnL  float64 `csv:"realized_pnl"`
	PnLPercent   float64 `csv:"pnl_percent"`
}

// SignalEventRow is the CSV shape of a signal transition.
type SignalEventRow struct {
	At        string  `csv:"at"`
	Kind      string  `csv:"kind"`
	StartedAt string  `csv:"started_at"`
	HeldSecs  float64 `csv:"held_seconds"`
	Reached   bool    `csv:"reached_threshold"`
	Observed  float64 `csv:"observed"`
	Reference float64 `csv:"reference"`
	Window    string  `csv:"window"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(utils.IndiaLocation).Format(exportTimeLayout)
}

// NewPositionRow flattens a position for export.
func NewPositionRow(p models.Position) PositionRow {
	row := PositionRow{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Expiry:       utils.FormatExpiry(p.Expiry),
		CallStrike:   p.CallStrike,
		PutStrike:    p.PutStrike,
		Lots:         p.Lots,
		Quantity:     p.Quantity(),
		Window:       p.Window,
		Slot:         p.Slot,
		EntryAt:      formatTime(p.EntryAt),
		EntrySpot:    p.EntrySpot,
		EntryCall:    p.EntryCallPremium,
		EntryPut:     p.EntryPutPremium,
		EntryCallDel: p.EntryCallDelta,
		EntryPutDel:  p.EntryPutDelta,
		MaxProfit:    p.MaxProfit,
		ExitCall:     p.ExitCallPremium,
		ExitPut:      p.ExitPutPremium,
		ExitReason:   string(p.ExitReason),
		RealizedPnL:  p.RealizedPnL,
	}
	if p.ExitAt != nil {
		row.ExitAt = formatTime(*p.ExitAt)
	}
	if p.MaxProfit > 0 {
		row.PnLPercent = p.RealizedPnL / p.MaxProfit * 100
	}
	return row
}

// ExportPositions writes closed positions entered in [from, to] to a CSV file
// under dir and returns its path and row count. Zero times leave that bound open.
func ExportPositions(ctx context.Context, ds DataStore, dir string, from, to time.Time, now time.Time) (string, int, error) {
	positions, err := ds.GetPositions(ctx, PositionFilter{
		Status:    models.PositionClosed,
		StartDate: from,
		EndDate:   to,
	})
	if err != nil {
		return "", 0, err
	}

	rows := make([]PositionRow, len(positions))
	for i, p := range positions {
		rows[i] = NewPositionRow(p)
	}

	path := filepath.Join(dir, fmt.Sprintf("strangles_%s.csv", now.In(utils.IndiaLocation).Format("20060102_150405")))
	if err := writeCSV(dir, path, &rows); err != nil {
		return "", 0, err
	}
	return path, len(rows), nil
}

// ExportSignalEvents writes the signal history in [from, to] to a CSV file under dir.
func ExportSignalEvents(ctx context.Context, ds DataStore, dir string, from, to time.Time, now time.Time) (string, int, error) {
	events, err := ds.GetSignalEvents(ctx, EventFilter{StartDate: from, EndDate: to})
	if err != nil {
		return "", 0, err
	}

	rows := make([]SignalEventRow, len(events))
	for i, ev := range events {
		rows[i] = SignalEventRow{
			At:        formatTime(ev.At),
			Kind:      string(ev.Kind),
			StartedAt: formatTime(ev.StartedAt),
			HeldSecs:  ev.Held.Seconds(),
			Reached:   ev.Reached,
			Observed:  ev.Observed,
			Reference: ev.Reference,
			Window:    ev.Window,
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("signals_%s.csv", now.In(utils.IndiaLocation).Format("20060102_150405")))
	if err := writeCSV(dir, path, &rows); err != nil {
		return "", 0, err
	}
	return path, len(rows), nil
}

func writeCSV(dir, path string, rows interface{}) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(rows, f); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
