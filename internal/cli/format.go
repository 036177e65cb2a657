package cli

import (
	"fmt"
	"math"
	"time"

	"nifty-strangler/internal/pricing"
	"nifty-strangler/pkg/utils"
)

// FormatIV renders an IV result as a percentage, or its failure reason.
func FormatIV(iv pricing.IVResult) string {
	if !iv.Found {
		return "- (" + iv.Reason + ")"
	}
	return fmt.Sprintf("%.2f%%", iv.Value*100)
}

// FormatDelta renders a delta with three decimals.
func FormatDelta(delta float64) string {
	return fmt.Sprintf("%+.3f", delta)
}

// FormatOI formats open interest in compact form.
func FormatOI(oi int64) string {
	switch {
	case oi >= 10000000:
		return fmt.Sprintf("%.2f Cr", float64(oi)/10000000)
	case oi >= 100000:
		return fmt.Sprintf("%.2f L", float64(oi)/100000)
	case oi >= 1000:
		return fmt.Sprintf("%.2f K", float64(oi)/1000)
	}
	return fmt.Sprintf("%d", oi)
}

// FormatTime formats a time in IST.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("15:04:05")
}

// FormatDateTime formats a datetime in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04:05")
}

// ShortID truncates a position id for tables.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// FormatLakhs formats a rupee amount in lakhs.
func FormatLakhs(amount float64) string {
	lakhs := amount / 100000
	if lakhs < 0 {
		return fmt.Sprintf("-%.2f L", math.Abs(lakhs))
	}
	return fmt.Sprintf("%.2f L", lakhs)
}
