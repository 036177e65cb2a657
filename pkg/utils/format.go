// Package utils holds the exchange clock, polling and display helpers shared
// across the engine and the CLI.
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatIndianCurrency renders rupees with lakh/crore grouping: ₹12,34,567.89.
// Any negative amount keeps its sign, even when it rounds to zero paise.
func FormatIndianCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	fixed := strconv.FormatFloat(amount, 'f', 2, 64)
	dot := strings.IndexByte(fixed, '.')
	return sign + "₹" + groupIndian(fixed[:dot]) + fixed[dot:]
}

// groupIndian puts a comma before the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var groups []string
	if len(head)%2 == 1 {
		groups = append(groups, head[:1])
		head = head[1:]
	}
	for ; head != ""; head = head[2:] {
		groups = append(groups, head[:2])
	}
	return strings.Join(append(groups, tail), ",")
}

// FormatPnL is FormatIndianCurrency with a leading + on gains.
func FormatPnL(pnl float64) string {
	if pnl > 0 {
		return "+" + FormatIndianCurrency(pnl)
	}
	return FormatIndianCurrency(pnl)
}

// FormatPercent formats a fraction (0.5) as a signed percentage (+50.00%).
func FormatPercent(fraction float64) string {
	if fraction > 0 {
		return fmt.Sprintf("+%.2f%%", fraction*100)
	}
	return fmt.Sprintf("%.2f%%", fraction*100)
}

// FormatDuration formats a signal hold time as "4m 05s".
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%dm %02ds", secs/60, secs%60)
}

// FormatExpiry renders an expiry as 20-Jan-2026.
func FormatExpiry(t time.Time) string {
	return t.Format("02-Jan-2006")
}

// FormatStrike renders 25600 as "25600" and 25612.5 as "25612.50".
func FormatStrike(strike float64) string {
	if strike == float64(int64(strike)) {
		return strconv.FormatInt(int64(strike), 10)
	}
	return strconv.FormatFloat(strike, 'f', 2, 64)
}
