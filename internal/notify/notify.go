// Package notify delivers trade alerts (entries, exits, unwinds, daily
// summaries) to external channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/security"
	"nifty-strangler/pkg/utils"
)

// Kind classifies a notification.
type Kind string

const (
	KindEntry   Kind = "entry"
	KindExit    Kind = "exit"
	KindUnwind  Kind = "unwind"
	KindError   Kind = "error"
	KindSummary Kind = "summary"
)

// Level filters which kinds are delivered.
type Level string

const (
	LevelAll        Level = "all"
	LevelTradesOnly Level = "trades_only"
	LevelErrorsOnly Level = "errors_only"
)

// Notification is one alert.
type Notification struct {
	Kind    Kind
	Title   string
	Message string
	Data    map[string]interface{}
	At      time.Time
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans a notification out to every channel that passes the
// level filter. A failing channel does not stop the others.
type MultiNotifier struct {
	mu       sync.RWMutex
	channels []Channel
	level    Level
	logger   zerolog.Logger
}

// NewMultiNotifier creates a notifier with no channels.
func NewMultiNotifier(level Level, logger zerolog.Logger) *MultiNotifier {
	if level == "" {
		level = LevelAll
	}
	return &MultiNotifier{level: level, logger: logger.With().Str("component", "notify").Logger()}
}

// AddChannel adds a delivery channel.
func (m *MultiNotifier) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels returns the configured channel names.
func (m *MultiNotifier) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

func (m *MultiNotifier) shouldSend(kind Kind) bool {
	switch m.level {
	case LevelTradesOnly:
		return kind == KindEntry || kind == KindExit || kind == KindUnwind
	case LevelErrorsOnly:
		return kind == KindError || kind == KindUnwind
	default:
		return true
	}
}

// Notify delivers n to every channel.
func (m *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	if !m.shouldSend(n.Kind) {
		return nil
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}

	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if err := ch.Send(ctx, n); err != nil {
			m.logger.Warn().Err(err).Str("channel", ch.Name()).Str("kind", string(n.Kind)).Msg("Notification failed")
			errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Entry describes a newly opened strangle.
func Entry(pos models.Position) Notification {
	return Notification{
		Kind:  KindEntry,
		Title: fmt.Sprintf("Strangle sold: %s CE / %s PE", utils.FormatStrike(pos.CallStrike), utils.FormatStrike(pos.PutStrike)),
		Message: fmt.Sprintf("%s %s, credit %.2f x %d, max profit %s, slot %d (%s window)",
			pos.Symbol, utils.FormatExpiry(pos.Expiry), pos.EntryCredit(), pos.Quantity(),
			utils.FormatIndianCurrency(pos.MaxProfit), pos.Slot, pos.Window),
		Data: map[string]interface{}{
			"position_id":  pos.ID,
			"call_strike":  pos.CallStrike,
			"put_strike":   pos.PutStrike,
			"call_premium": pos.EntryCallPremium,
			"put_premium":  pos.EntryPutPremium,
			"slot":         pos.Slot,
		},
		At: pos.EntryAt,
	}
}

// Exit describes a closed strangle.
func Exit(pos models.Position) Notification {
	at := time.Time{}
	if pos.ExitAt != nil {
		at = *pos.ExitAt
	}
	return Notification{
		Kind:  KindExit,
		Title: fmt.Sprintf("Strangle closed (%s): %s", pos.ExitReason, utils.FormatPnL(pos.RealizedPnL)),
		Message: fmt.Sprintf("%s CE / %s PE bought back at %.2f + %.2f, entry credit %.2f",
			utils.FormatStrike(pos.CallStrike), utils.FormatStrike(pos.PutStrike),
			pos.ExitCallPremium, pos.ExitPutPremium, pos.EntryCredit()),
		Data: map[string]interface{}{
			"position_id":  pos.ID,
			"reason":       pos.ExitReason,
			"realized_pnl": pos.RealizedPnL,
		},
		At: at,
	}
}

// Unwind reports a failed two-leg order.
func Unwind(positionID string, err error, at time.Time) Notification {
	return Notification{
		Kind:    KindUnwind,
		Title:   "Strangle entry failed",
		Message: security.MaskSensitive(err.Error()),
		Data:    map[string]interface{}{"position_id": positionID},
		At:      at,
	}
}

// Failure reports an error that needs attention, e.g. a stuck exit.
func Failure(title string, err error, at time.Time) Notification {
	return Notification{Kind: KindError, Title: title, Message: security.MaskSensitive(err.Error()), At: at}
}

// Summary is the end-of-day report.
func Summary(day time.Time, tradesToday int, s ledger.Summary) Notification {
	return Notification{
		Kind:  KindSummary,
		Title: "Daily summary " + utils.FormatExpiry(day),
		Message: fmt.Sprintf("Entries today %d, open %d, closed %d (%d W / %d L)\nRealized %s, unrealized %s",
			tradesToday, s.Open, s.Closed, s.Wins, s.Losses,
			utils.FormatPnL(s.RealizedPnL), utils.FormatPnL(s.UnrealizedPnL)),
		Data: map[string]interface{}{
			"trades_today":   tradesToday,
			"realized_pnl":   s.RealizedPnL,
			"unrealized_pnl": s.UnrealizedPnL,
		},
		At: day,
	}
}
