// Package logging builds the zerolog logger shared by every component and
// the event helpers used for entries, exits, signal transitions and orders.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"nifty-strangler/pkg/utils"
)

// Config controls where log lines go.
type Config struct {
	Level      string
	Console    io.Writer // nil disables console output
	FilePath   string    // empty disables the rotating file
	MaxSize    int       // megabytes
	MaxBackups int
	MaxAge     int // days
}

// New creates a logger that writes human-readable lines to the console and
// JSON lines to a rotating file. Timestamps are in exchange time.
func New(cfg Config) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:         cfg.Console,
			TimeFormat:  "15:04:05",
			FormatLevel: formatLevel,
		})
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				LocalTime:  true,
				Compress:   true,
			})
		}
	}

	var w io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(level).
		Hook(istTimestamp{})
}

// istTimestamp stamps every event in IST regardless of the host timezone.
type istTimestamp struct{}

func (istTimestamp) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Time(zerolog.TimestampFieldName, time.Now().In(utils.IndiaLocation))
}

func formatLevel(i interface{}) string {
	switch i {
	case "debug":
		return "\033[36mDBG\033[0m"
	case "info":
		return "\033[32mINF\033[0m"
	case "warn":
		return "\033[33mWRN\033[0m"
	case "error":
		return "\033[31mERR\033[0m"
	}
	if s, ok := i.(string); ok {
		return s
	}
	return "???"
}

// WithComponent tags the logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithPosition adds a position ID to the logger context.
func WithPosition(logger zerolog.Logger, positionID string) zerolog.Logger {
	return logger.With().Str("position_id", positionID).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogEntry logs a confirmed strangle entry.
func LogEntry(logger zerolog.Logger, positionID string, callStrike, putStrike, callPremium, putPremium float64, slot int) {
	logger.Info().
		Str("event", "entry").
		Str("position_id", positionID).
		Float64("call_strike", callStrike).
		Float64("put_strike", putStrike).
		Float64("credit", callPremium+putPremium).
		Int("slot", slot).
		Msg("Strangle entered")
}

// LogExit logs a closed strangle with its realized P&L.
func LogExit(logger zerolog.Logger, positionID, reason string, pnl float64) {
	e := logger.Info()
	if pnl < 0 {
		e = logger.Warn()
	}
	e.Str("event", "exit").
		Str("position_id", positionID).
		Str("reason", reason).
		Float64("pnl", pnl).
		Msg("Strangle closed")
}

// LogSignal logs a signal state transition. held is zero when the signal starts.
func LogSignal(logger zerolog.Logger, transition string, observed, reference float64, held time.Duration) {
	e := logger.Info().
		Str("event", "signal").
		Str("transition", transition).
		Float64("straddle", observed).
		Float64("reference", reference)
	if held > 0 {
		e = e.Dur("held", held)
	}
	e.Msg("Signal " + transition)
}

// LogOrder logs an order status change for one option leg.
func LogOrder(logger zerolog.Logger, orderID, tradingSymbol, side, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("tradingsymbol", tradingSymbol).
		Str("side", side).
		Str("status", status).
		Msg("Order " + status)
}

// LogAPICall logs a Kite API round trip at debug level, or a warning on failure.
func LogAPICall(logger zerolog.Logger, method string, took time.Duration, err error) {
	if err != nil {
		logger.Warn().Str("event", "api_call").Str("method", method).Dur("took", took).Err(err).Msg("Kite call failed")
		return
	}
	logger.Debug().Str("event", "api_call").Str("method", method).Dur("took", took).Msg("Kite call")
}
