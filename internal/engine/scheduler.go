package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/logging"
	"nifty-strangler/pkg/utils"
)

// Ticker is the part of the engine the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context) (TickResult, error)
	OnMarketOpen(ctx context.Context, now time.Time)
	OnMarketClose(ctx context.Context, now time.Time)
}

// Scheduler calls Tick at a fixed interval from a single goroutine, so a tick
// in progress always finishes before the next one starts. Session transitions
// fire the open and close hooks.
type Scheduler struct {
	engine   Ticker
	hours    utils.MarketHours
	interval time.Duration
	clock    utils.Clock
	logger   zerolog.Logger

	open  bool
	ticks int
}

// NewScheduler creates a scheduler.
func NewScheduler(engine Ticker, hours utils.MarketHours, interval time.Duration, clock utils.Clock, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Scheduler{
		engine:   engine,
		hours:    hours,
		interval: interval,
		clock:    clock,
		logger:   logging.WithComponent(logger, "scheduler"),
	}
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	s.step(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("ticks", s.ticks).Msg("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

func (s *Scheduler) step(ctx context.Context) {
	now := s.clock.Now()
	open := s.hours.IsOpen(now)

	switch {
	case open && !s.open:
		s.engine.OnMarketOpen(ctx, now)
	case !open && s.open:
		s.engine.OnMarketClose(ctx, now)
	}
	s.open = open

	if !open {
		return
	}
	if ctx.Err() != nil {
		return
	}

	s.ticks++
	res, err := s.engine.Tick(ctx)
	if err != nil {
		s.logger.Error().Err(err).Time("at", res.At).Msg("Tick failed")
		return
	}

	ev := s.logger.Info().
		Float64("spot", res.Spot).
		Float64("straddle", res.Straddle).
		Float64("reference", res.Reference).
		Bool("signal", res.Signal.Active).
		Int("exits", len(res.Exited))
	if res.Entered != nil {
		ev = ev.Str("entered", res.Entered.ID)
	}
	if res.Skipped != "" {
		ev = ev.Str("skipped", res.Skipped)
	}
	ev.Msg("Tick")
}
