package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrPollExhausted is returned when a polled state never settled.
var ErrPollExhausted = errors.New("poll horizon exhausted")

// PollConfig is a backoff schedule for polling remote state.
type PollConfig struct {
	Attempts int
	First    time.Duration
	Max      time.Duration
	Factor   float64
}

// FillPollConfig is the order-status poll horizon: roughly 30s of polling.
func FillPollConfig() PollConfig {
	return PollConfig{
		Attempts: 15,
		First:    500 * time.Millisecond,
		Max:      3 * time.Second,
		Factor:   1.5,
	}
}

// Delay is the wait after the given zero-based attempt.
func (c PollConfig) Delay(attempt int) time.Duration {
	d := float64(c.First) * math.Pow(c.Factor, float64(attempt))
	if d > float64(c.Max) {
		d = float64(c.Max)
	}
	return time.Duration(d)
}

// Poll calls check until it reports done, the attempts run out or ctx ends.
// An error from check counts as a transient failure and polling continues.
// When the horizon ends the last error, if any, is wrapped with ErrPollExhausted.
func Poll[T any](ctx context.Context, cfg PollConfig, check func() (T, bool, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		v, done, err := check()
		if err == nil && done {
			return v, nil
		}
		lastErr = err

		if attempt == cfg.Attempts-1 {
			break
		}
		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrPollExhausted, cfg.Attempts, lastErr)
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrPollExhausted, cfg.Attempts)
}
