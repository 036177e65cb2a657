// Package resilience guards broker calls so a failing API is backed off
// instead of being hit on every tick.
package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/pkg/utils"
)

// CircuitState is the breaker position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ErrCircuitOpen is returned without calling the broker while the circuit is open.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	Cooldown         time.Duration // open time before a probe call is let through
}

// CircuitBreaker counts consecutive broker failures on the clock the engine
// ticks on. Answers that are data rather than outages (an empty chain, a
// missing quote, a cancelled context) are not counted.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	clock  utils.Clock
	logger zerolog.Logger

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
	changedAt time.Time
	calls     int64
	failed    int64
	rejected  int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, clock utils.Clock, logger zerolog.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		config:    config,
		clock:     clock,
		logger:    logging.WithComponent(logger, "breaker").With().Str("breaker", name).Logger(),
		state:     CircuitClosed,
		changedAt: clock.Now(),
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(cb, ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn unless the circuit is open and returns its result.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}

	v, err := fn()
	switch {
	case err == nil:
		cb.succeeded()
		return v, nil
	case ctx.Err() != nil, isDataAnswer(err):
		cb.succeeded()
		return zero, err
	default:
		cb.failedCall(err)
		return zero, err
	}
}

func isDataAnswer(err error) bool {
	return errors.Is(err, errors.ErrEmptyChain) ||
		errors.Is(err, errors.ErrQuoteUnavailable) ||
		errors.Is(err, errors.ErrNoExpiry)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.calls++
	if cb.state != CircuitOpen {
		return nil
	}
	if wait := cb.config.Cooldown - cb.clock.Now().Sub(cb.openedAt); wait > 0 {
		cb.rejected++
		return errors.Wrapf(ErrCircuitOpen, "%s retry in %s", cb.name, wait.Round(time.Second))
	}
	cb.moveTo(CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) succeeded() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.moveTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) failedCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failed++
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.logger.Error().Err(err).Int("failures", cb.failures).Msg("Broker failing, backing off")
			cb.moveTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.moveTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) moveTo(state CircuitState) {
	if cb.state == state {
		return
	}
	now := cb.clock.Now()
	cb.logger.Warn().Str("from", string(cb.state)).Str("to", string(state)).Msg("Circuit state changed")
	if state == CircuitOpen {
		cb.openedAt = now
	}
	cb.state = state
	cb.changedAt = now
	cb.failures = 0
	cb.successes = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats is a snapshot of breaker counters.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	Calls           int64        `json:"calls"`
	Failures        int64        `json:"failures"`
	Rejected        int64        `json:"rejected"`
	CurrentFailures int          `json:"current_failures"`
	Since           time.Time    `json:"since"`
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		Calls:           cb.calls,
		Failures:        cb.failed,
		Rejected:        cb.rejected,
		CurrentFailures: cb.failures,
		Since:           cb.changedAt,
	}
}
