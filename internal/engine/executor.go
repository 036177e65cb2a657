package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/store"
)

// ExitJournal records exit legs that filled before the whole exit did, so a
// restart does not buy the same leg twice.
type ExitJournal interface {
	SaveExitLeg(ctx context.Context, leg store.ExitLeg) error
	ClearExitLegs(ctx context.Context, positionID string) error
}

// LegExecutor places the two legs of a strangle through a broker.Executor.
//
// Entries sell the call first and the put second. When the put fails after the
// call filled, the call is bought back and a *errors.LegError reports the
// unwind, so a strangle is never recorded with one leg.
//
// Exits buy back both legs. A leg that filled on an exit attempt is remembered
// per position, together with the reason of the first attempt, so a retry
// only places the leg still open. With a journal the filled legs survive a
// restart.
type LegExecutor struct {
	exec    broker.Executor
	journal ExitJournal
	logger  zerolog.Logger

	mu    sync.Mutex
	exits map[string]*exitProgress
}

type exitProgress struct {
	reason models.ExitReason
	fills  map[models.OptionType]models.Fill
}

// NewLegExecutor creates a leg executor. journal may be nil.
func NewLegExecutor(exec broker.Executor, journal ExitJournal, logger zerolog.Logger) *LegExecutor {
	return &LegExecutor{
		exec:    exec,
		journal: journal,
		logger:  logging.WithComponent(logger, "legs"),
		exits:   make(map[string]*exitProgress),
	}
}

// Open sells both legs of cand. The returned fills are only meaningful when err is nil.
func (x *LegExecutor) Open(ctx context.Context, cand models.StrangleCandidate, lots, quantity int, tag string) (call, put models.Fill, err error) {
	log := logging.WithOperation(x.logger, "entry")

	call, err = x.exec.PlaceLeg(ctx, models.LegOrder{
		Symbol:        cand.Symbol,
		TradingSymbol: cand.CallSymbol,
		Strike:        cand.CallStrike,
		Expiry:        cand.Expiry,
		Type:          models.Call,
		Side:          models.OrderSideSell,
		Lots:          lots,
		Quantity:      quantity,
		RefPrice:      cand.CallPremium,
		Tag:           tag,
	})
	if err != nil {
		return models.Fill{}, models.Fill{}, errors.Wrap(err, "call leg")
	}

	put, err = x.exec.PlaceLeg(ctx, models.LegOrder{
		Symbol:        cand.Symbol,
		TradingSymbol: cand.PutSymbol,
		Strike:        cand.PutStrike,
		Expiry:        cand.Expiry,
		Type:          models.Put,
		Side:          models.OrderSideSell,
		Lots:          lots,
		Quantity:      quantity,
		RefPrice:      cand.PutPremium,
		Tag:           tag,
	})
	if err == nil {
		return call, put, nil
	}

	log.Error().Err(err).
		Str("call_order", call.OrderID).
		Float64("call_strike", cand.CallStrike).
		Msg("Put leg failed after call filled, unwinding call")

	_, unwindErr := x.buyBack(ctx, cand, models.Call, lots, quantity, call.Price, tag)
	if unwindErr != nil {
		log.Error().Err(unwindErr).Float64("call_strike", cand.CallStrike).
			Msg("Call unwind failed, naked short call left at broker")
		return call, models.Fill{}, errors.NewLegError("call", "put", false, errors.Join(err, unwindErr))
	}
	return call, models.Fill{}, errors.NewLegError("call", "put", true, err)
}

// Unwind buys back both legs of an entry that filled but could not be booked.
func (x *LegExecutor) Unwind(ctx context.Context, cand models.StrangleCandidate, lots, quantity int, call, put models.Fill, tag string) error {
	var errs []error
	for _, leg := range []struct {
		typ  models.OptionType
		fill models.Fill
	}{{models.Call, call}, {models.Put, put}} {
		if _, err := x.buyBack(ctx, cand, leg.typ, lots, quantity, leg.fill.Price, tag); err != nil {
			x.logger.Error().Err(err).Str("leg", legName(leg.typ)).
				Msg("Unwind failed, short leg left at broker")
			errs = append(errs, errors.Wrapf(err, "unwind %s leg", legName(leg.typ)))
		}
	}
	return errors.Join(errs...)
}

func (x *LegExecutor) buyBack(ctx context.Context, cand models.StrangleCandidate, typ models.OptionType, lots, quantity int, ref float64, tag string) (models.Fill, error) {
	strike, symbol := cand.CallStrike, cand.CallSymbol
	if typ == models.Put {
		strike, symbol = cand.PutStrike, cand.PutSymbol
	}
	return x.exec.PlaceLeg(ctx, models.LegOrder{
		Symbol:        cand.Symbol,
		TradingSymbol: symbol,
		Strike:        strike,
		Expiry:        cand.Expiry,
		Type:          typ,
		Side:          models.OrderSideBuy,
		Lots:          lots,
		Quantity:      quantity,
		RefPrice:      ref,
		Tag:           tag,
	})
}

// Close buys back both legs of pos using the marks as reference prices.
// reason is kept only when no earlier attempt on pos is pending.
func (x *LegExecutor) Close(ctx context.Context, pos models.Position, reason models.ExitReason, callRef, putRef float64, tag string) (call, put models.Fill, err error) {
	x.mu.Lock()
	progress := x.exits[pos.ID]
	if progress == nil {
		progress = &exitProgress{reason: reason, fills: make(map[models.OptionType]models.Fill)}
		x.exits[pos.ID] = progress
	}
	x.mu.Unlock()

	legs := []struct {
		typ    models.OptionType
		strike float64
		symbol string
		ref    float64
	}{
		{models.Call, pos.CallStrike, pos.CallSymbol, callRef},
		{models.Put, pos.PutStrike, pos.PutSymbol, putRef},
	}

	for _, leg := range legs {
		x.mu.Lock()
		_, filled := progress.fills[leg.typ]
		x.mu.Unlock()
		if filled {
			continue
		}

		fill, err := x.exec.PlaceLeg(ctx, models.LegOrder{
			Symbol:        pos.Symbol,
			TradingSymbol: leg.symbol,
			Strike:        leg.strike,
			Expiry:        pos.Expiry,
			Type:          leg.typ,
			Side:          models.OrderSideBuy,
			Lots:          pos.Lots,
			Quantity:      pos.Quantity(),
			RefPrice:      leg.ref,
			Tag:           tag,
		})
		if err != nil {
			x.mu.Lock()
			n := len(progress.fills)
			if n == 0 {
				delete(x.exits, pos.ID)
			}
			x.mu.Unlock()
			if n == 0 {
				return models.Fill{}, models.Fill{}, errors.Wrapf(err, "exit %s leg", legName(leg.typ))
			}
			return models.Fill{}, models.Fill{}, errors.NewLegError(legName(other(leg.typ)), legName(leg.typ), false, err)
		}

		x.mu.Lock()
		progress.fills[leg.typ] = fill
		x.mu.Unlock()
		x.record(ctx, store.ExitLeg{PositionID: pos.ID, Type: leg.typ, Fill: fill, Reason: progress.reason})
	}

	x.mu.Lock()
	call, put = progress.fills[models.Call], progress.fills[models.Put]
	delete(x.exits, pos.ID)
	x.mu.Unlock()

	if x.journal != nil {
		if err := x.journal.ClearExitLegs(ctx, pos.ID); err != nil {
			x.logger.Warn().Err(err).Str("position_id", pos.ID).Msg("Completed exit legs not cleared")
		}
	}
	return call, put, nil
}

func (x *LegExecutor) record(ctx context.Context, leg store.ExitLeg) {
	if x.journal == nil {
		return
	}
	if err := x.journal.SaveExitLeg(ctx, leg); err != nil {
		x.logger.Error().Err(err).
			Str("position_id", leg.PositionID).
			Str("leg", legName(leg.Type)).
			Msg("Filled exit leg not persisted")
	}
}

// Restore reloads exit legs filled before a restart.
func (x *LegExecutor) Restore(legs []store.ExitLeg) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, l := range legs {
		progress := x.exits[l.PositionID]
		if progress == nil {
			progress = &exitProgress{reason: l.Reason, fills: make(map[models.OptionType]models.Fill)}
			x.exits[l.PositionID] = progress
		}
		progress.fills[l.Type] = l.Fill
	}
}

// PendingExit reports the exit legs already filled for a position.
func (x *LegExecutor) PendingExit(positionID string) []models.OptionType {
	x.mu.Lock()
	defer x.mu.Unlock()
	progress := x.exits[positionID]
	if progress == nil {
		return nil
	}
	var out []models.OptionType
	for _, typ := range []models.OptionType{models.Call, models.Put} {
		if _, ok := progress.fills[typ]; ok {
			out = append(out, typ)
		}
	}
	return out
}

// MarkFilled replaces the marks of legs already bought back with their fill prices.
func (x *LegExecutor) MarkFilled(positionID string, m ledger.Mark) ledger.Mark {
	x.mu.Lock()
	defer x.mu.Unlock()
	if progress := x.exits[positionID]; progress != nil {
		if f, ok := progress.fills[models.Call]; ok {
			m.Call = f.Price
		}
		if f, ok := progress.fills[models.Put]; ok {
			m.Put = f.Price
		}
	}
	return m
}

// ExitInProgress reports whether a leg of pos was bought back on an exit
// that has not completed, and the reason that exit started with.
func (x *LegExecutor) ExitInProgress(positionID string) (models.ExitReason, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	progress := x.exits[positionID]
	if progress == nil || len(progress.fills) == 0 {
		return "", false
	}
	return progress.reason, true
}

func legName(t models.OptionType) string {
	if t == models.Put {
		return "put"
	}
	return "call"
}

func other(t models.OptionType) models.OptionType {
	if t == models.Put {
		return models.Call
	}
	return models.Put
}
