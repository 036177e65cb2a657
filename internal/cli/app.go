package cli

import (
	"context"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/capital"
	"nifty-strangler/internal/chain"
	"nifty-strangler/internal/engine"
	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/notify"
	"nifty-strangler/internal/pricing"
	"nifty-strangler/internal/resilience"
	"nifty-strangler/internal/security"
	"nifty-strangler/internal/signal"
	"nifty-strangler/internal/store"
	"nifty-strangler/pkg/utils"
)

// openStore opens the SQLite store once per process.
func (a *App) openStore() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Storage.DBPath, a.Logger)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}

// kiteBroker builds the Kite adapter from credentials and trading settings.
func (a *App) kiteBroker() *broker.ZerodhaBroker {
	if a.kite != nil {
		return a.kite
	}
	cfg := a.Config
	a.kite = broker.NewZerodhaBroker(broker.ZerodhaConfig{
		APIKey:      cfg.Credentials.APIKey,
		AccessToken: cfg.Credentials.AccessToken,
		Symbol:      cfg.Trading.Symbol,
		SpotSymbol:  cfg.Trading.SpotSymbol,
		Exchange:    models.Exchange(cfg.Trading.Exchange),
		Product:     cfg.Trading.Product,
		StrikeStep:  cfg.Trading.StrikeStep,
		ChainWidth:  cfg.Trading.ChainWidth,
		RateLimit:   cfg.Trading.RateLimit,
		FillPoll:    utils.FillPollConfig(),
	}, a.Clock, a.Logger)
	return a.kite
}

// requireAuth fails fast when no access token is configured.
func (a *App) requireAuth() (*broker.ZerodhaBroker, error) {
	kite := a.kiteBroker()
	if !kite.IsAuthenticated() {
		return nil, errors.Wrap(errors.ErrNotAuthenticated, "run 'strangler auth url' and 'strangler auth login'")
	}
	return kite, nil
}

// marketData returns Kite market data behind a circuit breaker.
func (a *App) marketData() (*resilience.GuardedMarket, error) {
	kite, err := a.requireAuth()
	if err != nil {
		return nil, err
	}
	cb := resilience.NewCircuitBreaker("kite-market", resilience.CircuitBreakerConfig{
		FailureThreshold: a.Config.Trading.BreakerFails,
		SuccessThreshold: 1,
		Cooldown:         a.Config.Trading.BreakerPause,
	}, a.Clock, a.Logger)
	return resilience.GuardMarketData(kite, cb), nil
}

// selector builds the strike selector from the strategy settings.
func (a *App) selector() *chain.Selector {
	lower, upper := a.Config.DeltaBand()
	return chain.NewSelector(chain.SelectorConfig{
		StrikeStep:  a.Config.Trading.StrikeStep,
		TargetDelta: a.Config.Strategy.TargetDelta,
		BandLower:   lower,
		BandUpper:   upper,
	}, pricing.SpotCarry(a.Config.Greeks.RiskFreeRate, a.Config.Greeks.DividendYield), a.Logger)
}

// notifier builds the alert fan-out from the notify settings. A Telegram bot
// that cannot authenticate is logged and skipped.
func (a *App) notifier() *notify.MultiNotifier {
	cfg := a.Config.Notify
	m := notify.NewMultiNotifier(notify.Level(cfg.Level), a.Logger)
	if cfg.Terminal && a.Out != nil {
		m.AddChannel(notify.NewTerminalNotifier(a.Out, cfg.Bell))
	}
	if cfg.WebhookURL != "" {
		m.AddChannel(notify.NewWebhookNotifier(cfg.WebhookURL))
	}
	if token := a.Config.Credentials.TelegramToken; token != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(token, cfg.TelegramChatID)
		if err != nil {
			a.Logger.Warn().Str("error", security.MaskSensitive(err.Error())).Msg("Telegram alerts disabled")
		} else {
			m.AddChannel(tg)
		}
	}
	a.Logger.Debug().Strs("channels", m.Channels()).Msg("Alert channels configured")
	return m
}

// buildEngine wires every collaborator and restores persisted state.
func (a *App) buildEngine(ctx context.Context) (*engine.Engine, error) {
	cfg := a.Config

	hours, err := cfg.MarketHours()
	if err != nil {
		return nil, err
	}
	parsed, err := cfg.ParsedWindows()
	if err != nil {
		return nil, err
	}
	windows := make([]signal.Window, len(parsed))
	for i, w := range parsed {
		windows[i] = signal.Window{Name: w.Name, Start: w.Start, End: w.End, MaxTrades: w.MaxTrades}
	}

	ds, err := a.openStore()
	if err != nil {
		return nil, err
	}
	md, err := a.marketData()
	if err != nil {
		return nil, err
	}

	var market broker.MarketData = md
	var exec broker.Executor
	if cfg.IsPaperMode() {
		paper := broker.NewPaperBroker(broker.PaperBrokerConfig{
			Data:     md,
			Slippage: cfg.Trading.PaperSlippage,
			Clock:    a.Clock,
		}, a.Logger)
		market, exec = paper, paper
	} else {
		exec = a.kiteBroker()
	}

	tracker := signal.NewTracker(signal.Config{
		RequiredDuration: cfg.Strategy.SignalDuration,
		Windows:          windows,
		MaxTradesPerDay:  cfg.Strategy.MaxTradesPerDay,
	}, ds, a.Logger)

	eng := engine.New(engine.Config{
		Symbol:   cfg.Trading.Symbol,
		Lots:     cfg.Trading.Lots,
		LotSize:  cfg.Trading.LotSize,
		EntryDTE: cfg.Strategy.EntryDTE,
		Hours:    hours,
	}, engine.Deps{
		Market:    market,
		Executor:  exec,
		Selector:  a.selector(),
		Tracker:   tracker,
		Reference: signal.NewStraddleReference(),
		Capital:   capital.New(cfg.Capital.Total, cfg.Capital.Parts, cfg.Capital.MaxEntriesPerDay, a.Clock, a.Logger),
		Ledger: ledger.New(ledger.Config{
			ProfitTarget: cfg.Strategy.ProfitTarget,
			ExitDTE:      cfg.Strategy.ExitDTE,
			LotSize:      cfg.Trading.LotSize,
		}, a.Logger),
		Store:    ds,
		Notifier: a.notifier(),
		Clock:    a.Clock,
	}, a.Logger)

	if err := eng.Restore(ctx); err != nil {
		return nil, errors.Wrap(err, "restore state")
	}
	return eng, nil
}
