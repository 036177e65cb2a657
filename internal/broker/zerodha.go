package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"golang.org/x/time/rate"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

// quoteBatchSize keeps GetQuote requests well under Kite's per-call instrument cap.
const quoteBatchSize = 200

// ZerodhaBroker implements Broker on Kite Connect.
type ZerodhaBroker struct {
	client      *kiteconnect.Client
	accessToken string
	cfg         ZerodhaConfig
	limiter     *rate.Limiter
	index       *InstrumentIndex
	clock       utils.Clock
	logger      zerolog.Logger
}

// ZerodhaConfig holds configuration for the Kite adapter.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	Symbol      string // underlying name in the instrument dump, e.g. NIFTY
	SpotSymbol  string // quote key of the index, e.g. "NSE:NIFTY 50"
	Exchange    models.Exchange
	Product     string
	StrikeStep  float64
	ChainWidth  int     // strikes quoted on each side of ATM
	RateLimit   float64 // API calls per second
	FillPoll    utils.PollConfig
}

// NewZerodhaBroker creates a Kite adapter using a pre-generated access token.
func NewZerodhaBroker(cfg ZerodhaConfig, clock utils.Clock, logger zerolog.Logger) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.AccessToken != "" {
		client.SetAccessToken(cfg.AccessToken)
	}
	if cfg.Exchange == "" {
		cfg.Exchange = models.NFO
	}
	if cfg.Product == "" {
		cfg.Product = kiteconnect.ProductNRML
	}
	if cfg.ChainWidth <= 0 {
		cfg.ChainWidth = 30
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	if cfg.FillPoll.Attempts == 0 {
		cfg.FillPoll = utils.FillPollConfig()
	}

	return &ZerodhaBroker{
		client:      client,
		accessToken: cfg.AccessToken,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		index:       NewInstrumentIndex(cfg.Symbol),
		clock:       clock,
		logger:      logging.WithComponent(logger, "kite"),
	}
}

// IsAuthenticated reports whether an access token is configured.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	return z.accessToken != ""
}

// GetLoginURL returns the Kite login URL used to obtain a request token.
func (z *ZerodhaBroker) GetLoginURL() string {
	return z.client.GetLoginURL()
}

// CompleteLogin exchanges a request token for an access token and installs it.
// The returned token is valid until the next morning and must be stored by the caller.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken, apiSecret string) (string, error) {
	if err := z.limiter.Wait(ctx); err != nil {
		return "", err
	}
	session, err := z.client.GenerateSession(requestToken, apiSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate session: %w", err)
	}
	z.accessToken = session.AccessToken
	z.client.SetAccessToken(session.AccessToken)
	z.logger.Info().Str("user_id", session.UserID).Msg("Kite session created")
	return session.AccessToken, nil
}

// call waits for a rate-limit token and logs the API call.
func (z *ZerodhaBroker) call(ctx context.Context, method string, fn func() error) error {
	if !z.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}
	if err := z.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	logging.LogAPICall(z.logger, method, time.Since(start), err)
	return err
}

// Spot returns the index last price.
func (z *ZerodhaBroker) Spot(ctx context.Context) (float64, error) {
	var ltp kiteconnect.QuoteLTP
	err := z.call(ctx, "GetLTP", func() error {
		var err error
		ltp, err = z.client.GetLTP(z.cfg.SpotSymbol)
		return err
	})
	if err != nil {
		return 0, errors.NewDataError("spot", z.cfg.SpotSymbol, "failed to get spot price", err)
	}

	q, ok := ltp[z.cfg.SpotSymbol]
	if !ok || q.LastPrice <= 0 {
		return 0, errors.NewDataError("spot", z.cfg.SpotSymbol, "quote not found", errors.ErrQuoteUnavailable)
	}
	return q.LastPrice, nil
}

// refreshInstruments reloads the NFO instrument dump once per session.
func (z *ZerodhaBroker) refreshInstruments(ctx context.Context) error {
	now := z.clock.Now()
	if !z.index.Stale(now) {
		return nil
	}

	var dump kiteconnect.Instruments
	err := z.call(ctx, "GetInstrumentsByExchange", func() error {
		var err error
		dump, err = z.client.GetInstrumentsByExchange(string(z.cfg.Exchange))
		return err
	})
	if err != nil {
		return errors.NewDataError("instruments", z.cfg.Symbol, "failed to get instruments", err)
	}

	options := make([]OptionInstrument, 0, len(dump)/4)
	for _, inst := range dump {
		if inst.Name != z.cfg.Symbol {
			continue
		}
		var typ models.OptionType
		switch inst.InstrumentType {
		case "CE":
			typ = models.Call
		case "PE":
			typ = models.Put
		default:
			continue
		}
		options = append(options, OptionInstrument{
			Token:         uint32(inst.InstrumentToken),
			TradingSymbol: inst.Tradingsymbol,
			Name:          inst.Name,
			Expiry:        inst.Expiry.Time,
			Strike:        inst.StrikePrice,
			Type:          typ,
			LotSize:       int(inst.LotSize),
		})
	}

	n := z.index.Load(options, now)
	z.logger.Debug().Int("contracts", n).Msg("instrument index loaded")
	return nil
}

// Expiries returns the listed option expiries for the underlying.
func (z *ZerodhaBroker) Expiries(ctx context.Context) ([]time.Time, error) {
	if err := z.refreshInstruments(ctx); err != nil {
		return nil, err
	}
	expiries := z.index.Expiries()
	if len(expiries) == 0 {
		return nil, errors.NewDataError("expiries", z.cfg.Symbol, "no listed options", errors.ErrNoExpiry)
	}
	return expiries, nil
}

// OptionChain quotes the contracts of an expiry within ChainWidth strikes of ATM.
func (z *ZerodhaBroker) OptionChain(ctx context.Context, expiry time.Time) (*models.OptionChain, error) {
	if err := z.refreshInstruments(ctx); err != nil {
		return nil, err
	}

	spot, err := z.Spot(ctx)
	if err != nil {
		return nil, err
	}

	step := z.cfg.StrikeStep
	if step <= 0 {
		step = 50
	}
	atm := math.Round(spot/step) * step
	contracts := z.index.Around(expiry, atm, step, z.cfg.ChainWidth)
	if len(contracts) == 0 {
		return nil, errors.NewDataError("chain", z.cfg.Symbol, "no contracts for "+utils.FormatExpiry(expiry), errors.ErrEmptyChain)
	}

	quotes := make([]models.OptionQuote, 0, len(contracts))
	for start := 0; start < len(contracts); start += quoteBatchSize {
		end := start + quoteBatchSize
		if end > len(contracts) {
			end = len(contracts)
		}
		batch := contracts[start:end]

		keys := make([]string, len(batch))
		for i, inst := range batch {
			keys[i] = QuoteKey(z.cfg.Exchange, inst.TradingSymbol)
		}

		var resp kiteconnect.Quote
		err := z.call(ctx, "GetQuote", func() error {
			var err error
			resp, err = z.client.GetQuote(keys...)
			return err
		})
		if err != nil {
			return nil, errors.NewDataError("chain", z.cfg.Symbol, "failed to get option quotes", err)
		}

		for i, inst := range batch {
			q, ok := resp[keys[i]]
			if !ok {
				continue
			}
			quotes = append(quotes, models.OptionQuote{
				Strike:          inst.Strike,
				Expiry:          inst.Expiry,
				Type:            inst.Type,
				LastPrice:       q.LastPrice,
				OpenInterest:    int64(q.OI),
				Volume:          int64(q.Volume),
				TradingSymbol:   inst.TradingSymbol,
				InstrumentToken: inst.Token,
			})
		}
	}

	chain := models.NewOptionChain(z.cfg.Symbol, spot, utils.SessionDate(expiry), quotes)
	chain.AsOf = z.clock.Now()
	return chain, nil
}

// PlaceLeg places a MARKET order for one leg and polls until it reaches a terminal state.
func (z *ZerodhaBroker) PlaceLeg(ctx context.Context, order models.LegOrder) (models.Fill, error) {
	tradingSymbol := order.TradingSymbol
	if tradingSymbol == "" {
		inst, ok := z.index.Contract(order.Expiry, order.Strike, order.Type)
		if !ok {
			return models.Fill{}, errors.NewOrderError("", legLabel(order), string(order.Side), "contract not listed", errors.ErrDataNotFound)
		}
		tradingSymbol = inst.TradingSymbol
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(z.cfg.Exchange),
		Tradingsymbol:   tradingSymbol,
		TransactionType: string(order.Side),
		OrderType:       kiteconnect.OrderTypeMarket,
		Product:         z.cfg.Product,
		Quantity:        order.Quantity,
		Validity:        kiteconnect.ValidityDay,
		Tag:             order.Tag,
	}

	var resp kiteconnect.OrderResponse
	err := z.call(ctx, "PlaceOrder", func() error {
		var err error
		resp, err = z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
		return err
	})
	if err != nil {
		return models.Fill{}, errors.NewOrderError("", tradingSymbol, string(order.Side), "place failed", err)
	}
	logging.LogOrder(z.logger, resp.OrderID, tradingSymbol, string(order.Side), "PLACED")

	return z.awaitFill(ctx, resp.OrderID, tradingSymbol, order)
}

// awaitFill polls the order book until the order completes, is rejected, or the poll horizon ends.
func (z *ZerodhaBroker) awaitFill(ctx context.Context, orderID, tradingSymbol string, order models.LegOrder) (models.Fill, error) {
	var rejected error

	fill, err := utils.Poll(ctx, z.cfg.FillPoll, func() (models.Fill, bool, error) {
		var orders kiteconnect.Orders
		if err := z.call(ctx, "GetOrders", func() error {
			var err error
			orders, err = z.client.GetOrders()
			return err
		}); err != nil {
			return models.Fill{}, false, err
		}

		for _, o := range orders {
			if o.OrderID != orderID {
				continue
			}
			switch o.Status {
			case StatusComplete:
				return models.Fill{
					OrderID:  orderID,
					Price:    o.AveragePrice,
					Quantity: int(o.FilledQuantity),
					FilledAt: z.clock.Now(),
				}, true, nil
			case StatusRejected, StatusCancelled:
				rejected = errors.NewOrderError(orderID, tradingSymbol, string(order.Side), o.StatusMessage, errors.ErrOrderRejected)
				return models.Fill{}, true, nil
			}
			break
		}
		return models.Fill{}, false, nil
	})

	if rejected != nil {
		logging.LogOrder(z.logger, orderID, tradingSymbol, string(order.Side), StatusRejected)
		return models.Fill{}, rejected
	}
	if err != nil {
		if errors.Is(err, utils.ErrPollExhausted) {
			return models.Fill{}, errors.NewOrderError(orderID, tradingSymbol, string(order.Side), "fill not confirmed", errors.Join(errors.ErrFillTimeout, err))
		}
		return models.Fill{}, errors.NewOrderError(orderID, tradingSymbol, string(order.Side), "status poll failed", err)
	}

	logging.LogOrder(z.logger, orderID, tradingSymbol, string(order.Side), StatusComplete)
	return fill, nil
}

var _ Broker = (*ZerodhaBroker)(nil)

// String identifies the adapter in logs.
func (z *ZerodhaBroker) String() string {
	return fmt.Sprintf("kite(%s)", z.cfg.Symbol)
}
