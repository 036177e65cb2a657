package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nifty-strangler/internal/chain"
	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/models"
	"nifty-strangler/internal/pricing"
	"nifty-strangler/internal/store"
	"nifty-strangler/pkg/utils"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, utils.IndiaLocation)
	if err != nil {
		return time.Time{}, errors.NewValidationError("date", s, "expected YYYY-MM-DD")
	}
	return t, nil
}

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Show the priced option chain for the entry expiry",
		Long: `Chain fetches the option chain for the expiry the engine would trade
(or --expiry), solves implied volatility for every quote and shows deltas
against the selection band.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			now := app.Clock.Now()

			md, err := app.marketData()
			if err != nil {
				return err
			}

			expiryFlag, _ := cmd.Flags().GetString("expiry")
			expiry, err := parseDate(expiryFlag)
			if err != nil {
				return err
			}
			if expiry.IsZero() {
				expiries, err := md.Expiries(ctx)
				if err != nil {
					return err
				}
				if expiry, err = chain.TargetExpiry(expiries, now, app.Config.Strategy.EntryDTE); err != nil {
					return err
				}
			}

			oc, err := md.OptionChain(ctx, expiry)
			if err != nil {
				return err
			}
			sel := app.selector()
			analysis, err := sel.Analyze(oc, now)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(analysis)
			}

			bandOnly, _ := cmd.Flags().GetBool("band")
			kind := "weekly"
			if chain.IsMonthlyExpiry(analysis.Expiry) {
				kind = "monthly"
			}
			output.Bold("%s %s (%s, %d DTE)", app.Config.Trading.Symbol, utils.FormatExpiry(analysis.Expiry), kind, chain.DTE(now, analysis.Expiry))
			output.Field("Spot", utils.FormatStrike(analysis.Spot))
			output.Field("ATM", utils.FormatStrike(analysis.ATMStrike))
			underlying := fmt.Sprintf("%.2f", analysis.Underlying)
			if analysis.FromSpot {
				underlying += " (spot)"
			}
			output.Field("Underlying", underlying)
			lower, upper := app.Config.DeltaBand()
			output.Field("Delta band", fmt.Sprintf("%.3f - %.3f", lower, upper))
			output.Println()

			rows := make([][]string, 0, len(analysis.Rows))
			for _, r := range analysis.Rows {
				if bandOnly && !r.InBand {
					continue
				}
				mark := ""
				if r.InBand {
					mark = output.Green("●")
				}
				rows = append(rows, []string{
					utils.FormatStrike(r.Strike),
					string(r.Type),
					fmt.Sprintf("%.2f", r.LastPrice),
					FormatIV(r.IV),
					FormatDelta(r.Delta),
					FormatOI(r.OpenInterest),
					mark,
				})
			}
			return output.Table([]string{"Strike", "Type", "LTP", "IV", "Delta", "OI", "Band"}, rows)
		},
	}
	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD), default: entry expiry")
	cmd.Flags().Bool("band", false, "only show strikes inside the delta band")
	return cmd
}

func newIVCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Solve implied volatility and Greeks for one option",
		Example: `  strangler iv --type CE --price 42.5 --underlying 25000 --strike 25600 --dte 14
  strangler iv --type PE --price 38 --underlying 25000 --strike 24400 --expiry 2026-01-20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			now := app.Clock.Now()

			typeFlag, _ := cmd.Flags().GetString("type")
			typ, ok := models.ParseOptionType(typeFlag)
			if !ok {
				return errors.NewValidationError("type", typeFlag, "must be CE or PE")
			}
			price, _ := cmd.Flags().GetFloat64("price")
			u, _ := cmd.Flags().GetFloat64("underlying")
			k, _ := cmd.Flags().GetFloat64("strike")
			rate, _ := cmd.Flags().GetFloat64("rate")
			div, _ := cmd.Flags().GetFloat64("dividend")

			expiryFlag, _ := cmd.Flags().GetString("expiry")
			expiry, err := parseDate(expiryFlag)
			if err != nil {
				return err
			}
			if expiry.IsZero() {
				dte, _ := cmd.Flags().GetInt("dte")
				if dte < 0 {
					return errors.NewValidationError("dte", dte, "must not be negative")
				}
				expiry = utils.SessionDate(now).AddDate(0, 0, dte)
			}

			carry := pricing.ZeroCarry
			if cmd.Flags().Changed("rate") || cmd.Flags().Changed("dividend") {
				carry = pricing.SpotCarry(rate, div)
			}
			eng := pricing.NewEngine(carry)
			t := pricing.YearFraction(now, expiry)
			iv := eng.ImpliedVolatility(typ, price, u, k, t)

			result := map[string]interface{}{"iv": iv, "year_fraction": t}
			var g pricing.Greeks
			if iv.Found {
				g = eng.Greeks(typ, u, k, t, iv.Value)
				result["greeks"] = g
			}
			if output.IsJSON() {
				return output.JSON(result)
			}

			output.Bold("%s %s %s", utils.FormatStrike(k), typ, utils.FormatExpiry(expiry))
			output.Field("Year fraction", fmt.Sprintf("%.5f", t))
			output.Field("IV", FormatIV(iv))
			if !iv.Found {
				return nil
			}
			output.Field("Method", iv.Method)
			output.Field("Model price", fmt.Sprintf("%.2f", g.Price))
			output.Field("Delta", FormatDelta(g.Delta))
			output.Field("Gamma", fmt.Sprintf("%.5f", g.Gamma))
			output.Field("Vega", fmt.Sprintf("%.2f", g.Vega))
			output.Field("Theta", fmt.Sprintf("%.2f", g.Theta))
			return nil
		},
	}
	cmd.Flags().String("type", "CE", "option type (CE or PE)")
	cmd.Flags().Float64("price", 0, "option market price")
	cmd.Flags().Float64("underlying", 0, "underlying price (synthetic forward by default)")
	cmd.Flags().Float64("strike", 0, "strike price")
	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD)")
	cmd.Flags().Int("dte", 7, "days to expiry when --expiry is not set")
	cmd.Flags().Float64("rate", 0, "risk-free rate; setting it prices off spot")
	cmd.Flags().Float64("dividend", 0, "dividend yield; setting it prices off spot")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("underlying")
	_ = cmd.MarkFlagRequired("strike")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export closed positions and signal history to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			fromFlag, _ := cmd.Flags().GetString("from")
			toFlag, _ := cmd.Flags().GetString("to")
			from, err := parseDate(fromFlag)
			if err != nil {
				return err
			}
			to, err := parseDate(toFlag)
			if err != nil {
				return err
			}
			if !to.IsZero() {
				to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = app.Config.Storage.ExportDir
			}

			ds, err := app.openStore()
			if err != nil {
				return err
			}
			now := app.Clock.Now()
			posPath, posRows, err := store.ExportPositions(ctx, ds, dir, from, to, now)
			if err != nil {
				return err
			}
			sigPath, sigRows, err := store.ExportSignalEvents(ctx, ds, dir, from, to, now)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"positions": map[string]interface{}{"path": posPath, "rows": posRows},
					"signals":   map[string]interface{}{"path": sigPath, "rows": sigRows},
				})
			}
			output.Success("✓ Exported %d position(s) to %s", posRows, posPath)
			output.Success("✓ Exported %d signal event(s) to %s", sigRows, sigPath)
			return nil
		},
	}
	cmd.Flags().String("from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "end date inclusive (YYYY-MM-DD)")
	cmd.Flags().String("dir", "", "output directory (default: storage.export_dir)")
	return cmd
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the trade log",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			ds, err := app.openStore()
			if err != nil {
				return err
			}
			action, _ := cmd.Flags().GetString("action")
			position, _ := cmd.Flags().GetString("position")
			limit, _ := cmd.Flags().GetInt("limit")

			entries, err := ds.GetTradeLog(ctx, store.TradeLogFilter{
				Action:     models.TradeAction(action),
				PositionID: position,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Dim("No trades logged")
				return nil
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{FormatDateTime(e.At), string(e.Action), ShortID(e.PositionID), e.Details}
			}
			return output.Table([]string{"Time", "Action", "Position", "Details"}, rows)
		},
	}
	cmd.Flags().String("action", "", "filter by action (ENTRY, EXIT, UNWIND, SIGNAL)")
	cmd.Flags().String("position", "", "filter by position id")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}
