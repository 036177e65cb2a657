package cli

import (
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"nifty-strangler/internal/engine"
	"nifty-strangler/internal/ledger"
	"nifty-strangler/internal/models"
	"nifty-strangler/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop until interrupted",
		Long: `Run ticks the engine every trading.tick_interval while the market is
open. Open positions, window quotas and capital slots are restored from the
database on start and persisted after every change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := app.buildEngine(ctx)
			if err != nil {
				return err
			}
			hours, err := app.Config.MarketHours()
			if err != nil {
				return err
			}

			mode := "LIVE"
			if app.Config.IsPaperMode() {
				mode = "PAPER"
			}
			output.Bold("NIFTY Strangler [%s]", mode)
			output.Dim("Ticking every %s, Ctrl+C to stop", app.Config.Trading.TickInterval)

			sched := engine.NewScheduler(eng, hours, app.Config.Trading.TickInterval, app.Clock, app.Logger)
			if err := sched.Run(ctx); err != nil {
				return err
			}
			output.Info("Stopped")
			return nil
		},
	}
}

func newTickCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single tick and print what happened",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			eng, err := app.buildEngine(ctx)
			if err != nil {
				return err
			}
			res, tickErr := eng.Tick(ctx)
			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return tickErr
			}
			printTick(output, res)
			if tickErr != nil {
				output.Error("Tick errors: %v", tickErr)
			}
			return tickErr
		},
	}
}

func printTick(output *Output, res engine.TickResult) {
	output.Bold("Tick %s", FormatDateTime(res.At))
	output.Field("Market", output.MarketStatus(res.MarketOpen))
	if !res.MarketOpen {
		return
	}
	output.Field("Spot", utils.FormatStrike(res.Spot))
	output.Field("Expiry", utils.FormatExpiry(res.Expiry))
	output.Field("ATM", utils.FormatStrike(res.ATMStrike))
	output.Field("Straddle", fmt.Sprintf("%.2f (ref %.2f)", res.Straddle, res.Reference))

	sig := "inactive"
	if res.Signal.Active {
		sig = fmt.Sprintf("active %s / %s", utils.FormatDuration(res.Signal.Held), utils.FormatDuration(res.Signal.Required))
	}
	if res.Signal.Ready {
		sig = output.Green("READY")
	}
	output.Field("Signal", sig)
	window := res.Signal.Window
	if window == "" {
		window = "-"
	}
	output.Field("Window", window)

	for _, p := range res.Exited {
		output.Success("Exited %s: %s, P&L %s", ShortID(p.ID), p.ExitReason, output.FormatPnL(p.RealizedPnL))
	}
	if res.Entered != nil {
		p := res.Entered
		output.Success("Entered %s: %s CE / %s PE, credit %.2f, slot %d",
			ShortID(p.ID), utils.FormatStrike(p.CallStrike), utils.FormatStrike(p.PutStrike), p.EntryCredit(), p.Slot)
	} else if res.Skipped != "" {
		output.Dim("No entry: %s", res.Skipped)
	}
	for _, a := range res.Advisories {
		output.Warning("%s", a)
	}
}

func newExitCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exit <position-id>",
		Short: "Close an open strangle at market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			eng, err := app.buildEngine(ctx)
			if err != nil {
				return err
			}
			id, err := resolvePositionID(eng, args[0])
			if err != nil {
				return err
			}

			expiry, _ := cmd.Flags().GetBool("expiry")
			reason := models.ExitManual
			if expiry {
				reason = models.ExitExpiry
			}

			pos, err := eng.ForceExit(ctx, id, reason)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(pos)
			}
			output.Success("✓ Closed %s (%s)", pos.ID, pos.ExitReason)
			output.Field("Exit premiums", fmt.Sprintf("CE %.2f / PE %.2f", pos.ExitCallPremium, pos.ExitPutPremium))
			output.Field("Realized P&L", output.FormatPnL(pos.RealizedPnL))
			return nil
		},
	}
	cmd.Flags().Bool("expiry", false, "record the exit as an expiry exit")
	return cmd
}

// resolvePositionID accepts a full id or a unique prefix of an open position.
func resolvePositionID(eng *engine.Engine, arg string) (string, error) {
	var match string
	for _, p := range eng.Status().Open {
		if p.ID == arg {
			return arg, nil
		}
		if len(arg) >= 4 && len(p.ID) >= len(arg) && p.ID[:len(arg)] == arg {
			if match != "" {
				return "", fmt.Errorf("position prefix %q is ambiguous", arg)
			}
			match = p.ID
		}
	}
	if match == "" {
		return arg, nil
	}
	return match, nil
}

func newStatusCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show capital, signal and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			eng, err := app.buildEngine(ctx)
			if err != nil {
				return err
			}
			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
				if _, err := eng.Tick(ctx); err != nil {
					output.Warning("Tick errors: %v", err)
				}
			}

			st := eng.Status()
			if output.IsJSON() {
				return output.JSON(st)
			}
			return printStatus(output, st)
		},
	}
	cmd.Flags().Bool("refresh", false, "run one tick first to refresh marks")
	return cmd
}

func printStatus(output *Output, st engine.Status) error {
	output.Bold("Status %s", FormatDateTime(st.At))
	output.Field("Market", output.MarketStatus(st.MarketOpen))
	if st.NextWindow != nil {
		output.Field("Next window", FormatDateTime(*st.NextWindow))
	}
	output.Println()

	c := st.Capital
	output.Bold("Capital")
	output.Field("Total", utils.FormatIndianCurrency(c.Total))
	output.Field("Per part", utils.FormatIndianCurrency(c.PerPart))
	output.Field("Free slots", fmt.Sprintf("%d / %d", c.Free, c.Parts))
	output.Field("Entries today", fmt.Sprintf("%d / %d", c.EntriesToday, c.MaxPerDay))
	output.Println()

	sig := st.Signal
	output.Bold("Signal")
	output.Field("Active", sig.Signal.Active)
	if sig.Signal.Active {
		output.Field("Since", FormatTime(sig.Signal.StartedAt))
	}
	output.Field("Reference", fmt.Sprintf("%.2f ± %.2f (%d points)", st.ReferenceMean, st.ReferenceStd, st.ReferenceCount))
	names := make([]string, 0, len(sig.Windows.Trades))
	for name := range sig.Windows.Trades {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		output.Field("Window "+name, fmt.Sprintf("%d trade(s)", sig.Windows.Trades[name]))
	}
	output.Println()

	output.Bold("Open positions")
	if len(st.Open) == 0 {
		output.Dim("  none")
	} else {
		if err := output.Table(
			[]string{"ID", "Expiry", "Call", "Put", "Credit", "Mark", "P&L", "Slot", "Window"},
			positionRows(output, st.Open, st.Marks),
		); err != nil {
			return err
		}
	}
	output.Println()

	sum := st.Summary
	output.Bold("Book")
	output.Field("Closed", fmt.Sprintf("%d (%d W / %d L, %s)", sum.Closed, sum.Wins, sum.Losses, utils.FormatPercent(sum.WinRate)))
	output.Field("Realized", output.FormatPnL(sum.RealizedPnL))
	output.Field("Unrealized", output.FormatPnL(sum.UnrealizedPnL))
	output.Field("Total", output.FormatPnL(sum.TotalPnL))
	return nil
}

func positionRows(output *Output, positions []models.Position, marks map[string]ledger.Mark) [][]string {
	rows := make([][]string, 0, len(positions))
	for _, p := range positions {
		mark, pnl := "-", "-"
		if m, ok := marks[p.ID]; ok {
			mark = fmt.Sprintf("%.2f", m.Call+m.Put)
			pnl = output.FormatPnL(ledger.PnL(p, m.Call, m.Put))
		}
		rows = append(rows, []string{
			ShortID(p.ID),
			utils.FormatExpiry(p.Expiry),
			utils.FormatStrike(p.CallStrike),
			utils.FormatStrike(p.PutStrike),
			fmt.Sprintf("%.2f", p.EntryCredit()),
			mark,
			pnl,
			fmt.Sprintf("%d", p.Slot),
			p.Window,
		})
	}
	return rows
}
