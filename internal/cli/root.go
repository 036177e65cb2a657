package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nifty-strangler/internal/broker"
	"nifty-strangler/internal/config"
	"nifty-strangler/internal/logging"
	"nifty-strangler/internal/security"
	"nifty-strangler/internal/store"
	"nifty-strangler/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-01-05"
)

// App holds the application dependencies. Heavy collaborators (store, Kite
// client) are opened on first use by the commands that need them.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
	Clock     utils.Clock
	Out       io.Writer

	store *store.SQLiteStore
	kite  *broker.ZerodhaBroker
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Clock: utils.SystemClock{}, Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "strangler",
		Short: "NIFTY short strangle decision engine",
		Long: `strangler sells delta-targeted NIFTY strangles when the ATM straddle
holds above its intraday reference, inside configured trading windows,
with capital split into fixed slots.

Market data and orders go through Kite Connect. In paper mode orders are
filled at the last traded price with slippage; no order reaches the exchange.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/nifty-strangler)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newTickCmd(app))
	rootCmd.AddCommand(newExitCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newIVCmd(app))
	rootCmd.AddCommand(newExportCmd(app))

	return rootCmd
}

// init loads configuration and builds the logger.
func (a *App) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	a.Out = cmd.OutOrStdout()
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.ConfigDir = dir
	a.Config = cfg

	logCfg := logging.Config{
		Level:      cfg.Logging.Level,
		Console:    cmd.ErrOrStderr(),
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}
	if cfg.Logging.File {
		logCfg.FilePath = filepath.Join(dir, "logs", "strangler.log")
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	a.Logger = logging.New(logCfg)
	a.Logger.Debug().Str("config_dir", dir).Str("mode", cfg.Trading.Mode).Msg("Configuration loaded")
	return nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("NIFTY Strangler v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(security.Redacted(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			leaked := secretsInConfigFile(filepath.Join(app.ConfigDir, "config.toml"))
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true, "secrets_in_config": leaked})
			}
			output.Success("✓ Configuration is valid")
			if leaked {
				output.Warning("config.toml appears to contain credentials; keep them in .env")
			}
			return nil
		},
	})

	return cmd
}

// secretsInConfigFile reports whether the TOML file holds credential-looking values.
func secretsInConfigFile(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return security.ContainsSensitiveData(string(data))
}

func showConfig(output *Output, cfg *config.Config) error {
	lower, upper := cfg.DeltaBand()

	output.Bold("Trading")
	output.Field("Mode", cfg.Trading.Mode)
	output.Field("Symbol", fmt.Sprintf("%s (%s)", cfg.Trading.Symbol, cfg.Trading.SpotSymbol))
	output.Field("Quantity", fmt.Sprintf("%d lots x %d", cfg.Trading.Lots, cfg.Trading.LotSize))
	output.Field("Strike step", cfg.Trading.StrikeStep)
	output.Field("Tick interval", cfg.Trading.TickInterval)
	output.Field("Holidays", len(cfg.Trading.Holidays))
	output.Println()

	output.Bold("Strategy")
	output.Field("Target delta", fmt.Sprintf("%.3f (band %.3f - %.3f)", cfg.Strategy.TargetDelta, lower, upper))
	output.Field("Entry DTE", cfg.Strategy.EntryDTE)
	output.Field("Exit DTE (advisory)", cfg.Strategy.ExitDTE)
	output.Field("Profit target", utils.FormatPercent(cfg.Strategy.ProfitTarget))
	output.Field("Signal duration", cfg.Strategy.SignalDuration)
	output.Println()

	output.Bold("Capital")
	output.Field("Total", utils.FormatIndianCurrency(cfg.Capital.Total))
	output.Field("Parts", cfg.Capital.Parts)
	output.Field("Per part", utils.FormatIndianCurrency(cfg.Capital.Total/float64(cfg.Capital.Parts)))
	output.Field("Max entries/day", cfg.Capital.MaxEntriesPerDay)
	output.Println()

	output.Bold("Windows")
	for _, w := range cfg.Windows {
		output.Field(w.Name, fmt.Sprintf("%s - %s, %d trade(s)", w.Start, w.End, w.MaxTrades))
	}
	output.Println()

	output.Bold("Storage")
	output.Field("Database", cfg.Storage.DBPath)
	output.Field("Exports", cfg.Storage.ExportDir)
	output.Println()

	creds := security.MaskedCredentials(cfg.Credentials)
	output.Bold("Credentials")
	output.Field("Kite API key", orDash(creds.APIKey))
	output.Field("Kite access token", orDash(creds.AccessToken))
	output.Field("Telegram token", orDash(creds.TelegramToken))
	output.Println()

	output.Bold("Alerts")
	output.Field("Level", cfg.Notify.Level)
	output.Field("Terminal", cfg.Notify.Terminal)
	output.Field("Webhook", orDash(security.MaskSensitive(cfg.Notify.WebhookURL)))
	output.Field("Telegram chat", cfg.Notify.TelegramChatID)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
