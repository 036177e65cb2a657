package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# NIFTY Strangler Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
symbol = "NIFTY"
exchange = "NFO"
spot_symbol = "NSE:NIFTY 50"
# NRML carries the short legs overnight
product = "NRML"
lot_size = 65
lots = 1
strike_step = 50.0
tick_interval = "60s"
# Adverse fill slippage applied by the paper broker (0.0005 = 0.05%)
paper_slippage = 0.0005
# Kite API calls per second
rate_limit = 3.0
# Strikes quoted on each side of ATM when building the chain
chain_width = 30
# Exchange holidays, no ticks are run on these dates
holidays = ["2026-01-26", "2026-03-03", "2026-03-26", "2026-03-31", "2026-04-03", "2026-04-14", "2026-05-01", "2026-08-15", "2026-10-02", "2026-11-10", "2026-12-25"]
# Pause market-data calls after this many consecutive failures
breaker_failures = 5
breaker_cooldown = "2m"

[strategy]
target_delta = 0.07
# 0 means target/2 and target*2
delta_lower = 0.0
delta_upper = 0.0
# Absolute ceiling that keeps near-the-money strikes out
delta_ceiling = 0.20
entry_dte = 14
# Advisory only; never closes a position on its own
exit_dte = 7
# Fraction of max profit that forces an exit
profit_target = 0.50
# How long straddle > reference must hold before entry
signal_duration = "300s"
# 0 disables the day-level cap on top of window quotas
max_trades_per_day = 0

[capital]
total = 100000.0
parts = 6
max_entries_per_day = 2

[[windows]]
name = "morning"
start = "09:30"
end = "13:15"
max_trades = 1

[[windows]]
name = "afternoon"
start = "13:15"
end = "15:15"
max_trades = 1

[greeks]
risk_free_rate = 0.07
dividend_yield = 0.0

[storage]
# Empty paths resolve inside the config directory
db_path = ""
export_dir = ""

[logging]
level = "info"
file = true
max_size = 100
max_backups = 7
max_age = 30

[notify]
# all, trades_only or errors_only
level = "all"
terminal = true
bell = true
webhook_url = ""
# Bot token comes from TELEGRAM_BOT_TOKEN in .env
telegram_chat_id = 0
`

const envTemplate = `# Kite Connect credentials
KITE_API_KEY=
KITE_API_SECRET=
KITE_ACCESS_TOKEN=
TELEGRAM_BOT_TOKEN=
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	envPath := filepath.Join(configDir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Use restricted permissions for credentials file
		if err := os.WriteFile(envPath, []byte(envTemplate), 0600); err != nil {
			return fmt.Errorf("writing credentials template: %w", err)
		}
	}

	return nil
}

// TemplatePath returns where the config file lives for configDir.
func TemplatePath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}
