package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Kite Connect authentication",
	}
	cmd.AddCommand(newLoginURLCmd(app))
	cmd.AddCommand(newLoginCmd(app))
	return cmd
}

func newLoginURLCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the Kite login URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			url := app.kiteBroker().GetLoginURL()
			if output.IsJSON() {
				return output.JSON(map[string]string{"login_url": url})
			}
			output.Println(url)
			return nil
		},
	}
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange a request token for an access token",
		Long: `Login completes the Kite Connect flow. Open the URL from 'strangler auth url',
sign in, and pass the request_token from the redirect URL. The access token
is written to .env in the config directory as KITE_ACCESS_TOKEN.`,
		Example: `  strangler auth login
  strangler auth login --token=<request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if app.Config.Credentials.APIKey == "" || app.Config.Credentials.APISecret == "" {
				output.Error("KITE_API_KEY and KITE_API_SECRET must be set")
				return fmt.Errorf("kite credentials not configured")
			}

			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				output.Bold("Login URL:")
				output.Println(app.kiteBroker().GetLoginURL())
				output.Println()
				output.Bold("Paste the request_token value here:")
				fmt.Fprint(cmd.OutOrStdout(), "> ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				token = strings.TrimSpace(line)
			}
			if token == "" {
				output.Error("No token provided")
				return fmt.Errorf("no token provided")
			}

			access, err := app.kiteBroker().CompleteLogin(ctx, token, app.Config.Credentials.APISecret)
			if err != nil {
				output.Error("Login failed: %v", err)
				return err
			}

			envPath := filepath.Join(app.ConfigDir, ".env")
			if err := saveAccessToken(envPath, access); err != nil {
				output.Warning("Could not write %s: %v", envPath, err)
				output.Println("export KITE_ACCESS_TOKEN=" + access)
				return nil
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"env_file": envPath})
			}
			output.Success("✓ Login successful")
			output.Dim("Access token saved to %s", envPath)
			return nil
		},
	}
	cmd.Flags().String("token", "", "request token from the redirect URL")
	return cmd
}

// saveAccessToken updates KITE_ACCESS_TOKEN in an env file, keeping other keys.
func saveAccessToken(path, token string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env["KITE_ACCESS_TOKEN"] = token
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := godotenv.Write(env, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
