package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harun/panbeh/pkg/panel"
	"github.com/spf13/cobra"
)

var tokenShow bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Check the panel credentials",
	Long: `Exchange the configured panel credentials for a bearer token and
report when it will be refreshed. The token itself is only printed with --show.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenShow, "show", false, "print the bearer token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Panel.BaseURL == "" || cfg.Panel.Username == "" || cfg.Panel.Password == "" {
		return fmt.Errorf("panel base_url, username and password are required")
	}

	exchanger := panel.NewPasswordExchanger(cfg.Panel.BaseURL, cfg.Panel.Username, cfg.Panel.Password, nil)
	cache, err := panel.NewTokenCache(exchanger,
		panel.WithTokenTTL(cfg.Panel.TokenTTL()),
		panel.WithSafetyMargin(cfg.Panel.SafetyMargin()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Panel.RequestTimeout())
	defer cancel()

	return printToken(ctx, cache, cmd.OutOrStdout(), tokenShow)
}

func printToken(ctx context.Context, cache *panel.TokenCache, out io.Writer, show bool) error {
	token, err := cache.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire panel token: %w", err)
	}
	cred, _ := cache.Current()

	fmt.Fprintln(out, "Panel credentials: ok")
	fmt.Fprintf(out, "Refresh after: %s (in %s)\n",
		cred.ExpiresAt.Format(time.RFC3339), formatDuration(time.Until(cred.ExpiresAt)))
	if show {
		fmt.Fprintf(out, "Token: %s\n", token)
	}
	return nil
}
