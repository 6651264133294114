// cmd/checkoutctl/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/app"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "checkoutctl",
	Short: "Operator tool for pending checkout payments",
	Long: `Inspect and resolve pending payments against the configured store and gateways.

Reads the same environment (or CHECKOUT_CONFIG_FILE) as checkout-api.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	rootCmd.AddCommand(statusCmd, checkCmd, expireCmd, sweepCmd, reconcileCmd)
}

// loadApp wires the same object graph as the api binary.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	out := io.Discard
	if verbose {
		out = os.Stderr
	}
	return app.New(ctx, cfg, config.NewLogger(cfg.LogLevel, out))
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
