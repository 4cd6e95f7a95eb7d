// Package cmd defines the CLI commands for the crawlrules executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawlrules/internal/app"
	"github.com/JakeFAU/crawlrules/internal/config"
)

type cfgKeyType string

const cfgKey cfgKeyType = "config"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = app.Build

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawlrules",
		Short: "robots.txt aware crawling toolkit",
		Long: `crawlrules evaluates robots.txt rules, resolves redirect targets and
runs polite crawls that honor both.`,
		SilenceUsage: true,

		// Loads configuration before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newRobotsCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withApp builds the application, runs fn and closes the application afterwards.
func withApp(cmd *cobra.Command, cfg config.Config, fn func(*app.App) error) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		//nolint:errcheck // best effort on exit
		_ = a.Close(context.WithoutCancel(cmd.Context()))
	}()
	return fn(a)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
