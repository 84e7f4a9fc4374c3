// Package cmd defines the CLI commands for the search-crawler executable.
//
// The serve command runs the long-lived service: scheduled searches flow
// through a bounded in-memory queue to a fixed pool of dispatcher workers,
// each executing one orchestrator run at a time against the shared Redis
// coordination store. The search command runs a single search in the
// foreground and prints its output. The accounts commands manage the
// credential pool.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/app"
	"github.com/JakeFAU/search-crawler/internal/config"
	"github.com/JakeFAU/search-crawler/internal/logging"
)

// appFactory builds the application services. Tests swap it for one that
// injects fakes.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// cli carries state shared by the subcommands once the root pre-run has
// loaded configuration.
type cli struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
	newApp  appFactory
}

// newRootCmd creates and configures the root command.
func newRootCmd(factory appFactory) *cobra.Command {
	c := &cli{newApp: factory, logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "search-crawler",
		Short: "Keyword search crawler with time-window narrowing and account rotation.",
		Long: `search-crawler exhaustively collects keyword search results over a
historical time range. It narrows the query window whenever the provider's
page cap is reached, rotates credentials by health score, and coordinates
concurrent runs through Redis.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			c.cfg = cfg
			c.logger = logger
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync() //nolint:errcheck // best-effort flush
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (env CRAWLER_* overrides)")

	cmd.AddCommand(c.newSearchCmd())
	cmd.AddCommand(c.newServeCmd())
	cmd.AddCommand(c.newAccountsCmd())
	return cmd
}

// startApp builds the services and loads the account pool.
func (c *cli) startApp(ctx context.Context) (*app.App, error) {
	a, err := c.newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	if _, err := a.InitializePool(ctx); err != nil {
		c.closeApp(a)
		return nil, err
	}
	return a, nil
}

func (c *cli) closeApp(a *app.App) {
	if err := a.Close(context.Background()); err != nil {
		c.logger.Warn("shutdown errors", zap.Error(err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(defaultAppFactory).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "search-crawler: %v\n", err)
		os.Exit(1)
	}
}
