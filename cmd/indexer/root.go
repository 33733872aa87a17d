package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/config"
	"github.com/JakeFAU/sitemap-indexer/internal/logging"
)

type envKey struct{}

// env is what every subcommand needs before it builds anything.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "indexer",
		Short: "Crawl registered sitemaps and submit new URLs for indexing",
		Long: `indexer keeps a catalog of sites and the URLs their sitemaps publish,
and notifies the search engine indexing API about URLs that are new or have
not been submitted within the cooldown window.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{cfg: &cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars prefixed INDEXER_ override it)")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newMigrateCmd(),
		newSitesCmd(),
	)
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}
