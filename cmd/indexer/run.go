package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-indexer/internal/server"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one crawl-and-submit run in the foreground",
		Long: `run performs a single run against the configured stores and prints the
final run record as JSON. It exits non-zero when the run fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close() }()

			run, err := app.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("run workflow: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return fmt.Errorf("write run: %w", err)
			}
			if run.Status == store.RunFailed {
				return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
			}
			return nil
		},
	}
}
