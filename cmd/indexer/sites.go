package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitemap-indexer/internal/clock/system"
	"github.com/JakeFAU/sitemap-indexer/internal/server"
)

func newSitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "Manage registered sites",
	}
	cmd.AddCommand(newSitesAddCmd(), newSitesListCmd(), newSitesTouchCmd())
	return cmd
}

func newSitesAddCmd() *cobra.Command {
	var name, sitemapURL string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a site by its root sitemap URL",
		Long: `add registers a site, or refreshes the name of an existing one. A newly
registered site is crawled on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			stores, err := server.OpenStores(cmd.Context(), e.cfg, system.New(), e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			site, err := stores.Catalog.AddSite(cmd.Context(), name, sitemapURL)
			if err != nil {
				return fmt.Errorf("add site: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %d registered: %s\n", site.ID, site.SitemapURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the site")
	cmd.Flags().StringVar(&sitemapURL, "sitemap", "", "root sitemap URL")
	_ = cmd.MarkFlagRequired("sitemap")
	return cmd
}

func newSitesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			stores, err := server.OpenStores(cmd.Context(), e.cfg, system.New(), e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			sites, err := stores.Catalog.ListSites(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sites: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSITEMAP\tUPDATED")
			for _, site := range sites {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", site.ID, site.Name, site.SitemapURL, site.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func newSitesTouchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch SITE_ID",
		Short: "Mark a site as updated so the next run re-crawls it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || siteID <= 0 {
				return fmt.Errorf("invalid site id %q", args[0])
			}
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			clock := system.New()
			stores, err := server.OpenStores(cmd.Context(), e.cfg, clock, e.logger)
			if err != nil {
				return err
			}
			defer func() { _ = stores.Close() }()

			if err := stores.Catalog.TouchSite(cmd.Context(), siteID, clock.Now()); err != nil {
				return fmt.Errorf("touch site: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "site %d marked for re-crawl\n", siteID)
			return nil
		},
	}
}
