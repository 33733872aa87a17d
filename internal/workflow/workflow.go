package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

// Step names. Per-site and per-URL steps append the entity id.
const (
	StepGetSites        = "get all sites"
	StepSelectEligible  = "select eligible urls"
	StepVerifyIndexing  = "verify indexing credentials"
	stepCrawlSitePrefix = "crawl site"
	stepSubmitURLPrefix = "submit url"
)

// CrawlStepName names the crawl step for a site.
func CrawlStepName(siteID int64) string {
	return fmt.Sprintf("%s %d", stepCrawlSitePrefix, siteID)
}

// SubmitStepName names the submit step for a URL.
func SubmitStepName(urlID int64) string {
	return fmt.Sprintf("%s %d", stepSubmitURLPrefix, urlID)
}

// Config tunes a run.
type Config struct {
	// CrawlFreshness is how recently a site must have been updated to be crawled.
	CrawlFreshness    time.Duration
	Cooldown          time.Duration
	BatchLimit        int
	SiteConcurrency   int
	SubmitConcurrency int
}

func (c Config) withDefaults() Config {
	if c.CrawlFreshness <= 0 {
		c.CrawlFreshness = 24 * time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 24 * time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.SiteConcurrency <= 0 {
		c.SiteConcurrency = 8
	}
	if c.SubmitConcurrency <= 0 {
		c.SubmitConcurrency = 10
	}
	return c
}

// SiteSnapshot is the checkpointed result of the first step. TakenAt anchors
// the freshness gate so a resumed run makes the same crawl decisions.
type SiteSnapshot struct {
	Sites   []indexer.Site `json:"sites"`
	TakenAt time.Time      `json:"taken_at"`
}

// CrawlResult is the checkpointed result of a site crawl.
type CrawlResult struct {
	URLs int `json:"urls"`
}

// SubmitResult is the checkpointed result of a URL submission.
type SubmitResult struct {
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// Workflow is the crawl-and-submit pipeline.
type Workflow struct {
	repo      indexer.URLRepository
	resolver  indexer.Resolver
	submitter indexer.Submitter
	clock     indexer.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Workflow.
func New(
	repo indexer.URLRepository,
	resolver indexer.Resolver,
	submitter indexer.Submitter,
	clock indexer.Clock,
	cfg Config,
	logger *zap.Logger,
) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		repo:      repo,
		resolver:  resolver,
		submitter: submitter,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run executes every phase of one run through runner and returns the run's
// counters. Failures confined to a site or URL are counted, not returned.
func (w *Workflow) Run(ctx context.Context, runID string, runner StepRunner) (store.RunStats, error) {
	logger := w.logger.With(zap.String("run_id", runID))
	var stats store.RunStats

	snapshot, err := Do(ctx, runner, StepGetSites, func(ctx context.Context) (SiteSnapshot, error) {
		sites, err := w.repo.ListSites(ctx)
		if err != nil {
			return SiteSnapshot{}, fmt.Errorf("list sites: %w", err)
		}
		return SiteSnapshot{Sites: sites, TakenAt: w.clock.Now()}, nil
	})
	if err != nil {
		return stats, err
	}
	stats.SitesTotal = len(snapshot.Sites)

	if err := w.crawlSites(ctx, logger, runner, snapshot, &stats); err != nil {
		return stats, err
	}

	eligible, err := Do(ctx, runner, StepSelectEligible, func(ctx context.Context) ([]indexer.URL, error) {
		urls, err := w.repo.SelectEligible(ctx, w.cfg.Cooldown, w.cfg.BatchLimit)
		if err != nil {
			return nil, fmt.Errorf("select eligible urls: %w", err)
		}
		return urls, nil
	})
	if err != nil {
		return stats, err
	}

	if _, err := Do(ctx, runner, StepVerifyIndexing, func(ctx context.Context) (bool, error) {
		if err := w.submitter.Ready(ctx); err != nil {
			return false, Permanent(err)
		}
		return true, nil
	}); err != nil {
		return stats, err
	}

	eligible = dedupeByID(eligible)
	stats.URLsSelected = len(eligible)
	if err := w.submitURLs(ctx, logger, runner, eligible, &stats); err != nil {
		return stats, err
	}

	logger.Info("run finished",
		zap.Int("sites_crawled", stats.SitesCrawled),
		zap.Int("sites_skipped", stats.SitesSkipped),
		zap.Int("sites_failed", stats.SitesFailed),
		zap.Int("urls_discovered", stats.URLsDiscovered),
		zap.Int("urls_selected", stats.URLsSelected),
		zap.Int("urls_submitted", stats.URLsSubmitted),
		zap.Int("urls_failed", stats.URLsFailed),
	)
	return stats, nil
}

func (w *Workflow) crawlSites(
	ctx context.Context,
	logger *zap.Logger,
	runner StepRunner,
	snapshot SiteSnapshot,
	stats *store.RunStats,
) error {
	cutoff := snapshot.TakenAt.Add(-w.cfg.CrawlFreshness)
	var (
		mu      sync.Mutex
		g       errgroup.Group
		skipped int
	)
	g.SetLimit(w.cfg.SiteConcurrency)
	for _, site := range snapshot.Sites {
		if site.UpdatedAt.Before(cutoff) {
			skipped++
			logger.Debug("site not due for crawl",
				zap.Int64("site_id", site.ID),
				zap.Time("updated_at", site.UpdatedAt),
			)
			continue
		}
		g.Go(func() error {
			res, err := Do(ctx, runner, CrawlStepName(site.ID), func(ctx context.Context) (CrawlResult, error) {
				return w.crawlSite(ctx, site)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.SitesFailed++
				logger.Warn("site crawl failed",
					zap.Int64("site_id", site.ID),
					zap.String("sitemap", site.SitemapURL),
					zap.Error(err),
				)
				return nil
			}
			stats.SitesCrawled++
			stats.URLsDiscovered += res.URLs
			return nil
		})
	}
	_ = g.Wait()
	stats.SitesSkipped = skipped
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("crawl phase interrupted: %w", err)
	}
	return nil
}

func (w *Workflow) crawlSite(ctx context.Context, site indexer.Site) (CrawlResult, error) {
	urls, err := w.resolver.Resolve(ctx, site.SitemapURL)
	if err != nil {
		return CrawlResult{}, fmt.Errorf("resolve %s: %w", site.SitemapURL, err)
	}
	for _, u := range urls {
		if err := w.repo.UpsertURL(ctx, site.ID, u); err != nil {
			err = fmt.Errorf("upsert %s: %w", u, err)
			if errors.Is(err, indexer.ErrSiteNotFound) {
				return CrawlResult{}, Permanent(err)
			}
			return CrawlResult{}, err
		}
	}
	return CrawlResult{URLs: len(urls)}, nil
}

func (w *Workflow) submitURLs(
	ctx context.Context,
	logger *zap.Logger,
	runner StepRunner,
	urls []indexer.URL,
	stats *store.RunStats,
) error {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.cfg.SubmitConcurrency)
	for _, u := range urls {
		g.Go(func() error {
			res, err := Do(ctx, runner, SubmitStepName(u.ID), func(ctx context.Context) (SubmitResult, error) {
				return w.submitURL(ctx, u)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.URLsFailed++
				logger.Warn("submit step failed",
					zap.Int64("url_id", u.ID),
					zap.String("url", u.URL),
					zap.Error(err),
				)
			case res.Submitted:
				stats.URLsSubmitted++
			default:
				stats.URLsFailed++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit phase interrupted: %w", err)
	}
	return nil
}

func (w *Workflow) submitURL(ctx context.Context, u indexer.URL) (SubmitResult, error) {
	if !w.submitter.Submit(ctx, u.URL) {
		// Left eligible; the next run re-selects it.
		return SubmitResult{}, nil
	}
	at := w.clock.Now()
	if err := w.repo.MarkSubmitted(ctx, u.ID, at); err != nil {
		return SubmitResult{}, fmt.Errorf("mark url %d submitted: %w", u.ID, err)
	}
	return SubmitResult{Submitted: true, SubmittedAt: &at}, nil
}

func dedupeByID(urls []indexer.URL) []indexer.URL {
	seen := make(map[int64]struct{}, len(urls))
	out := urls[:0:0]
	for _, u := range urls {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out
}
