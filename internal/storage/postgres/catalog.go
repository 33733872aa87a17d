package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

const urlColumns = `id, site_id, url, last_index_submitted, created_at, updated_at`

// Catalog implements indexer.Catalog on Postgres.
type Catalog struct {
	pool  Pool
	clock indexer.Clock
}

// NewCatalog wraps an existing pool.
func NewCatalog(pool Pool, clock indexer.Clock) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Catalog{pool: pool, clock: clock}, nil
}

// Ping checks connectivity for readiness probes.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// AddSite registers a site, refreshing name and updated_at on an existing sitemap URL.
func (c *Catalog) AddSite(ctx context.Context, name, sitemapURL string) (indexer.Site, error) {
	if sitemapURL == "" {
		return indexer.Site{}, fmt.Errorf("sitemap url is required")
	}
	const query = `
INSERT INTO sites (name, sitemap_url, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (sitemap_url) DO UPDATE
SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
RETURNING id, name, sitemap_url, created_at, updated_at`
	var site indexer.Site
	err := c.pool.QueryRow(ctx, query, name, sitemapURL, c.clock.Now()).
		Scan(&site.ID, &site.Name, &site.SitemapURL, &site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return indexer.Site{}, fmt.Errorf("upsert site: %w", err)
	}
	return site, nil
}

// TouchSite sets a site's updated_at so the next run re-crawls it.
func (c *Catalog) TouchSite(ctx context.Context, siteID int64, at time.Time) error {
	tag, err := c.pool.Exec(ctx, `UPDATE sites SET updated_at = $1 WHERE id = $2`, at, siteID)
	if err != nil {
		return fmt.Errorf("touch site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return indexer.ErrSiteNotFound
	}
	return nil
}

// ListSites returns every registered site ordered by id.
func (c *Catalog) ListSites(ctx context.Context) ([]indexer.Site, error) {
	rows, err := c.pool.Query(ctx, `SELECT id, name, sitemap_url, created_at, updated_at FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	defer rows.Close()
	var sites []indexer.Site
	for rows.Next() {
		var s indexer.Site
		if err := rows.Scan(&s.ID, &s.Name, &s.SitemapURL, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// UpsertURL inserts (siteID, rawURL) and leaves an existing row untouched.
func (c *Catalog) UpsertURL(ctx context.Context, siteID int64, rawURL string) error {
	const query = `
INSERT INTO urls (site_id, url, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (site_id, url) DO NOTHING`
	if _, err := c.pool.Exec(ctx, query, siteID, rawURL, c.clock.Now()); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("insert url for site %d: %w", siteID, indexer.ErrSiteNotFound)
		}
		return fmt.Errorf("insert url: %w", err)
	}
	return nil
}

// SelectEligible returns up to limit URLs never submitted or submitted before
// now-cooldown, most recently updated first.
func (c *Catalog) SelectEligible(ctx context.Context, cooldown time.Duration, limit int) ([]indexer.URL, error) {
	query := `SELECT ` + urlColumns + `
FROM urls
WHERE last_index_submitted IS NULL OR last_index_submitted < $1
ORDER BY updated_at DESC, id DESC
LIMIT $2`
	rows, err := c.pool.Query(ctx, query, c.clock.Now().Add(-cooldown), limit)
	if err != nil {
		return nil, fmt.Errorf("query eligible urls: %w", err)
	}
	return collectURLs(rows)
}

// MarkSubmitted sets last_index_submitted unconditionally.
func (c *Catalog) MarkSubmitted(ctx context.Context, urlID int64, ts time.Time) error {
	tag, err := c.pool.Exec(ctx, `UPDATE urls SET last_index_submitted = $1 WHERE id = $2`, ts, urlID)
	if err != nil {
		return fmt.Errorf("mark url submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("url %d not found", urlID)
	}
	return nil
}

// ListURLs pages through URLs ordered by id, optionally for one site.
func (c *Catalog) ListURLs(ctx context.Context, filter indexer.URLFilter) ([]indexer.URL, error) {
	query := `SELECT ` + urlColumns + `
FROM urls
WHERE $1::bigint IS NULL OR site_id = $1
ORDER BY id
LIMIT $2 OFFSET $3`
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := c.pool.Query(ctx, query, filter.SiteID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	return collectURLs(rows)
}

func collectURLs(rows pgx.Rows) ([]indexer.URL, error) {
	defer rows.Close()
	urls := []indexer.URL{}
	for rows.Next() {
		var u indexer.URL
		if err := rows.Scan(&u.ID, &u.SiteID, &u.URL, &u.LastIndexSubmitted, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return urls, nil
}
