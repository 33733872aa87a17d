package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

type siteRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	SitemapURL string `db:"sitemap_url"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (r siteRow) site() indexer.Site {
	return indexer.Site{
		ID:         r.ID,
		Name:       r.Name,
		SitemapURL: r.SitemapURL,
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
}

type urlRow struct {
	ID                 int64         `db:"id"`
	SiteID             int64         `db:"site_id"`
	URL                string        `db:"url"`
	LastIndexSubmitted sql.NullInt64 `db:"last_index_submitted"`
	CreatedAt          int64         `db:"created_at"`
	UpdatedAt          int64         `db:"updated_at"`
}

func (r urlRow) url() indexer.URL {
	return indexer.URL{
		ID:                 r.ID,
		SiteID:             r.SiteID,
		URL:                r.URL,
		LastIndexSubmitted: fromNullMillis(r.LastIndexSubmitted),
		CreatedAt:          fromMillis(r.CreatedAt),
		UpdatedAt:          fromMillis(r.UpdatedAt),
	}
}

const urlColumns = `id, site_id, url, last_index_submitted, created_at, updated_at`

// Catalog implements indexer.Catalog on SQLite.
type Catalog struct {
	db    *sqlx.DB
	clock indexer.Clock
}

// NewCatalog wraps an open database.
func NewCatalog(db *sqlx.DB, clock indexer.Clock) (*Catalog, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Catalog{db: db, clock: clock}, nil
}

// Ping checks connectivity for readiness probes.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// AddSite registers a site, refreshing name and updated_at on an existing sitemap URL.
func (c *Catalog) AddSite(ctx context.Context, name, sitemapURL string) (indexer.Site, error) {
	if sitemapURL == "" {
		return indexer.Site{}, fmt.Errorf("sitemap url is required")
	}
	now := toMillis(c.clock.Now())
	const query = `
INSERT INTO sites (name, sitemap_url, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (sitemap_url) DO UPDATE
SET name = excluded.name, updated_at = excluded.updated_at
RETURNING id, name, sitemap_url, created_at, updated_at`
	var row siteRow
	if err := c.db.GetContext(ctx, &row, query, name, sitemapURL, now, now); err != nil {
		return indexer.Site{}, fmt.Errorf("upsert site: %w", err)
	}
	return row.site(), nil
}

// TouchSite sets a site's updated_at.
func (c *Catalog) TouchSite(ctx context.Context, siteID int64, at time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE sites SET updated_at = ? WHERE id = ?`, toMillis(at), siteID)
	if err != nil {
		return fmt.Errorf("touch site: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return indexer.ErrSiteNotFound
	}
	return nil
}

// ListSites returns every registered site ordered by id.
func (c *Catalog) ListSites(ctx context.Context) ([]indexer.Site, error) {
	var rows []siteRow
	if err := c.db.SelectContext(ctx, &rows, `SELECT id, name, sitemap_url, created_at, updated_at FROM sites ORDER BY id`); err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	sites := make([]indexer.Site, 0, len(rows))
	for _, r := range rows {
		sites = append(sites, r.site())
	}
	return sites, nil
}

// UpsertURL inserts (siteID, rawURL) and leaves an existing row untouched.
func (c *Catalog) UpsertURL(ctx context.Context, siteID int64, rawURL string) error {
	now := toMillis(c.clock.Now())
	const query = `
INSERT INTO urls (site_id, url, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (site_id, url) DO NOTHING`
	if _, err := c.db.ExecContext(ctx, query, siteID, rawURL, now, now); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("insert url for site %d: %w", siteID, indexer.ErrSiteNotFound)
		}
		return fmt.Errorf("insert url: %w", err)
	}
	return nil
}

// SelectEligible returns up to limit URLs never submitted or submitted before
// now-cooldown, most recently updated first.
func (c *Catalog) SelectEligible(ctx context.Context, cooldown time.Duration, limit int) ([]indexer.URL, error) {
	cutoff := toMillis(c.clock.Now().Add(-cooldown))
	query := `SELECT ` + urlColumns + `
FROM urls
WHERE last_index_submitted IS NULL OR last_index_submitted < ?
ORDER BY updated_at DESC, id DESC
LIMIT ?`
	var rows []urlRow
	if err := c.db.SelectContext(ctx, &rows, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("query eligible urls: %w", err)
	}
	return toURLs(rows), nil
}

// MarkSubmitted sets last_index_submitted unconditionally.
func (c *Catalog) MarkSubmitted(ctx context.Context, urlID int64, ts time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE urls SET last_index_submitted = ? WHERE id = ?`, toMillis(ts), urlID)
	if err != nil {
		return fmt.Errorf("mark url submitted: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("url %d not found", urlID)
	}
	return nil
}

// ListURLs pages through URLs ordered by id, optionally for one site.
func (c *Catalog) ListURLs(ctx context.Context, filter indexer.URLFilter) ([]indexer.URL, error) {
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	var siteID sql.NullInt64
	if filter.SiteID != nil {
		siteID = sql.NullInt64{Int64: *filter.SiteID, Valid: true}
	}
	query := `SELECT ` + urlColumns + `
FROM urls
WHERE ? IS NULL OR site_id = ?
ORDER BY id
LIMIT ? OFFSET ?`
	var rows []urlRow
	if err := c.db.SelectContext(ctx, &rows, query, siteID, siteID, limit, filter.Offset); err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	return toURLs(rows), nil
}

func toURLs(rows []urlRow) []indexer.URL {
	urls := make([]indexer.URL, 0, len(rows))
	for _, r := range rows {
		urls = append(urls, r.url())
	}
	return urls
}
