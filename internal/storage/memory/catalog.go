package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

type urlKey struct {
	siteID int64
	url    string
}

// Catalog is an in-memory indexer.Catalog for development and tests.
type Catalog struct {
	mu     sync.RWMutex
	clock  indexer.Clock
	sites  map[int64]indexer.Site
	urls   map[int64]indexer.URL
	byKey  map[urlKey]int64
	nextID struct{ site, url int64 }
}

// NewCatalog constructs an empty Catalog.
func NewCatalog(clock indexer.Clock) *Catalog {
	return &Catalog{
		clock: clock,
		sites: make(map[int64]indexer.Site),
		urls:  make(map[int64]indexer.URL),
		byKey: make(map[urlKey]int64),
	}
}

// AddSite registers a site, or refreshes name and updated_at when the sitemap
// URL is already registered.
func (c *Catalog) AddSite(_ context.Context, name, sitemapURL string) (indexer.Site, error) {
	if sitemapURL == "" {
		return indexer.Site{}, errors.New("sitemap url is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for id, site := range c.sites {
		if site.SitemapURL == sitemapURL {
			site.Name = name
			site.UpdatedAt = now
			c.sites[id] = site
			return site, nil
		}
	}
	c.nextID.site++
	site := indexer.Site{
		ID:         c.nextID.site,
		Name:       name,
		SitemapURL: sitemapURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.sites[site.ID] = site
	return site, nil
}

// TouchSite sets a site's updated_at.
func (c *Catalog) TouchSite(_ context.Context, siteID int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	site, ok := c.sites[siteID]
	if !ok {
		return indexer.ErrSiteNotFound
	}
	site.UpdatedAt = at
	c.sites[siteID] = site
	return nil
}

// ListSites returns all sites ordered by id.
func (c *Catalog) ListSites(_ context.Context) ([]indexer.Site, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]indexer.Site, 0, len(c.sites))
	for _, site := range c.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertURL inserts (siteID, rawURL) if absent and changes nothing otherwise.
func (c *Catalog) UpsertURL(_ context.Context, siteID int64, rawURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sites[siteID]; !ok {
		return indexer.ErrSiteNotFound
	}
	key := urlKey{siteID: siteID, url: rawURL}
	if _, exists := c.byKey[key]; exists {
		return nil
	}
	now := c.clock.Now()
	c.nextID.url++
	c.urls[c.nextID.url] = indexer.URL{
		ID:        c.nextID.url,
		SiteID:    siteID,
		URL:       rawURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.byKey[key] = c.nextID.url
	return nil
}

// SelectEligible returns up to limit URLs never submitted or submitted before
// now-cooldown, most recently updated first.
func (c *Catalog) SelectEligible(_ context.Context, cooldown time.Duration, limit int) ([]indexer.URL, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cutoff := c.clock.Now().Add(-cooldown)
	var out []indexer.URL
	for _, u := range c.urls {
		if u.LastIndexSubmitted == nil || u.LastIndexSubmitted.Before(cutoff) {
			out = append(out, copyURL(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSubmitted sets last_index_submitted unconditionally.
func (c *Catalog) MarkSubmitted(_ context.Context, urlID int64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.urls[urlID]
	if !ok {
		return errors.New("url not found")
	}
	at := ts
	u.LastIndexSubmitted = &at
	c.urls[urlID] = u
	return nil
}

// ListURLs pages through URLs ordered by id.
func (c *Catalog) ListURLs(_ context.Context, filter indexer.URLFilter) ([]indexer.URL, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []indexer.URL
	for _, u := range c.urls {
		if filter.SiteID != nil && u.SiteID != *filter.SiteID {
			continue
		}
		out = append(out, copyURL(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset >= len(out) {
		return []indexer.URL{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func copyURL(u indexer.URL) indexer.URL {
	if u.LastIndexSubmitted != nil {
		ts := *u.LastIndexSubmitted
		u.LastIndexSubmitted = &ts
	}
	return u
}
