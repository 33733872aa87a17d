package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
)

// Fetch outcomes.
const (
	outcomeOK         = "ok"
	outcomeError      = "error"
	outcomeStatus     = "bad_status"
	outcomeParseError = "parse_error"
)

// Config bounds the resolver's fan-out.
type Config struct {
	// Concurrency caps parallel child resolutions per sitemap index.
	Concurrency int
	// MaxDepth caps sitemap-index nesting below the root.
	MaxDepth int
}

// Resolver implements indexer.Resolver. It holds no state between calls.
type Resolver struct {
	fetcher indexer.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Resolver.
func New(fetcher indexer.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Resolve fetches rootURL and recursively expands nested sitemap references.
// Branches that fail to fetch or parse are pruned; the only error returned is
// cancellation of ctx.
func (r *Resolver) Resolve(ctx context.Context, rootURL string) ([]string, error) {
	root, err := Normalize(rootURL, nil)
	if err != nil {
		r.logger.Warn("skipping malformed sitemap url", zap.String("sitemap", rootURL), zap.Error(err))
		return nil, nil
	}
	t := &traversal{resolver: r, visited: map[string]struct{}{root: {}}}
	leaves := t.resolve(ctx, root, 0)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	out := make([]string, 0, len(leaves))
	for u := range leaves {
		out = append(out, u)
	}
	sort.Strings(out)
	metrics.ObserveURLsDiscovered(root, len(out))
	r.logger.Debug("sitemap resolved",
		zap.String("sitemap", root),
		zap.Int("urls", len(out)),
		zap.Int("documents", t.documents()),
	)
	return out, nil
}

// traversal is the per-call visited set. Each resolve call returns its own
// leaf set which the caller merges.
type traversal struct {
	resolver *Resolver
	mu       sync.Mutex
	visited  map[string]struct{}
}

func (t *traversal) claim(sitemapURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.visited[sitemapURL]; seen {
		return false
	}
	t.visited[sitemapURL] = struct{}{}
	return true
}

func (t *traversal) documents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visited)
}

func (t *traversal) resolve(ctx context.Context, sitemapURL string, depth int) map[string]struct{} {
	leaves := map[string]struct{}{}
	entries, ok := t.resolver.load(ctx, sitemapURL)
	if !ok {
		return leaves
	}
	base, err := url.Parse(sitemapURL)
	if err != nil {
		return leaves
	}

	var children []string
	for _, entry := range entries {
		loc, err := Normalize(entry.Loc, base)
		if err != nil {
			t.resolver.logger.Debug("skipping malformed sitemap entry",
				zap.String("sitemap", sitemapURL),
				zap.String("loc", entry.Loc),
				zap.Error(err),
			)
			continue
		}
		if !entry.Sitemap {
			leaves[loc] = struct{}{}
			continue
		}
		if depth+1 > t.resolver.cfg.MaxDepth {
			t.resolver.logger.Warn("sitemap nesting limit reached",
				zap.String("sitemap", loc),
				zap.Int("max_depth", t.resolver.cfg.MaxDepth),
			)
			continue
		}
		if t.claim(loc) {
			children = append(children, loc)
		}
	}
	if len(children) == 0 {
		return leaves
	}

	results := make([]map[string]struct{}, len(children))
	var g errgroup.Group
	g.SetLimit(t.resolver.cfg.Concurrency)
	for i, child := range children {
		g.Go(func() error {
			results[i] = t.resolve(ctx, child, depth+1)
			return nil
		})
	}
	_ = g.Wait()
	for _, set := range results {
		for u := range set {
			leaves[u] = struct{}{}
		}
	}
	return leaves
}

func (r *Resolver) load(ctx context.Context, sitemapURL string) ([]Entry, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	resp, err := r.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		metrics.ObserveSitemapFetch(sitemapURL, outcomeError)
		r.logger.Warn("sitemap fetch failed", zap.String("sitemap", sitemapURL), zap.Error(err))
		return nil, false
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveSitemapFetch(sitemapURL, outcomeStatus)
		r.logger.Warn("sitemap fetch returned non-200",
			zap.String("sitemap", sitemapURL),
			zap.Int("status", resp.StatusCode),
		)
		return nil, false
	}
	entries, err := Parse(resp.Body)
	if err != nil {
		metrics.ObserveSitemapFetch(sitemapURL, outcomeParseError)
		r.logger.Warn("sitemap parse failed", zap.String("sitemap", sitemapURL), zap.Error(err))
		return nil, false
	}
	metrics.ObserveSitemapFetch(sitemapURL, outcomeOK)
	return entries, true
}
