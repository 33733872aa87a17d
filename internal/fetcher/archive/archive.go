// Package archive decorates a Fetcher so every successfully fetched sitemap
// document is also written to a BlobStore.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

const contentType = "application/xml"

// Fetcher archives 200 responses from the wrapped fetcher.
type Fetcher struct {
	next   indexer.Fetcher
	blobs  indexer.BlobStore
	hasher indexer.Hasher
	prefix string
	logger *zap.Logger
}

// New wraps next. Archive failures are logged and never fail the fetch.
func New(
	next indexer.Fetcher,
	blobs indexer.BlobStore,
	hasher indexer.Hasher,
	prefix string,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Fetch delegates to the wrapped fetcher and archives the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (indexer.FetchResponse, error) {
	resp, err := f.next.Fetch(ctx, rawURL)
	if err != nil {
		return resp, fmt.Errorf("archive fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
		return resp, nil
	}
	uri, archErr := f.archive(ctx, rawURL, resp.Body)
	if archErr != nil {
		f.logger.Warn("sitemap archive failed", zap.String("sitemap", rawURL), zap.Error(archErr))
		return resp, nil
	}
	f.logger.Debug("sitemap archived", zap.String("sitemap", rawURL), zap.String("uri", uri))
	return resp, nil
}

func (f *Fetcher) archive(ctx context.Context, rawURL string, body []byte) (string, error) {
	digest, err := f.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash sitemap: %w", err)
	}
	uri, err := f.blobs.PutObject(ctx, f.buildPath(rawURL, digest), contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put sitemap: %w", err)
	}
	return uri, nil
}

func (f *Fetcher) buildPath(rawURL, digest string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	if f.prefix == "" {
		return fmt.Sprintf("%s/%s.xml", host, digest)
	}
	return fmt.Sprintf("%s/%s/%s.xml", f.prefix, host, digest)
}
