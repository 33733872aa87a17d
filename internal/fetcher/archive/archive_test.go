package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

func TestFetcherArchivesOKResponses(t *testing.T) {
	t.Parallel()

	next := &fakeFetcher{resp: indexer.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<urlset/>")}}
	blobs := &fakeBlobStore{}
	f := New(next, blobs, fakeHasher{}, "/sitemaps/", zap.NewNop())

	resp, err := f.Fetch(context.Background(), "https://Example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, "<urlset/>", string(resp.Body))
	require.Equal(t, "sitemaps/example.com/digest.xml", blobs.lastPath)
	require.Equal(t, "<urlset/>", string(blobs.lastData))
	require.Equal(t, "application/xml", blobs.lastType)
}

func TestFetcherSkipsNonOKResponses(t *testing.T) {
	t.Parallel()

	next := &fakeFetcher{resp: indexer.FetchResponse{StatusCode: http.StatusNotFound, Body: []byte("nope")}}
	blobs := &fakeBlobStore{}
	f := New(next, blobs, fakeHasher{}, "", nil)

	_, err := f.Fetch(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Empty(t, blobs.lastPath)
}

func TestFetcherIgnoresArchiveFailure(t *testing.T) {
	t.Parallel()

	next := &fakeFetcher{resp: indexer.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<urlset/>")}}
	blobs := &fakeBlobStore{err: errors.New("bucket down")}
	f := New(next, blobs, fakeHasher{}, "", zap.NewNop())

	resp, err := f.Fetch(context.Background(), "https://example.com/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetcherPropagatesFetchError(t *testing.T) {
	t.Parallel()

	next := &fakeFetcher{err: errors.New("dial tcp: refused")}
	f := New(next, &fakeBlobStore{}, fakeHasher{}, "", zap.NewNop())

	_, err := f.Fetch(context.Background(), "https://example.com/sitemap.xml")
	require.ErrorContains(t, err, "refused")
}

func TestBuildPathWithoutPrefix(t *testing.T) {
	t.Parallel()

	f := New(&fakeFetcher{}, &fakeBlobStore{}, fakeHasher{}, "", nil)
	require.Equal(t, "unknown/abc.xml", f.buildPath("::bad", "abc"))
}

type fakeFetcher struct {
	resp indexer.FetchResponse
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) (indexer.FetchResponse, error) {
	return f.resp, f.err
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "digest", nil }

type fakeBlobStore struct {
	mu       sync.Mutex
	lastPath string
	lastType string
	lastData []byte
	err      error
}

func (f *fakeBlobStore) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.lastPath = path
	f.lastType = contentType
	f.lastData = body
	return "memory://" + path, nil
}
