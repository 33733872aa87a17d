package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
)

func TestFetcherReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Agent", r.UserAgent())
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<urlset></urlset>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "indexer-test", Timeout: time.Second}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<urlset></urlset>", string(resp.Body))
	require.Equal(t, "application/xml", resp.Headers.Get("Content-Type"))
	require.Equal(t, "indexer-test", resp.Headers.Get("X-Seen-Agent"))
}

func TestFetcherSurfacesNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, nil)
	resp, err := f.Fetch(context.Background(), srv.URL+"/missing.xml")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetcherRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<urlset/>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, nil)
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/sitemap.xml")
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), hits.Load())
}

func TestFetcherUsesLimiter(t *testing.T) {
	t.Parallel()

	limiter := &stubWaiter{err: errors.New("throttled")}
	f := New(Config{}, limiter)
	_, err := f.Fetch(context.Background(), "https://example.com/sitemap.xml")
	require.ErrorContains(t, err, "throttled")
	require.Equal(t, []string{"https://example.com/sitemap.xml"}, limiter.urls)
}

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: false, Timeout: time.Second}, nil)
	collector := f.buildCollector(time.Unix(0, 0), &indexer.FetchResponse{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.ParseHTTPErrorResponse)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	var result indexer.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Contains(t, collyReq.Headers.Get("Accept"), "application/xml")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/sitemap.xml"),
		},
	})
	require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubWaiter struct {
	urls []string
	err  error
}

func (s *stubWaiter) Wait(_ context.Context, rawURL string) error {
	s.urls = append(s.urls, rawURL)
	return s.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
