package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/storage/memory"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	server := NewServer(h.catalog, h.runs, h.launcher, Config{}, zap.NewNop(), pingerFunc(func(context.Context) error {
		return nil
	}))
	require.Equal(t, http.StatusOK, serve(t, server, http.MethodGet, "/readyz").Code)

	server = NewServer(h.catalog, h.runs, h.launcher, Config{}, zap.NewNop(), pingerFunc(func(context.Context) error {
		return errors.New("database down")
	}))
	rec := serve(t, server, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ListSites(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.catalog.AddSite(context.Background(), "Example", "https://example.com/sitemap.xml")
	require.NoError(t, err)

	rec := serve(t, h.server(), http.MethodGet, "/v1/sites")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []indexer.Site `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 1)
	require.Equal(t, "https://example.com/sitemap.xml", body.Sites[0].SitemapURL)
}

func TestServer_ListSitesEmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/v1/sites")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sites":[]}`, rec.Body.String())
}

func TestServer_ListURLsFiltersBySite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	a, err := h.catalog.AddSite(ctx, "A", "https://a.example/sitemap.xml")
	require.NoError(t, err)
	b, err := h.catalog.AddSite(ctx, "B", "https://b.example/sitemap.xml")
	require.NoError(t, err)
	require.NoError(t, h.catalog.UpsertURL(ctx, a.ID, "https://a.example/1"))
	require.NoError(t, h.catalog.UpsertURL(ctx, a.ID, "https://a.example/2"))
	require.NoError(t, h.catalog.UpsertURL(ctx, b.ID, "https://b.example/1"))

	rec := serve(t, h.server(), http.MethodGet, fmt.Sprintf("/v1/urls?site_id=%d&limit=10", a.ID))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		URLs []indexer.URL `json:"urls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.URLs, 2)
	for _, u := range body.URLs {
		require.Equal(t, a.ID, u.SiteID)
	}
}

func TestServer_ListURLsRejectsBadQuery(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	for _, path := range []string{
		"/v1/urls?site_id=abc",
		"/v1/urls?site_id=0",
		"/v1/urls?limit=-1",
		"/v1/urls?offset=x",
	} {
		rec := serve(t, server, http.MethodGet, path)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_StartRunReturnsAccepted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := serve(t, h.server(), http.MethodPost, "/v1/runs")

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body struct {
		Run store.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body.Run.ID)
	require.Equal(t, store.RunQueued, body.Run.Status)
	require.Equal(t, []string{indexer.TriggerAPI}, h.launcher.triggers)
}

func TestServer_StartRunLaunchFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.launcher.err = errors.New("queue full")

	rec := serve(t, h.server(), http.MethodPost, "/v1/runs")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to start run")
}

func TestServer_ListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	base := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, h.runs.CreateRun(ctx, store.Run{ID: "a", Status: store.RunSucceeded, CreatedAt: base}))
	require.NoError(t, h.runs.CreateRun(ctx, store.Run{ID: "b", Status: store.RunFailed, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, h.runs.CreateRun(ctx, store.Run{ID: "c", Status: store.RunSucceeded, CreatedAt: base.Add(2 * time.Minute)}))

	rec := serve(t, h.server(), http.MethodGet, "/v1/runs?status=succeeded")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "c", body.Runs[0].ID)
	require.Equal(t, "a", body.Runs[1].ID)
}

func TestServer_ListRunsRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/v1/runs?status=exploded")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetRunIncludesSteps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, h.runs.CreateRun(ctx, store.Run{ID: "run-9", Status: store.RunRunning, CreatedAt: now}))
	require.NoError(t, h.runs.SaveStep(ctx, store.Step{
		RunID:     "run-9",
		Name:      "get all sites",
		Status:    store.StepCompleted,
		Attempts:  1,
		Result:    json.RawMessage(`{"sites":[]}`),
		UpdatedAt: now,
	}))
	require.NoError(t, h.runs.SaveStep(ctx, store.Step{
		RunID:     "run-9",
		Name:      "crawl site 1",
		Status:    store.StepFailed,
		Attempts:  3,
		Error:     "connection refused",
		UpdatedAt: now,
	}))

	rec := serve(t, h.server(), http.MethodGet, "/v1/runs/run-9")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run   store.Run        `json:"run"`
		Steps []map[string]any `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-9", body.Run.ID)
	require.Len(t, body.Steps, 2)
	for _, step := range body.Steps {
		require.NotContains(t, step, "result")
		if step["name"] == "crawl site 1" {
			require.Equal(t, "failed", step["status"])
			require.Equal(t, "connection refused", step["error"])
			require.EqualValues(t, 3, step["attempts"])
		}
	}
}

func TestServer_GetRunNotFound(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/v1/runs/missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(t), http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeLauncher struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, trigger string) (store.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.triggers = append(l.triggers, trigger)
	if l.err != nil {
		return store.Run{}, l.err
	}
	return store.Run{
		ID:        fmt.Sprintf("run-%d", len(l.triggers)),
		Trigger:   trigger,
		Status:    store.RunQueued,
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}, nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type harness struct {
	catalog  *memory.Catalog
	runs     *memory.RunStore
	launcher *fakeLauncher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		catalog:  memory.NewCatalog(&fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}),
		runs:     memory.NewRunStore(),
		launcher: &fakeLauncher{},
	}
}

func (h *harness) server() *Server {
	return NewServer(h.catalog, h.runs, h.launcher, Config{RequestTimeout: 5 * time.Second}, zap.NewNop())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newHarness(t).server()
}

func serve(t *testing.T, server *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
