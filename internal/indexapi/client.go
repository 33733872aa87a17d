// Package indexapi submits URL notifications to the Google Indexing API.
package indexapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	indexing "google.golang.org/api/indexing/v3"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitemap-indexer/internal/metrics"
)

// DefaultEndpoint is the base URL of the Indexing API.
const DefaultEndpoint = "https://indexing.googleapis.com/"

const (
	notificationType = "URL_UPDATED"
	maxLoggedBody    = 2048
	defaultTimeout   = 10 * time.Second
)

// Submission outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// ErrMissingCredentials is returned when no token source is configured.
var ErrMissingCredentials = errors.New("indexing credentials are not configured")

// Config controls the client.
type Config struct {
	// Endpoint is the API base URL; the publish path is appended to it.
	Endpoint string
	Timeout  time.Duration
}

// Client implements indexer.Submitter.
type Client struct {
	cfg     Config
	tokens  oauth2.TokenSource
	service *indexing.Service
	logger  *zap.Logger
}

// New builds a Client. Requests go through httpClient's transport wrapped in
// an oauth2.Transport. A nil token source makes Ready report
// ErrMissingCredentials and every Submit fail.
func New(
	ctx context.Context,
	cfg Config,
	tokens oauth2.TokenSource,
	httpClient *http.Client,
	logger *zap.Logger,
) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{cfg: cfg, logger: logger}
	if tokens == nil {
		return c, nil
	}
	c.tokens = oauth2.ReuseTokenSource(nil, tokens)
	authed := &http.Client{
		Transport: &oauth2.Transport{Source: c.tokens, Base: httpClient.Transport},
		Timeout:   httpClient.Timeout,
	}
	service, err := indexing.NewService(ctx,
		option.WithHTTPClient(authed),
		option.WithEndpoint(cfg.Endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("create indexing service: %w", err)
	}
	c.service = service
	return c, nil
}

// Ready mints an access token so unusable credentials surface before any
// submission is attempted.
func (c *Client) Ready(ctx context.Context) error {
	if c.tokens == nil {
		return ErrMissingCredentials
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.tokens.Token(); err != nil {
		return fmt.Errorf("obtain indexing access token: %w", err)
	}
	return nil
}

// Submit publishes a URL_UPDATED notification. It returns true only for HTTP
// 200; transport errors, timeouts and every other status return false. Each
// attempt logs exactly one line.
func (c *Client) Submit(ctx context.Context, pageURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	status, body, err := c.publish(ctx, pageURL)
	fields := []zap.Field{
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("url", pageURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	}
	switch {
	case err != nil:
		metrics.ObserveSubmission(OutcomeError)
		c.logger.Warn("indexing submission failed",
			append(fields, zap.String("outcome", OutcomeError), zap.Error(err))...)
		return false
	case status != http.StatusOK:
		metrics.ObserveSubmission(OutcomeRejected)
		c.logger.Warn("indexing submission rejected",
			append(fields, zap.String("outcome", OutcomeRejected), zap.String("body", truncate(body)))...)
		return false
	default:
		metrics.ObserveSubmission(OutcomeSuccess)
		c.logger.Info("indexing submission accepted", append(fields, zap.String("outcome", OutcomeSuccess))...)
		return true
	}
}

// publish returns the response status. API rejections are reported as a
// status and body with a nil error.
func (c *Client) publish(ctx context.Context, pageURL string) (int, string, error) {
	if c.service == nil {
		return 0, "", ErrMissingCredentials
	}
	resp, err := c.service.UrlNotifications.
		Publish(&indexing.UrlNotification{Url: pageURL, Type: notificationType}).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return apiErr.Code, apiErr.Body, nil
		}
		return 0, "", fmt.Errorf("publish notification: %w", err)
	}
	return resp.HTTPStatusCode, "", nil
}

func truncate(body string) string {
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	return body
}
