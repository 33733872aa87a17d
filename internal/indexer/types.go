package indexer

import (
	"errors"
	"net/http"
	"time"
)

// ErrSiteNotFound is returned when a site lookup misses.
var ErrSiteNotFound = errors.New("site not found")

// Site is a registered publisher whose sitemap is crawled.
type Site struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	SitemapURL string    `json:"sitemap_url"`
	CreatedAt  time.Time `json:"created_at"`
	// UpdatedAt gates whether the site is re-crawled in a run.
	UpdatedAt time.Time `json:"updated_at"`
}

// URL is a leaf URL discovered in a site's sitemap tree.
type URL struct {
	ID     int64  `json:"id"`
	SiteID int64  `json:"site_id"`
	URL    string `json:"url"`
	// LastIndexSubmitted is nil until a submission succeeds.
	LastIndexSubmitted *time.Time `json:"last_index_submitted,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// URLFilter narrows ListURLs.
type URLFilter struct {
	SiteID *int64
	Limit  int
	Offset int
}

// FetchResponse captures a single sitemap HTTP response.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem is a queued workflow run.
type QueueItem struct {
	RunID     string
	Trigger   string
	Attempt   int
	Submitted int64
}

// Run triggers.
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
	TriggerRecovery = "recovery"
)
