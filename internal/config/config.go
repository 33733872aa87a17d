// Package config loads and validates indexer configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers and run backends.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	BackendRedis   = "redis"
)

// Archive storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Runs     RunsConfig     `mapstructure:"runs"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Indexing IndexingConfig `mapstructure:"indexing"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects the catalog engine.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RunsConfig selects where runs and step checkpoints live. An empty backend
// follows database.driver.
type RunsConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// CrawlerConfig governs sitemap fetching.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	Concurrency    int           `mapstructure:"concurrency"`
	HostRPS        float64       `mapstructure:"host_rps"`
	HostBurst      int           `mapstructure:"host_burst"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxDepth       int           `mapstructure:"max_depth"`
}

// WorkflowConfig tunes the crawl-and-submit run and its step retries.
type WorkflowConfig struct {
	CrawlFreshness    time.Duration `mapstructure:"crawl_freshness"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	BatchLimit        int           `mapstructure:"batch_limit"`
	SiteConcurrency   int           `mapstructure:"site_concurrency"`
	SubmitConcurrency int           `mapstructure:"submit_concurrency"`
	StepTimeout       time.Duration `mapstructure:"step_timeout"`
	StepMaxAttempts   int           `mapstructure:"step_max_attempts"`
	StepBaseBackoff   time.Duration `mapstructure:"step_base_backoff"`
	StepMaxBackoff    time.Duration `mapstructure:"step_max_backoff"`
}

// IndexingConfig points at the indexing endpoint and its credentials.
type IndexingConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	ClientEmail     string        `mapstructure:"client_email"`
	PrivateKey      string        `mapstructure:"private_key"`
	AccessToken     string        `mapstructure:"access_token"`
}

// RunnerConfig sizes the run queue and worker pool.
type RunnerConfig struct {
	Workers        int  `mapstructure:"workers"`
	QueueDepth     int  `mapstructure:"queue_depth"`
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

// ScheduleConfig controls the periodic trigger.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// StorageConfig selects the sitemap archive backend.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem archive.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("runs.backend", "")
	v.SetDefault("runs.redis_addr", "")
	v.SetDefault("runs.redis_password", "")
	v.SetDefault("runs.redis_db", 0)
	v.SetDefault("runs.redis_ttl", 168*time.Hour)
	v.SetDefault("crawler.user_agent", "sitemap-indexer/1.0")
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.max_body_bytes", 50<<20)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.host_rps", 5.0)
	v.SetDefault("crawler.host_burst", 5)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_depth", 10)
	v.SetDefault("workflow.crawl_freshness", 24*time.Hour)
	v.SetDefault("workflow.cooldown", 24*time.Hour)
	v.SetDefault("workflow.batch_limit", 100)
	v.SetDefault("workflow.site_concurrency", 8)
	v.SetDefault("workflow.submit_concurrency", 10)
	v.SetDefault("workflow.step_timeout", 5*time.Minute)
	v.SetDefault("workflow.step_max_attempts", 3)
	v.SetDefault("workflow.step_base_backoff", 500*time.Millisecond)
	v.SetDefault("workflow.step_max_backoff", 10*time.Second)
	v.SetDefault("indexing.endpoint", "https://indexing.googleapis.com/")
	v.SetDefault("indexing.timeout", 10*time.Second)
	v.SetDefault("indexing.credentials_file", "")
	v.SetDefault("indexing.client_email", "")
	v.SetDefault("indexing.private_key", "")
	v.SetDefault("indexing.access_token", "")
	v.SetDefault("runner.workers", 1)
	v.SetDefault("runner.queue_depth", 16)
	v.SetDefault("runner.recover_on_start", true)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "*/10 * * * *")
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "sitemaps")
	v.SetDefault("storage.local.base_dir", "data/sitemaps")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be > 0")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.RunsBackend() {
	case DriverMemory, DriverPostgres, DriverSQLite:
		if c.RunsBackend() != c.Database.Driver {
			return fmt.Errorf("runs.backend %q must match database.driver or be redis", c.Runs.Backend)
		}
	case BackendRedis:
		if c.Runs.RedisAddr == "" {
			return errors.New("runs.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("runs.backend %q is not supported", c.Runs.Backend)
	}
	if c.Crawler.RequestTimeout <= 0 {
		return errors.New("crawler.request_timeout must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.HostRPS <= 0 || c.Crawler.HostBurst <= 0 {
		return errors.New("crawler.host_rps and crawler.host_burst must be > 0")
	}
	if c.Crawler.MaxDepth <= 0 {
		return errors.New("crawler.max_depth must be > 0")
	}
	if c.Workflow.BatchLimit <= 0 {
		return errors.New("workflow.batch_limit must be > 0")
	}
	if c.Workflow.Cooldown <= 0 || c.Workflow.CrawlFreshness <= 0 {
		return errors.New("workflow.cooldown and workflow.crawl_freshness must be > 0")
	}
	if c.Workflow.SiteConcurrency <= 0 || c.Workflow.SubmitConcurrency <= 0 {
		return errors.New("workflow concurrency must be > 0")
	}
	if c.Workflow.StepTimeout <= 0 || c.Workflow.StepMaxAttempts <= 0 {
		return errors.New("workflow.step_timeout and workflow.step_max_attempts must be > 0")
	}
	if c.Indexing.Endpoint == "" {
		return errors.New("indexing.endpoint is required")
	}
	if c.Indexing.Timeout <= 0 {
		return errors.New("indexing.timeout must be > 0")
	}
	if c.Runner.Workers <= 0 || c.Runner.QueueDepth <= 0 {
		return errors.New("runner.workers and runner.queue_depth must be > 0")
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return errors.New("storage.local.base_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// RunsBackend resolves the effective run store backend.
func (c Config) RunsBackend() string {
	if c.Runs.Backend == "" {
		return c.Database.Driver
	}
	return c.Runs.Backend
}
