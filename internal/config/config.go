// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the driver and mode settings.
const (
	FetcherHeadless = "headless"
	FetcherStatic   = "static"
	FetcherNone     = "none"

	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverKafka    = "kafka"
	DriverPubSub   = "pubsub"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
	DriverS3       = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the dispatcher and the crawl engine.
type CrawlerConfig struct {
	MaxWorkers        int `mapstructure:"max_workers"`
	NestedConcurrency int `mapstructure:"nested_concurrency"`
}

// FetcherConfig selects the page fetcher.
type FetcherConfig struct {
	Mode           string `mapstructure:"mode"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeoutSec int           `mapstructure:"nav_timeout_seconds"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ExecPath      string        `mapstructure:"exec_path"`
}

// StoreConfig selects the job store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig addresses the Redis job store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PublisherConfig controls completion notifications.
type PublisherConfig struct {
	Driver        string   `mapstructure:"driver"`
	Topic         string   `mapstructure:"topic"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	PubSubProject string   `mapstructure:"pubsub_project"`
}

// ArchiveConfig controls where finalized results are copied.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	Prefix    string `mapstructure:"prefix"`
	Bucket    string `mapstructure:"bucket"`
	BaseDir   string `mapstructure:"base_dir"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// MAX_JOB_WORKERS is accepted for deployments that predate the prefixed name.
	if err := v.BindEnv("crawler.max_workers", "CRAWLER_CRAWLER_MAX_WORKERS", "MAX_JOB_WORKERS"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("crawler.max_workers", 1)
	v.SetDefault("crawler.nested_concurrency", 1)
	v.SetDefault("fetcher.mode", FetcherHeadless)
	v.SetDefault("fetcher.user_agent", "nested-link-crawler/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("headless.max_parallel", 0)
	v.SetDefault("headless.nav_timeout_seconds", 0)
	v.SetDefault("headless.settle_delay", "100ms")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("sqlite.path", "linkcrawler.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "linkcrawler")
	v.SetDefault("publisher.driver", DriverNone)
	v.SetDefault("archive.driver", DriverNone)
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

func (c *Config) normalize() {
	c.Fetcher.Mode = strings.ToLower(strings.TrimSpace(c.Fetcher.Mode))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Publisher.Driver = strings.ToLower(strings.TrimSpace(c.Publisher.Driver))
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	if c.Publisher.Driver == "" {
		c.Publisher.Driver = DriverNone
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = DriverNone
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.MaxWorkers <= 0 {
		return errors.New("crawler.max_workers must be > 0")
	}
	if c.Crawler.NestedConcurrency <= 0 {
		return errors.New("crawler.nested_concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateFetcher(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validatePublisher(); err != nil {
		return err
	}
	return c.validateArchive()
}

func (c Config) validateFetcher() error {
	switch c.Fetcher.Mode {
	case FetcherHeadless:
		if c.Headless.MaxParallel < 0 {
			return errors.New("headless.max_parallel must be >= 0")
		}
		if c.Headless.NavTimeoutSec < 0 {
			return errors.New("headless.nav_timeout_seconds must be >= 0")
		}
		if c.Headless.SettleDelay < 0 {
			return errors.New("headless.settle_delay must be >= 0")
		}
	case FetcherStatic:
		if c.Fetcher.TimeoutSeconds <= 0 {
			return errors.New("fetcher.timeout_seconds must be > 0")
		}
	case FetcherNone:
	default:
		return fmt.Errorf("fetcher.mode %q is not supported", c.Fetcher.Mode)
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set for the postgres store")
		}
	case DriverSQLite:
		if c.SQLite.Path == "" {
			return errors.New("sqlite.path must be set for the sqlite store")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set for the redis store")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	return nil
}

func (c Config) validatePublisher() error {
	switch c.Publisher.Driver {
	case DriverNone, DriverMemory:
	case DriverKafka:
		if len(c.Publisher.KafkaBrokers) == 0 {
			return errors.New("publisher.kafka_brokers must be set for the kafka publisher")
		}
	case DriverPubSub:
		if c.Publisher.PubSubProject == "" {
			return errors.New("publisher.pubsub_project must be set for the pubsub publisher")
		}
	default:
		return fmt.Errorf("publisher.driver %q is not supported", c.Publisher.Driver)
	}
	if c.Publisher.Driver != DriverNone && c.Publisher.Topic == "" {
		return errors.New("publisher.topic must be set when a publisher is configured")
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Driver {
	case DriverNone, DriverMemory:
	case DriverLocal:
		if c.Archive.BaseDir == "" {
			return errors.New("archive.base_dir must be set for the local archive")
		}
	case DriverGCS, DriverS3:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the %s archive", c.Archive.Driver)
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	return nil
}

// NavigationTimeout converts headless.nav_timeout_seconds into a duration. Zero disables the bound.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// FetchTimeout is the per-request timeout of the static fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP and dispatcher shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
