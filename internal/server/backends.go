package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/config"
	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/nested-link-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/nested-link-crawler/internal/fetcher/headless"
	kafkapublisher "github.com/JakeFAU/nested-link-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/nested-link-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/nested-link-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/nested-link-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nested-link-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/nested-link-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/nested-link-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/nested-link-crawler/internal/storage/redis"
	s3storage "github.com/JakeFAU/nested-link-crawler/internal/storage/s3"
	sqlitestore "github.com/JakeFAU/nested-link-crawler/internal/storage/sqlite"
)

// NewFetcher builds the page fetcher selected by fetcher.mode. The returned
// func releases the browser, if any.
func NewFetcher(cfg config.Config) (crawler.PageFetcher, func(), error) {
	switch cfg.Fetcher.Mode {
	case config.FetcherStatic:
		f := collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Fetcher.UserAgent,
			RespectRobots: cfg.Fetcher.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		})
		return f, func() {}, nil
	case config.FetcherHeadless:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout(),
			SettleDelay:       cfg.Headless.SettleDelay,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		return f, f.Close, nil
	case config.FetcherNone:
		return headlessfetcher.Unavailable{Reason: "fetcher.mode is none"}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown fetcher mode %q", cfg.Fetcher.Mode)
	}
}

func setupStore(ctx context.Context, app *App, ids crawler.IDGenerator, clock crawler.Clock) (crawler.JobStore, error) {
	cfg := app.cfg
	switch cfg.Store.Driver {
	case config.DriverMemory:
		app.logger.Warn("using in-memory job store, jobs are lost on restart")
		return memorystorage.NewJobStore(ids, clock), nil
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, pgstore.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool init failed: %w", err)
		}
		app.addCloser("postgres", func() error { pool.Close(); return nil })
		if cfg.DB.AutoMigrate {
			if err := pgstore.Migrate(ctx, pool, app.logger.Named("migrate")); err != nil {
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		s, err := pgstore.NewJobStore(pool, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("postgres job store init failed: %w", err)
		}
		app.logger.Info("using postgres job store")
		return s, nil
	case config.DriverSQLite:
		s, err := sqlitestore.Open(ctx, cfg.SQLite.Path, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("sqlite job store init failed: %w", err)
		}
		app.addCloser("sqlite", s.Close)
		app.logger.Info("using sqlite job store", zap.String("path", cfg.SQLite.Path))
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, ids, clock)
		if err != nil {
			return nil, fmt.Errorf("redis job store init failed: %w", err)
		}
		app.addCloser("redis", s.Close)
		app.logger.Info("using redis job store", zap.String("addr", cfg.Redis.Addr))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	cfg := app.cfg.Publisher
	switch cfg.Driver {
	case config.DriverNone:
		app.logger.Info("completion notifications disabled")
		return nil, nil
	case config.DriverMemory:
		return memorypublisher.New(), nil
	case config.DriverKafka:
		p, err := kafkapublisher.New(cfg.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		app.addCloser("kafka", p.Close)
		app.logger.Info("kafka publisher initialized",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.Topic),
		)
		return p, nil
	case config.DriverPubSub:
		p, err := gcppublisher.Open(ctx, cfg.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.addCloser("pubsub", p.Close)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSubProject),
			zap.String("topic", cfg.Topic),
		)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publisher driver %q", cfg.Driver)
	}
}

func setupArchive(ctx context.Context, app *App) (crawler.ResultArchive, error) {
	cfg := app.cfg.Archive
	switch cfg.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverMemory:
		return memorystorage.NewBlobStore(), nil
	case config.DriverLocal:
		s, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("archiving results locally", zap.String("path", cfg.BaseDir))
		return s, nil
	case config.DriverGCS:
		s, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.addCloser("gcs", s.Close)
		app.logger.Info("archiving results to GCS", zap.String("bucket", cfg.Bucket))
		return s, nil
	case config.DriverS3:
		s3cfg := s3storage.Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		}
		client, err := s3storage.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client init failed: %w", err)
		}
		s, err := s3storage.New(client, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 archive init failed: %w", err)
		}
		app.logger.Info("archiving results to S3", zap.String("bucket", cfg.Bucket))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
