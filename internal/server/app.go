// Package server builds the application's dependencies from configuration and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/api"
	"github.com/JakeFAU/nested-link-crawler/internal/clock/system"
	"github.com/JakeFAU/nested-link-crawler/internal/config"
	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/dispatcher"
	"github.com/JakeFAU/nested-link-crawler/internal/id/uuid"
	"github.com/JakeFAU/nested-link-crawler/internal/orchestrator"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     crawler.JobStore
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	cancelWork context.CancelFunc
	closers    []closer
}

type closer struct {
	name string
	fn   func() error
}

// Build creates the application's dependencies. Resources opened before a
// failure are released before the error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()

	logger.Info("building application dependencies",
		zap.String("store", cfg.Store.Driver),
		zap.String("fetcher", cfg.Fetcher.Mode),
		zap.String("publisher", cfg.Publisher.Driver),
		zap.String("archive", cfg.Archive.Driver),
	)

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	app.store, err = setupStore(ctx, app, ids, clock)
	if err != nil {
		return nil, err
	}
	fetcher, closeFetcher, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}
	app.addCloser("fetcher", func() error { closeFetcher(); return nil })

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}

	engine := crawler.NewEngine(fetcher, crawler.EngineConfig{
		NestedConcurrency: cfg.Crawler.NestedConcurrency,
	}, logger.Named("engine"))
	orch := orchestrator.New(app.store, engine, publisher, archive, clock, orchestrator.Config{
		Topic:         cfg.Publisher.Topic,
		ArchivePrefix: cfg.Archive.Prefix,
	}, logger.Named("orchestrator"))
	app.dispatch = dispatcher.New(dispatcher.Config{MaxWorkers: cfg.Crawler.MaxWorkers}, orch, logger.Named("dispatcher"))
	app.apiServer = api.NewServer(app.store, app.dispatch, cfg, logger.Named("api"), storeCheck(app.store))

	return app, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Start launches the dispatcher's worker slots. Jobs run under a context
// detached from ctx so in-flight crawls survive the shutdown signal and
// are drained by Shutdown.
func (a *App) Start(ctx context.Context) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelWork = cancel
	a.dispatch.Start(workCtx)
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	shutdownErr := a.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return shutdownErr
	}
}

// Shutdown drains the dispatcher and releases every backend. Jobs still
// running when ctx ends have their context canceled.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.dispatch.Shutdown(ctx)
	if err != nil {
		a.logger.Warn("dispatcher did not drain", zap.Error(err))
	}
	if a.cancelWork != nil {
		a.cancelWork()
	}
	a.closeResources()
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func storeCheck(s crawler.JobStore) api.ReadinessCheck {
	return func(ctx context.Context) error {
		if _, err := s.List(ctx, crawler.ListFilter{Limit: 1}); err != nil {
			return fmt.Errorf("job store: %w", err)
		}
		return nil
	}
}
