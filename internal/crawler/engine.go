package crawler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/nested-link-crawler/internal/metrics"
)

// Depth labels used for fetch metrics.
const (
	depthSeed   = 1
	depthNested = 2
)

// EngineConfig tunes the crawl engine.
type EngineConfig struct {
	// NestedConcurrency bounds parallel nested fetches. Values below 2 fetch
	// nested pages one at a time in discovery order.
	NestedConcurrency int
}

// Engine runs the two-level link traversal over a PageFetcher.
type Engine struct {
	fetcher PageFetcher
	cfg     EngineConfig
	logger  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(fetcher PageFetcher, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NestedConcurrency < 1 {
		cfg.NestedConcurrency = 1
	}
	return &Engine{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Crawl fetches the seed page and every distinct link on it exactly once more.
// Fetch failures are recorded in the returned document and never returned as errors.
func (e *Engine) Crawl(ctx context.Context, seedURL string) CrawlResult {
	seedLinks, err := e.fetch(ctx, seedURL, depthSeed)
	if err != nil {
		e.logger.Warn("seed fetch failed", zap.String("url", seedURL), zap.Error(err))
		return NewFailedResult(err.Error())
	}

	targets := SeedLinks(seedURL, seedLinks)
	e.logger.Info("seed fetched", zap.String("url", seedURL), zap.Int("links", len(targets)))

	results := make([]LinkResult, len(targets))
	if e.cfg.NestedConcurrency == 1 {
		for i, target := range targets {
			results[i] = e.crawlNested(ctx, target)
		}
		return CrawlResult{Links: results}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.NestedConcurrency)
	for i, target := range targets {
		g.Go(func() error {
			results[i] = e.crawlNested(ctx, target)
			return nil
		})
	}
	_ = g.Wait() // nested failures are carried as data
	return CrawlResult{Links: results}
}

func (e *Engine) crawlNested(ctx context.Context, target string) LinkResult {
	e.logger.Debug("parsing nested page", zap.String("url", target))
	links, err := e.fetch(ctx, target, depthNested)
	if err != nil {
		e.logger.Warn("nested fetch failed", zap.String("url", target), zap.Error(err))
		return LinkResult{URL: target, NestedLinks: []string{}, NestedError: err.Error()}
	}
	return LinkResult{URL: target, NestedLinks: append([]string{}, links...)}
}

func (e *Engine) fetch(ctx context.Context, url string, depth int) ([]string, error) {
	start := time.Now()
	links, err := e.fetcher.Fetch(ctx, url)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObservePageFetch(depth, outcome, time.Since(start))
	return links, err
}

// SeedLinks filters the links found on the seed page: self links and same-page
// fragment links are dropped, and exact duplicates keep only their first
// occurrence. No URL normalization is applied.
func SeedLinks(seedURL string, links []string) []string {
	fragmentPrefix := seedURL + "#"
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		if link == seedURL || strings.HasPrefix(link, fragmentPrefix) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}
