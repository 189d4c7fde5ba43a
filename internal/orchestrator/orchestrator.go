// Package orchestrator drives a single crawl job from claim to finalize.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/logging"
	"github.com/JakeFAU/nested-link-crawler/internal/metrics"
)

const archiveContentType = "application/json"

// Crawler produces the nested link document for a seed URL.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string) crawler.CrawlResult
}

// Config controls the optional completion side effects.
type Config struct {
	// Topic receives a completion notification per finalized job. Empty disables publishing.
	Topic string
	// ArchivePrefix is prepended to archived result paths.
	ArchivePrefix string
}

// Orchestrator claims, runs, and finalizes jobs.
type Orchestrator struct {
	store     crawler.JobStore
	engine    Crawler
	publisher crawler.Publisher
	archive   crawler.ResultArchive
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. publisher and archive may be nil.
func New(
	store crawler.JobStore,
	engine Crawler,
	publisher crawler.Publisher,
	archive crawler.ResultArchive,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		engine:    engine,
		publisher: publisher,
		archive:   archive,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Claim moves a submitted job to in_progress. crawler.ErrNotClaimable is
// returned as-is when the job is missing or was claimed by someone else.
func (o *Orchestrator) Claim(ctx context.Context, jobID string) (crawler.Job, error) {
	return o.store.ClaimAtomic(ctx, jobID)
}

// Execute runs the full lifecycle of one job. Every failure is logged; nothing
// is returned to the caller.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) {
	logger := o.logger.With(zap.String("job_id", jobID))

	job, err := o.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotClaimable) {
			metrics.ObserveClaimConflict()
		}
		logger.Error("claim failed", zap.Error(err))
		return
	}
	logger = o.logger.With(logging.Job(job.ID, job.URL)...)
	logger.Info("job claimed")

	result := o.crawl(ctx, logger, job)
	status := result.FinalStatus()

	// a claimed job must leave in_progress even if the caller is gone
	finalizeCtx := context.WithoutCancel(ctx)
	if err := o.store.Finalize(finalizeCtx, jobID, result, status); err != nil {
		logger.Error("finalize failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	metrics.ObserveJobFinalized(string(status))
	logger.Info("job finalized",
		zap.String("status", string(status)),
		zap.Int("links", len(result.Links)),
		zap.String("error", result.TopError),
	)

	finished := o.now()
	job.Status = status
	job.Result = &result
	job.UpdatedAt = finished

	if err := o.publishCompletion(finalizeCtx, job, finished); err != nil {
		logger.Warn("completion publish failed", zap.Error(err))
	}
	if uri, err := o.archiveResult(finalizeCtx, job); err != nil {
		logger.Warn("result archive failed", zap.Error(err))
	} else if uri != "" {
		logger.Debug("result archived", zap.String("uri", uri))
	}
}

func (o *Orchestrator) crawl(ctx context.Context, logger *zap.Logger, job crawler.Job) (result crawler.CrawlResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("crawl panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = crawler.NewFailedResult(fmt.Sprintf("internal error: %v", r))
		}
	}()
	return o.engine.Crawl(ctx, job.URL)
}

func (o *Orchestrator) publishCompletion(ctx context.Context, job crawler.Job, finished time.Time) error {
	if o.cfg.Topic == "" || o.publisher == nil {
		return nil
	}
	event := crawler.CompletionEvent{
		JobID:      job.ID,
		URL:        job.URL,
		Status:     job.Status,
		Links:      job.Result.Links,
		Error:      job.Result.TopError,
		FinishedAt: finished,
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (o *Orchestrator) archiveResult(ctx context.Context, job crawler.Job) (string, error) {
	if o.archive == nil {
		return "", nil
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	uri, err := o.archive.PutObject(ctx, ArchivePath(o.cfg.ArchivePrefix, job.ID), archiveContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}

// ArchivePath returns the object path for a job's archived result.
func ArchivePath(prefix, jobID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return jobID + ".json"
	}
	return fmt.Sprintf("%s/%s.json", prefix, jobID)
}
