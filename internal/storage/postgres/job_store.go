// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JobStore persists crawl jobs in the crawl_jobs table.
type JobStore struct {
	pool  Pool
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewPool opens a pgx connection pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewJobStore builds a store on an existing pool.
func NewJobStore(pool Pool, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	return &JobStore{pool: pool, ids: ids, clock: clock}, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a new submitted job.
func (s *JobStore) Create(ctx context.Context, url string) (crawler.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("new job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:        id,
		URL:       url,
		Status:    crawler.JobStatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const query = `
INSERT INTO crawl_jobs (id, url, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, job.ID, job.URL, string(job.Status), job.CreatedAt, job.UpdatedAt); err != nil {
		return crawler.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// ClaimAtomic locks the submitted row and flips it to in_progress in one transaction.
func (s *JobStore) ClaimAtomic(ctx context.Context, jobID string) (job crawler.Job, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const selectQuery = `
SELECT id::text, url, status, result, created_at, updated_at
FROM crawl_jobs
WHERE id = $1 AND status = 'submitted'
FOR UPDATE`
	job, err = scanJob(tx.QueryRow(ctx, selectQuery, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNotClaimable
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job for claim: %w", err)
	}

	now := s.clock.Now()
	const updateQuery = `UPDATE crawl_jobs SET status = 'in_progress', updated_at = $2 WHERE id = $1`
	if _, err = tx.Exec(ctx, updateQuery, jobID, now); err != nil {
		return crawler.Job{}, fmt.Errorf("mark job in progress: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return crawler.Job{}, fmt.Errorf("commit claim: %w", err)
	}
	job.Status = crawler.JobStatusInProgress
	job.UpdatedAt = now
	return job, nil
}

// Finalize writes the result document and terminal status.
func (s *JobStore) Finalize(
	ctx context.Context,
	jobID string,
	result crawler.CrawlResult,
	status crawler.JobStatus,
) error {
	if err := crawler.ValidateFinalStatus(status); err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	const query = `UPDATE crawl_jobs SET result = $2, status = $3, updated_at = $4 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, payload, string(status), s.clock.Now())
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finalize job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// List returns jobs ordered by created_at then id, newest first.
func (s *JobStore) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case filter.JobID != "":
		const query = `
SELECT id::text, url, status, result, created_at, updated_at
FROM crawl_jobs
WHERE id = $1
OFFSET $2`
		rows, err = s.pool.Query(ctx, query, filter.JobID, max(filter.Offset, 0))
	case filter.Limit > 0:
		const query = `
SELECT id::text, url, status, result, created_at, updated_at
FROM crawl_jobs
ORDER BY created_at DESC, id DESC
OFFSET $1 LIMIT $2`
		rows, err = s.pool.Query(ctx, query, max(filter.Offset, 0), filter.Limit)
	default:
		const query = `
SELECT id::text, url, status, result, created_at, updated_at
FROM crawl_jobs
ORDER BY created_at DESC, id DESC
OFFSET $1`
		rows, err = s.pool.Query(ctx, query, max(filter.Offset, 0))
	}
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]crawler.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job        crawler.Job
		status     string
		resultJSON []byte
	)
	if err := row.Scan(&job.ID, &job.URL, &status, &resultJSON, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return crawler.Job{}, err
	}
	parsed, err := crawler.ParseJobStatus(status)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = parsed
	if len(resultJSON) > 0 {
		var result crawler.CrawlResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result for job %s: %w", job.ID, err)
		}
		job.Result = &result
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}
