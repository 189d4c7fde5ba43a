// Package sqlite provides a single-file job store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_jobs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    status      TEXT NOT NULL,
    result      TEXT,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_created ON crawl_jobs(created_at DESC, id DESC);
`

const jobColumns = `id, url, status, result, created_at, updated_at`

// JobStore persists jobs in SQLite. Timestamps are stored as Unix microseconds.
type JobStore struct {
	db    *sql.DB
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// Open opens (or creates) the database at path, enables WAL, and creates the schema.
func Open(ctx context.Context, path string, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// single connection: SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &JobStore{db: db, ids: ids, clock: clock}, nil
}

// Close closes the underlying database.
func (s *JobStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crawl_jobs (id, url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, job.URL, string(job.Status), now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// ClaimAtomic is a compare-and-swap on the status column. A lost race
// returns ErrNotClaimable without retrying.
func (s *JobStore) ClaimAtomic(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE crawl_jobs SET status = 'in_progress', updated_at = ?
		WHERE id = ? AND status = 'submitted'
		RETURNING `+jobColumns,
		s.clock.Now().UnixMicro(), jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Job{}, crawler.ErrNotClaimable
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE crawl_jobs SET result = ?, status = ?, updated_at = ? WHERE id = ?
	`, string(payload), string(status), s.clock.Now().UnixMicro(), jobID)
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("finalize job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// List returns jobs newest first.
func (s *JobStore) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	offset := max(filter.Offset, 0)
	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if filter.JobID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM crawl_jobs WHERE id = ? LIMIT ? OFFSET ?
		`, filter.JobID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM crawl_jobs
			ORDER BY created_at DESC, id DESC
			LIMIT ? OFFSET ?
		`, limit, offset)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (crawler.Job, error) {
	var (
		job              crawler.Job
		status           string
		result           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&job.ID, &job.URL, &status, &result, &created, &updated); err != nil {
		return crawler.Job{}, err
	}
	parsed, err := crawler.ParseJobStatus(status)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job %s: %w", job.ID, err)
	}
	job.Status = parsed
	job.CreatedAt = time.UnixMicro(created).UTC()
	job.UpdatedAt = time.UnixMicro(updated).UTC()
	if result.Valid && result.String != "" {
		var decoded crawler.CrawlResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result for job %s: %w", job.ID, err)
		}
		job.Result = &decoded
	}
	return job, nil
}
