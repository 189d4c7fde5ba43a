// Package memory provides in-process job and blob stores for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/nested-link-crawler/internal/clock/system"
	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/id/uuid"
)

// JobStore keeps jobs in a mutex-guarded map.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewJobStore constructs a JobStore. Nil dependencies fall back to UUIDv7 ids
// and the system clock.
func NewJobStore(ids crawler.IDGenerator, clock crawler.Clock) *JobStore {
	if ids == nil {
		ids = uuid.NewUUIDGenerator()
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		ids:   ids,
		clock: clock,
	}
}

// Create stores a new job in submitted status.
func (s *JobStore) Create(_ context.Context, url string) (crawler.Job, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return crawler.Job{}, fmt.Errorf("create job %s: duplicate id", id)
	}
	s.jobs[id] = job
	return job, nil
}

// ClaimAtomic performs the submitted to in_progress check-and-set under the write lock.
func (s *JobStore) ClaimAtomic(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != crawler.JobStatusSubmitted {
		return crawler.Job{}, crawler.ErrNotClaimable
	}
	job.Status = crawler.JobStatusInProgress
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return cloneJob(job), nil
}

// Finalize stores the result and terminal status.
func (s *JobStore) Finalize(
	_ context.Context,
	jobID string,
	result crawler.CrawlResult,
	status crawler.JobStatus,
) error {
	if err := crawler.ValidateFinalStatus(status); err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("finalize job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	stored := result.Clone()
	job.Result = &stored
	job.Status = status
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// List returns jobs newest first. A JobID filter returns at most that one job.
// A Limit of zero or less returns every job after Offset.
func (s *JobStore) List(_ context.Context, filter crawler.ListFilter) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.JobID != "" {
		job, ok := s.jobs[filter.JobID]
		if !ok || filter.Offset > 0 {
			return []crawler.Job{}, nil
		}
		return []crawler.Job{cloneJob(job)}, nil
	}

	all := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		all = append(all, job)
	}
	slices.SortFunc(all, func(a, b crawler.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	start := min(max(filter.Offset, 0), len(all))
	end := len(all)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(all))
	}
	out := make([]crawler.Job, 0, end-start)
	for _, job := range all[start:end] {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

func cloneJob(job crawler.Job) crawler.Job {
	if job.Result != nil {
		result := job.Result.Clone()
		job.Result = &result
	}
	return job
}
