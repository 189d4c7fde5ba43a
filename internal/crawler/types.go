package crawler

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

var (
	// ErrNotClaimable is returned by a claim when the job is missing or no longer submitted.
	ErrNotClaimable = errors.New("job not claimable")
	// ErrJobNotFound signals that the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidStatus is returned when a persisted status is outside the known set.
	ErrInvalidStatus = errors.New("invalid job status")
)

// ParseJobStatus converts a stored status code into a JobStatus, rejecting unknown values.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch status := JobStatus(raw); status {
	case JobStatusSubmitted, JobStatusInProgress, JobStatusDone, JobStatusError:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusSubmitted:
		return next == JobStatusInProgress
	case JobStatusInProgress:
		return next == JobStatusDone || next == JobStatusError
	default:
		return false
	}
}

// ValidateFinalStatus rejects any status a claimed job may not be finalized with.
// Only done and error end a job; anything else would let it be claimed again.
func ValidateFinalStatus(status JobStatus) error {
	if !JobStatusInProgress.CanTransitionTo(status) {
		return fmt.Errorf("%w: %q is not a final status", ErrInvalidStatus, status)
	}
	return nil
}

// Job represents one crawl request plus its lifecycle status and eventual result.
type Job struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	Status    JobStatus    `json:"status"`
	Result    *CrawlResult `json:"result"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CrawlResult is the nested link document produced for a job.
// TopError is set only when the seed page itself could not be fetched.
type CrawlResult struct {
	TopError string       `json:"error,omitempty"`
	Links    []LinkResult `json:"links"`
}

// LinkResult holds the links found on one page discovered from the seed.
type LinkResult struct {
	URL         string   `json:"url"`
	NestedLinks []string `json:"links"`
	NestedError string   `json:"error,omitempty"`
}

// HasError reports whether the seed fetch failed.
func (r CrawlResult) HasError() bool {
	return r.TopError != ""
}

// FinalStatus maps a result onto the terminal job status it implies.
func (r CrawlResult) FinalStatus() JobStatus {
	if r.HasError() {
		return JobStatusError
	}
	return JobStatusDone
}

// NewFailedResult builds a result that carries only a top-level error.
func NewFailedResult(desc string) CrawlResult {
	return CrawlResult{TopError: desc, Links: []LinkResult{}}
}

// ListFilter narrows and paginates job listings.
type ListFilter struct {
	JobID  string
	Offset int
	Limit  int
}

// Clone returns a deep copy of the result.
func (r CrawlResult) Clone() CrawlResult {
	out := CrawlResult{TopError: r.TopError, Links: make([]LinkResult, len(r.Links))}
	for i, link := range r.Links {
		out.Links[i] = LinkResult{
			URL:         link.URL,
			NestedLinks: append([]string{}, link.NestedLinks...),
			NestedError: link.NestedError,
		}
	}
	return out
}

// CompletionEvent is published once a job reaches a terminal status.
type CompletionEvent struct {
	JobID      string       `json:"job_id"`
	URL        string       `json:"url"`
	Status     JobStatus    `json:"status"`
	Links      []LinkResult `json:"links"`
	Error      string       `json:"error,omitempty"`
	FinishedAt time.Time    `json:"finished_at"`
}

// PartitionKey keys broker messages by job so events for one job stay ordered.
func (e CompletionEvent) PartitionKey() string {
	return e.JobID
}
