package dispatcher

import (
	"context"
	"fmt"
	"sync"
)

// Handle tracks one submitted job. It carries no cancellation.
type Handle struct {
	jobID string
	done  chan struct{}
	once  sync.Once
	err   error
}

func newHandle(jobID string) *Handle {
	return &Handle{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the id the handle was submitted with.
func (h *Handle) JobID() string {
	return h.jobID
}

// Done is closed once the job has finished or was rejected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return fmt.Errorf("wait for job %s: %w", h.jobID, ctx.Err())
	}
}

// Err returns the completion error, or nil while the job is still pending.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) complete(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}
