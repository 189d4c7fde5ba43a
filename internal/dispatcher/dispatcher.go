// Package dispatcher runs submitted jobs on a fixed pool of worker slots.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/metrics"
	"github.com/JakeFAU/nested-link-crawler/internal/queue/memory"
)

var (
	// ErrDispatcherClosed completes handles submitted after Shutdown began.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrJobPanicked completes the handle of a job whose runner panicked.
	ErrJobPanicked = errors.New("job panicked")
)

// Runner executes one job to completion. It owns all error handling for the job.
type Runner interface {
	Execute(ctx context.Context, jobID string)
}

// Config tunes the dispatcher.
type Config struct {
	// MaxWorkers is the number of concurrent slots. Values below 1 become 1.
	MaxWorkers int
}

// Dispatcher admits job ids into an unbounded FIFO and runs at most
// MaxWorkers of them at a time.
type Dispatcher struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
	queue  *memory.Queue[*Handle]

	busy      atomic.Int64
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Dispatcher. Call Start before expecting submissions to run.
func New(cfg Config, runner Runner, logger *zap.Logger) *Dispatcher {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		queue:  memory.NewQueue[*Handle](),
	}
}

// MaxWorkers returns the effective slot count.
func (d *Dispatcher) MaxWorkers() int {
	return d.cfg.MaxWorkers
}

// Start launches the worker slots. ctx is handed to every job; canceling it
// stops slots from taking new work. Subsequent calls are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.logger.Info("dispatcher starting", zap.Int("max_workers", d.cfg.MaxWorkers))
		for slot := range d.cfg.MaxWorkers {
			d.wg.Add(1)
			go d.runSlot(ctx, slot)
		}
	})
}

// Submit queues a job id for execution. It never blocks and never rejects
// for capacity. After Shutdown the returned handle is already completed with
// ErrDispatcherClosed.
func (d *Dispatcher) Submit(jobID string) *Handle {
	h := newHandle(jobID)
	if err := d.queue.Push(h); err != nil {
		d.logger.Warn("job rejected, dispatcher closed", zap.String("job_id", jobID))
		h.complete(ErrDispatcherClosed)
		return h
	}
	metrics.SetPendingJobs(d.queue.Len())
	d.logger.Debug("job submitted", zap.String("job_id", jobID))
	return h
}

// Pending reports the number of jobs waiting for a slot.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Closed reports whether Shutdown has begun. Submissions after that point are rejected.
func (d *Dispatcher) Closed() bool {
	return d.queue.Closed()
}

// Busy reports the number of slots currently executing a job.
func (d *Dispatcher) Busy() int {
	return int(d.busy.Load())
}

// Shutdown stops admission, lets the slots drain the queue, and waits for them
// until ctx ends. Jobs still queued when the slots are gone, or when ctx ends
// first, complete with ErrDispatcherClosed and are never started.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		rejected := d.rejectQueued()
		d.logger.Warn("dispatcher shutdown timed out",
			zap.Int("rejected", rejected),
			zap.Int64("busy", d.busy.Load()),
		)
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}

	d.rejectQueued()
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) rejectQueued() int {
	queued := d.queue.Drain()
	for _, h := range queued {
		h.complete(ErrDispatcherClosed)
	}
	metrics.SetPendingJobs(0)
	return len(queued)
}

func (d *Dispatcher) runSlot(ctx context.Context, slot int) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("slot", slot))
	for {
		h, err := d.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				logger.Debug("slot stopping", zap.Error(err))
			}
			return
		}
		metrics.SetPendingJobs(d.queue.Len())
		if ctx.Err() != nil {
			// never start a job once the work context is gone
			h.complete(ErrDispatcherClosed)
			return
		}
		d.execute(ctx, logger, h)
	}
}

func (d *Dispatcher) execute(ctx context.Context, logger *zap.Logger, h *Handle) {
	d.busy.Add(1)
	metrics.IncActiveWorkers()
	defer func() {
		d.busy.Add(-1)
		metrics.DecActiveWorkers()
		if r := recover(); r != nil {
			logger.Error("job runner panicked",
				zap.String("job_id", h.jobID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			h.complete(fmt.Errorf("%w: %v", ErrJobPanicked, r))
			return
		}
		h.complete(nil)
	}()
	d.runner.Execute(ctx, h.jobID)
}
