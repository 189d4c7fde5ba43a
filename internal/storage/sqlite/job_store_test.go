package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%03d", g.n.Add(1)), nil
}

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"),
		&seqIDs{}, &stepClock{now: time.Unix(1_700_000_000, 0).UTC()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", &seqIDs{}, &stepClock{})
	require.Error(t, err)
	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), nil, nil)
	require.Error(t, err)
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	claimed, err := store.ClaimAtomic(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusInProgress, claimed.Status)
	require.Equal(t, job.CreatedAt, claimed.CreatedAt)
	require.Nil(t, claimed.Result)

	require.NoError(t, store.Finalize(ctx, job.ID, crawler.NewFailedResult("dns failure"), crawler.JobStatusError))

	jobs, err := store.List(ctx, crawler.ListFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.JobStatusError, jobs[0].Status)
	require.Equal(t, "dns failure", jobs[0].Result.TopError)
	require.Empty(t, jobs[0].Result.Links)
}

func TestJobStoreClaimIsOneShot(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	_, err = store.ClaimAtomic(ctx, job.ID)
	require.NoError(t, err)
	_, err = store.ClaimAtomic(ctx, job.ID)
	require.ErrorIs(t, err, crawler.ErrNotClaimable)
	_, err = store.ClaimAtomic(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotClaimable)
}

func TestJobStoreConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ClaimAtomic(ctx, job.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestJobStoreFinalizeMissingJob(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	err := store.Finalize(context.Background(), "missing", crawler.CrawlResult{}, crawler.JobStatusDone)
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestJobStoreFinalizeRejectsNonFinalStatus(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = store.ClaimAtomic(ctx, job.ID)
	require.NoError(t, err)

	for _, status := range []crawler.JobStatus{crawler.JobStatusSubmitted, crawler.JobStatusInProgress} {
		err = store.Finalize(ctx, job.ID, crawler.CrawlResult{Links: []crawler.LinkResult{}}, status)
		require.ErrorIs(t, err, crawler.ErrInvalidStatus, "status %q", status)
	}

	_, err = store.ClaimAtomic(ctx, job.ID)
	require.ErrorIs(t, err, crawler.ErrNotClaimable)
	jobs, err := store.List(ctx, crawler.ListFilter{JobID: job.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.JobStatusInProgress, jobs[0].Status)
	require.Nil(t, jobs[0].Result)
}

func TestJobStoreListPagination(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.List(ctx, crawler.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	for i := range 15 {
		_, err := store.Create(ctx, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
	}

	first, err := store.List(ctx, crawler.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, "job-015", first[0].ID)
	require.Equal(t, "job-006", first[9].ID)

	second, err := store.List(ctx, crawler.ListFilter{Offset: 10, Limit: 10})
	require.NoError(t, err)
	require.Len(t, second, 5)
	require.Equal(t, "job-001", second[4].ID)

	all, err := store.List(ctx, crawler.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 15)
}

func TestJobStoreRejectsUnknownStatusOnRead(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE crawl_jobs SET status = 'i' WHERE id = ?`, job.ID)
	require.NoError(t, err)

	_, err = store.List(ctx, crawler.ListFilter{JobID: job.ID})
	require.ErrorIs(t, err, crawler.ErrInvalidStatus)
}
