package memory

import (
	"context"
	"fmt"
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
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	n atomic.Int64
}

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%03d", g.n.Add(1)), nil
}

func newTestStore() *JobStore {
	return NewJobStore(&seqIDs{}, &stepClock{now: time.Unix(1_700_000_000, 0).UTC()})
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "job-001", job.ID)
	require.Equal(t, crawler.JobStatusSubmitted, job.Status)
	require.Nil(t, job.Result)
	require.False(t, job.CreatedAt.IsZero())

	claimed, err := store.ClaimAtomic(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusInProgress, claimed.Status)
	require.True(t, claimed.UpdatedAt.After(job.CreatedAt))

	result := crawler.CrawlResult{Links: []crawler.LinkResult{{URL: "https://a.test", NestedLinks: []string{"x"}}}}
	require.NoError(t, store.Finalize(ctx, job.ID, result, crawler.JobStatusDone))

	jobs, err := store.List(ctx, crawler.ListFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.JobStatusDone, jobs[0].Status)
	require.Equal(t, result, *jobs[0].Result)

	jobs[0].Result.Links[0].NestedLinks[0] = "mutated"
	again, err := store.List(ctx, crawler.ListFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Equal(t, "x", again[0].Result.Links[0].NestedLinks[0])
}

func TestJobStoreClaimIsOneShot(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	_, err = store.ClaimAtomic(ctx, job.ID)
	require.NoError(t, err)
	_, err = store.ClaimAtomic(ctx, job.ID)
	require.ErrorIs(t, err, crawler.ErrNotClaimable)

	require.NoError(t, store.Finalize(ctx, job.ID, crawler.NewFailedResult("boom"), crawler.JobStatusError))
	_, err = store.ClaimAtomic(ctx, job.ID)
	require.ErrorIs(t, err, crawler.ErrNotClaimable)

	_, err = store.ClaimAtomic(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotClaimable)
}

func TestJobStoreConcurrentClaimsHaveOneWinner(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()
	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)

	const claimers = 32
	var (
		wins  atomic.Int32
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.ClaimAtomic(ctx, job.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
}

func TestJobStoreFinalizeErrors(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	ctx := context.Background()

	err := store.Finalize(ctx, "missing", crawler.CrawlResult{}, crawler.JobStatusDone)
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	job, err := store.Create(ctx, "https://example.com")
	require.NoError(t, err)
	err = store.Finalize(ctx, job.ID, crawler.CrawlResult{}, crawler.JobStatus("x"))
	require.ErrorIs(t, err, crawler.ErrInvalidStatus)
}

func TestJobStoreFinalizeRejectsNonFinalStatus(t *testing.T) {
	t.Parallel()

	store := newTestStore()
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

	store := newTestStore()
	ctx := context.Background()

	empty, err := store.List(ctx, crawler.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)

	for i := range 15 {
		_, err := store.Create(ctx, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
	}

	first, err := store.List(ctx, crawler.ListFilter{Offset: 0, Limit: 10})
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, "job-015", first[0].ID)
	require.Equal(t, "job-006", first[9].ID)

	second, err := store.List(ctx, crawler.ListFilter{Offset: 10, Limit: 10})
	require.NoError(t, err)
	require.Len(t, second, 5)
	require.Equal(t, "job-005", second[0].ID)
	require.Equal(t, "job-001", second[4].ID)

	beyond, err := store.List(ctx, crawler.ListFilter{Offset: 50, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, beyond)

	all, err := store.List(ctx, crawler.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 15)
}

func TestJobStoreListUnknownID(t *testing.T) {
	t.Parallel()

	jobs, err := newTestStore().List(context.Background(), crawler.ListFilter{JobID: "nope"})
	require.NoError(t, err)
	require.Empty(t, jobs)
}
