package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/config"
	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/dispatcher"
	"github.com/JakeFAU/nested-link-crawler/internal/storage/memory"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) Execute(_ context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func (r *recordingRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type harness struct {
	server *Server
	store  *memory.JobStore
	runner *recordingRunner
	disp   *dispatcher.Dispatcher
}

func newHarness(t *testing.T, cfg config.Config, checks ...ReadinessCheck) *harness {
	t.Helper()
	store := memory.NewJobStore(nil, &steppingClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	runner := &recordingRunner{}
	disp := dispatcher.New(dispatcher.Config{MaxWorkers: 2}, runner, zap.NewNop())
	disp.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = disp.Shutdown(ctx)
	})
	return &harness{
		server: NewServer(store, disp, cfg, zap.NewNop(), checks...),
		store:  store,
		runner: runner,
		disp:   disp,
	}
}

func (h *harness) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) allJobs(t *testing.T) []crawler.Job {
	t.Helper()
	jobs, err := h.store.List(context.Background(), crawler.ListFilter{})
	require.NoError(t, err)
	return jobs
}

func decodeJobs(t *testing.T, rec *httptest.ResponseRecorder) []crawler.Job {
	t.Helper()
	var resp struct {
		Jobs []crawler.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Jobs)
	return resp.Jobs
}

func TestSubmitJobCreatesAndDispatches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	rec := h.do(t, http.MethodPost, "/api/parse", `{"url":"https://example.com/start"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp parseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.False(t, resp.Created.IsZero())

	jobs := h.allJobs(t)
	require.Len(t, jobs, 1)
	require.Equal(t, resp.JobID, jobs[0].ID)
	require.Equal(t, "https://example.com/start", jobs[0].URL)
	require.Equal(t, crawler.JobStatusSubmitted, jobs[0].Status)

	require.Eventually(t, func() bool {
		ids := h.runner.executed()
		return len(ids) == 1 && ids[0] == resp.JobID
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitJobRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"url":`},
		{name: "missing url", body: `{}`},
		{name: "unsupported scheme", body: `{"url":"ftp://example.com/file"}`},
		{name: "relative", body: `{"url":"/just/a/path"}`},
		{name: "no host", body: `{"url":"https:///path"}`},
		{name: "whitespace", body: `{"url":"https://exa mple.com"}`},
		{name: "malformed", body: `{"url":"http://[::1"}`},
		{name: "too long", body: fmt.Sprintf(`{"url":"https://example.com/%s"}`, strings.Repeat("a", maxURLLength))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, config.Config{})
			rec := h.do(t, http.MethodPost, "/api/parse", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, h.allJobs(t))
			require.Empty(t, h.runner.executed())
		})
	}
}

func TestSubmitJobAfterShutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.disp.Shutdown(ctx))

	rec := h.do(t, http.MethodPost, "/api/parse", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Empty(t, h.allJobs(t))
	require.Empty(t, h.runner.executed())
}

func TestListJobsPaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	created := make([]string, 0, 15)
	for i := range 15 {
		job, err := h.store.Create(context.Background(), fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
		created = append(created, job.ID)
	}

	first := decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs", ""))
	second := decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs?offset=10&limit=10", ""))
	require.Len(t, first, 10)
	require.Len(t, second, 5)

	seen := make([]string, 0, 15)
	for _, job := range append(first, second...) {
		seen = append(seen, job.ID)
	}
	for i, j := 0, len(created)-1; i < j; i, j = i+1, j-1 {
		created[i], created[j] = created[j], created[i]
	}
	require.Equal(t, created, seen)
}

func TestListJobsEmptyStore(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	rec := h.do(t, http.MethodGet, "/api/jobs?offset=0&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
}

func TestListJobsLimitHandling(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	for i := range 3 {
		_, err := h.store.Create(context.Background(), fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, err)
	}
	require.Len(t, decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs?limit=1000", "")), 3)
	require.Empty(t, decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs?limit=0", "")))
	require.Len(t, decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs?offset=2", "")), 1)
}

func TestListJobsRejectsBadPagination(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	for _, query := range []string{"offset=-1", "limit=-5", "offset=abc", "limit=1.5"} {
		rec := h.do(t, http.MethodGet, "/api/jobs?"+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestListJobByID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	job, err := h.store.Create(context.Background(), "https://example.com")
	require.NoError(t, err)
	_, err = h.store.Create(context.Background(), "https://example.org")
	require.NoError(t, err)

	jobs := decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs/"+job.ID, ""))
	require.Len(t, jobs, 1)
	require.Equal(t, job.ID, jobs[0].ID)

	require.Empty(t, decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs/not-a-uuid", "")))
	require.Empty(t, decodeJobs(t, h.do(t, http.MethodGet, "/api/jobs/0190b1f0-0000-7000-8000-000000000000", "")))
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	require.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodGet, "/api/parse", "").Code)
	require.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodPost, "/api/jobs", `{}`).Code)
	require.Empty(t, h.allJobs(t))
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/jobs", "").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/jobs?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(`{"url":"https://example.com"}`))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", "").Code)

	_ = h.do(t, http.MethodGet, "/api/jobs", "")
	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	failing := func(context.Context) error { return errors.New("store down") }
	h := newHarness(t, config.Config{}, failing)
	require.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/readyz", "").Code)
}

type panickingStore struct {
	*memory.JobStore
}

func (panickingStore) List(context.Context, crawler.ListFilter) ([]crawler.Job, error) {
	panic("boom")
}

type failingStore struct {
	*memory.JobStore
}

func (failingStore) Create(context.Context, string) (crawler.Job, error) {
	return crawler.Job{}, errors.New("disk full")
}

func (failingStore) List(context.Context, crawler.ListFilter) ([]crawler.Job, error) {
	return nil, errors.New("disk full")
}

func TestStoreFailuresMapToServerErrors(t *testing.T) {
	t.Parallel()

	disp := dispatcher.New(dispatcher.Config{MaxWorkers: 1}, &recordingRunner{}, nil)
	srv := NewServer(failingStore{memory.NewJobStore(nil, nil)}, disp, config.Config{}, nil)

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/api/parse", `{"url":"https://example.com"}`},
		{http.MethodGet, "/api/jobs", ""},
	} {
		req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusInternalServerError, rec.Code, tc.target)
	}
	require.Zero(t, disp.Pending())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	disp := dispatcher.New(dispatcher.Config{MaxWorkers: 1}, &recordingRunner{}, nil)
	srv := NewServer(panickingStore{memory.NewJobStore(nil, nil)}, disp, config.Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateURL("https://example.com"))
	require.NoError(t, validateURL("HTTP://Example.com:8080/path?q=1#frag"))
	require.Error(t, validateURL("mailto:someone@example.com"))
	require.Error(t, validateURL("example.com"))
}
