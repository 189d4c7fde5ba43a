package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
	"github.com/JakeFAU/nested-link-crawler/internal/dispatcher"
	jobid "github.com/JakeFAU/nested-link-crawler/internal/id/uuid"
	"github.com/JakeFAU/nested-link-crawler/internal/metrics"
)

const (
	maxURLLength     = 8192
	maxBodyBytes     = 64 << 10
	defaultJobLimit  = 10
	maxJobLimit      = 100
	defaultJobOffset = 0
)

type parseRequest struct {
	URL string `json:"url"`
}

type parseResponse struct {
	JobID   string    `json:"job_id"`
	Created time.Time `json:"created"`
}

type listResponse struct {
	Jobs []crawler.Job `json:"jobs"`
}

// submitJob handles POST /api/parse. A rejected URL never creates a job.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.submitter.Closed() {
		writeError(w, http.StatusServiceUnavailable, "service shutting down")
		return
	}

	job, err := s.jobStore.Create(r.Context(), req.URL)
	if err != nil {
		s.logger.Error("create job failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	handle := s.submitter.Submit(job.ID)
	select {
	case <-handle.Done():
		if errors.Is(handle.Err(), dispatcher.ErrDispatcherClosed) {
			// shutdown raced the create; the row stays submitted
			s.logger.Warn("job created while shutting down", zap.String("job_id", job.ID))
			writeError(w, http.StatusServiceUnavailable, "service shutting down")
			return
		}
	default:
	}
	metrics.ObserveJobSubmitted()
	s.logger.Info("job submitted", zap.String("job_id", job.ID), zap.String("url", job.URL))
	writeJSON(w, http.StatusAccepted, parseResponse{JobID: job.ID, Created: job.CreatedAt})
}

// listJobs handles GET /api/jobs and GET /api/jobs/{job_id}.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := parseOffsetLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if limit == 0 || (jobID != "" && !jobid.Valid(jobID)) {
		writeJSON(w, http.StatusOK, listResponse{Jobs: []crawler.Job{}})
		return
	}

	jobs, err := s.jobStore.List(r.Context(), crawler.ListFilter{JobID: jobID, Offset: offset, Limit: limit})
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []crawler.Job{}
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs})
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	if len(raw) > maxURLLength {
		return errors.New("url is too long")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return errors.New("url must not contain whitespace")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("url is malformed")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.New("url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return errors.New("url host is required")
	}
	return nil
}

func parseOffsetLimit(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	offset := defaultJobOffset
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	limit := defaultJobLimit
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxJobLimit)
	}
	return offset, limit, nil
}
