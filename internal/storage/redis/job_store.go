// Package redis provides a Redis-backed job store. Each job is a hash and a
// sorted set indexes job ids by creation time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
)

const defaultKeyPrefix = "linkcrawler"

// Config describes the Redis connection and key namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// JobStore persists jobs in Redis. Claim and finalize run as Lua scripts so
// the status check and write happen atomically on the server.
type JobStore struct {
	client   goredis.UniversalClient
	prefix   string
	ids      crawler.IDGenerator
	clock    crawler.Clock
	ownsConn bool
}

// NewClient opens a go-redis client for cfg.
func NewClient(cfg Config) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewJobStore wraps an existing client.
func NewJobStore(client goredis.UniversalClient, keyPrefix string, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("id generator and clock are required")
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &JobStore{client: client, prefix: keyPrefix, ids: ids, clock: clock}, nil
}

// Open connects to Redis, verifies the connection, and returns a store that
// closes the client on Close.
func Open(ctx context.Context, cfg Config, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	client := NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	store, err := NewJobStore(client, cfg.KeyPrefix, ids, clock)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.ownsConn = true
	return store, nil
}

// Close releases the client when the store opened it.
func (s *JobStore) Close() error {
	if s == nil || !s.ownsConn {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func (s *JobStore) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, jobID)
}

func (s *JobStore) indexKey() string {
	return s.prefix + ":jobs"
}

// Create writes a submitted job hash and indexes it by creation time.
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

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(id),
		"id", id,
		"url", url,
		"status", string(job.Status),
		"created_at", formatTime(now),
		"updated_at", formatTime(now),
	)
	pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(now.UnixMicro()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// ClaimAtomic flips a submitted job to in_progress inside a Lua script.
func (s *JobStore) ClaimAtomic(ctx context.Context, jobID string) (crawler.Job, error) {
	res, err := claimScript.Run(ctx, s.client, []string{s.jobKey(jobID)}, formatTime(s.clock.Now())).Result()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	fields, ok := res.([]any)
	if !ok {
		return crawler.Job{}, crawler.ErrNotClaimable
	}
	values := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		values[k] = v
	}
	return decodeJob(values)
}

// Finalize stores the result document and terminal status.
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
	updated, err := finalizeScript.Run(ctx, s.client, []string{s.jobKey(jobID)},
		string(payload), string(status), formatTime(s.clock.Now())).Int()
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}
	if updated == 0 {
		return fmt.Errorf("finalize job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// List returns jobs newest first by walking the creation index in reverse.
func (s *JobStore) List(ctx context.Context, filter crawler.ListFilter) ([]crawler.Job, error) {
	var ids []string
	if filter.JobID != "" {
		if filter.Offset <= 0 {
			ids = []string{filter.JobID}
		}
	} else {
		start := int64(max(filter.Offset, 0))
		stop := int64(-1)
		if filter.Limit > 0 {
			stop = start + int64(filter.Limit) - 1
		}
		var err error
		ids, err = s.client.ZRevRange(ctx, s.indexKey(), start, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("list job ids: %w", err)
		}
	}

	jobs := make([]crawler.Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, s.jobKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		job, err := decodeJob(values)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(values map[string]string) (crawler.Job, error) {
	id := values["id"]
	status, err := crawler.ParseJobStatus(values["status"])
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, err)
	}
	created, err := parseTime(values["created_at"])
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job %s created_at: %w", id, err)
	}
	updated, err := parseTime(values["updated_at"])
	if err != nil {
		return crawler.Job{}, fmt.Errorf("job %s updated_at: %w", id, err)
	}
	job := crawler.Job{
		ID:        id,
		URL:       values["url"],
		Status:    status,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if raw, ok := values["result"]; ok && raw != "" {
		var result crawler.CrawlResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result for job %s: %w", id, err)
		}
		job.Result = &result
	}
	return job, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseTime(raw string) (time.Time, error) {
	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("invalid timestamp " + strconv.Quote(raw))
	}
	return time.UnixMicro(micros).UTC(), nil
}

var claimScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'submitted' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', 'in_progress', 'updated_at', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var finalizeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'result', ARGV[1], 'status', ARGV[2], 'updated_at', ARGV[3])
return 1
`)
