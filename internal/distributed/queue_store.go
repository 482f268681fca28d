package distributed

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// PersistedJob is the wire shape written to prefix:queue:job:<id>.
type PersistedJob struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	TimeoutAt       time.Time `json:"timeout_at"`
	EstimatedWaitMs int64     `json:"estimated_wait_ms"`
	Capability      string    `json:"capability"`
	RequestedModel  string    `json:"requested_model"`
	Body            []byte    `json:"body"`
}

// PersistedResult is the wire shape written to prefix:queue:result:<id>.
type PersistedResult struct {
	Status string `json:"status"`
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

const queueResultTTL = 3600 * time.Second

func (s *Store) queuePendingKey() string      { return s.prefix + ":queue:pending" }
func (s *Store) queueJobKey(id string) string { return s.prefix + ":queue:job:" + id }
func (s *Store) queueResultKey(id string) string { return s.prefix + ":queue:result:" + id }

// PushPending appends a job id to the pending list and persists its fields,
// making it visible to any instance that drains next.
func (s *Store) PushPending(ctx context.Context, job PersistedJob) {
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Debug("marshal persisted job failed", "job_id", job.ID, "error", err)
		return
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.queuePendingKey(), job.ID)
	pipe.Set(ctx, s.queueJobKey(job.ID), data, queueResultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Debug("push pending job failed", "job_id", job.ID, "error", err)
	}
}

// popPendingScript atomically pops the head of the pending list so that
// when multiple instances drain concurrently, each job is claimed by
// exactly one of them.
var popPendingScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return nil
end
return id
`)

// PopPending claims the next pending job id, or "" if the list is empty.
func (s *Store) PopPending(ctx context.Context) (string, error) {
	val, err := popPendingScript.Run(ctx, s.client, []string{s.queuePendingKey()}).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, ok := val.(string)
	if !ok {
		return "", nil
	}
	return id, nil
}

// LoadJob fetches a previously persisted job's fields.
func (s *Store) LoadJob(ctx context.Context, id string) (PersistedJob, bool) {
	data, err := s.client.Get(ctx, s.queueJobKey(id)).Bytes()
	if err != nil {
		return PersistedJob{}, false
	}
	var job PersistedJob
	if err := json.Unmarshal(data, &job); err != nil {
		return PersistedJob{}, false
	}
	return job, true
}

// SaveResult persists a completed job's outcome with a 3600s TTL so other
// instances can serve polls for it.
func (s *Store) SaveResult(ctx context.Context, id string, result PersistedResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Debug("marshal queue result failed", "job_id", id, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.queueResultKey(id), data, queueResultTTL).Err(); err != nil {
		s.logger.Debug("save queue result failed", "job_id", id, "error", err)
	}
}

// LoadResult fetches a persisted result, if any instance has completed it.
func (s *Store) LoadResult(ctx context.Context, id string) (PersistedResult, bool) {
	data, err := s.client.Get(ctx, s.queueResultKey(id)).Bytes()
	if err != nil {
		return PersistedResult{}, false
	}
	var res PersistedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return PersistedResult{}, false
	}
	return res, true
}

// PendingCount reports the current size of the shared pending list, used on
// startup to decide whether to trigger an immediate drain.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.queuePendingKey()).Result()
}
