// Package queue defers requests the Router's fallback chain could not
// immediately serve. Short estimated waits block the caller inline; long
// waits hand back a job id for polling. A timer-driven drain re-enters the
// Router once candidates are expected to have recovered.
package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/llmux/internal/metrics"
	"github.com/blueberrycongee/llmux/pkg/errors"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusExpired    Status = "expired"
)

// Job is one deferred request. Sync callers block on done; async callers
// poll Queue.Poll(id) until the job leaves StatusPending/StatusProcessing.
type Job struct {
	ID              string
	CreatedAt       time.Time
	TimeoutAt       time.Time
	EstimatedWaitMs int64
	Capability      string
	RequestedModel  string
	Body            []byte

	mu     sync.Mutex
	status Status
	result []byte
	err    error

	done chan struct{}
}

func (j *Job) setResult(result []byte, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = result
	j.err = err
	if err != nil {
		j.status = StatusError
	} else {
		j.status = StatusDone
	}
	close(j.done)
}

// setExpired marks the job timed out before it ever reached drainFn. Kept
// separate from setResult so a timeout is reported as StatusExpired rather
// than StatusError, matching the 408-vs-500 split the polling endpoint makes.
func (j *Job) setExpired(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	j.status = StatusExpired
	close(j.done)
}

func (j *Job) snapshot() (Status, []byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status, j.result, j.err
}

// PollResult is the outcome of polling a job id.
type PollResult struct {
	Status Status
	Result []byte
	Err    error
}

// DrainFunc re-enters the Router's attempt loop for one queued job. ctx is
// bounded by the job's remaining time-to-live.
type DrainFunc func(ctx context.Context, capability, requestedModel string, body []byte) ([]byte, error)

const interJobPause = 50 * time.Millisecond

// Queue holds pending/processing jobs in memory and schedules a debounced
// drain pass whenever a new job arrives or a prior pass finishes.
type Queue struct {
	maxSize        int
	timeout        time.Duration
	asyncThreshold time.Duration

	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string // job ids, FIFO by CreatedAt

	drainFn DrainFunc
	timer   *time.Timer

	completed *cache.Cache // async results, retained after completion

	logger *slog.Logger
}

// New constructs a Queue. SetDrainFunc must be called before any job can
// actually be processed; until then drain passes no-op.
func New(maxSize int, timeout, asyncThreshold time.Duration, logger *slog.Logger) *Queue {
	return &Queue{
		maxSize:        maxSize,
		timeout:        timeout,
		asyncThreshold: asyncThreshold,
		jobs:           make(map[string]*Job),
		completed:      cache.New(60*time.Second, 2*time.Minute),
		logger:         logger,
	}
}

// SetDrainFunc injects the callback that actually performs the deferred
// attempt. Kept separate from New to break the Router↔Queue construction
// cycle: the Router needs a Queue to hand off to, and the Queue needs the
// Router's Attempt to drain with.
func (q *Queue) SetDrainFunc(fn DrainFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drainFn = fn
}

// EnqueueResult is returned by Enqueue; exactly one of Result/JobID is set.
type EnqueueResult struct {
	Sync            bool
	Result          []byte
	Err             error
	JobID           string
	EstimatedWaitMs int64
}

// Enqueue admits a new job. If estimatedWaitMs is within the async
// threshold, it blocks until the job completes or the queue timeout
// elapses; otherwise it returns a job id immediately for polling.
func (q *Queue) Enqueue(ctx context.Context, capability, requestedModel string, estimatedWaitMs int64, body []byte) EnqueueResult {
	now := time.Now()

	q.mu.Lock()
	if len(q.jobs) >= q.maxSize {
		q.mu.Unlock()
		return EnqueueResult{Err: errors.NewQueueFullError()}
	}

	job := &Job{
		ID:              uuid.NewString(),
		CreatedAt:       now,
		TimeoutAt:       now.Add(q.timeout),
		EstimatedWaitMs: estimatedWaitMs,
		Capability:      capability,
		RequestedModel:  requestedModel,
		Body:            body,
		status:          StatusPending,
		done:            make(chan struct{}),
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	size := len(q.jobs)
	q.mu.Unlock()
	metrics.SetQueueSize(size)

	q.scheduleProcessing(0)

	sync := estimatedWaitMs <= q.asyncThreshold.Milliseconds()
	if !sync {
		return EnqueueResult{Sync: false, JobID: job.ID, EstimatedWaitMs: estimatedWaitMs}
	}

	select {
	case <-job.done:
		_, result, err := job.snapshot()
		return EnqueueResult{Sync: true, Result: result, Err: err}
	case <-ctx.Done():
		return EnqueueResult{Err: ctx.Err()}
	case <-time.After(q.timeout):
		return EnqueueResult{Err: errors.NewQueueTimeoutError(requestedModel)}
	}
}

// Poll reports a job's current state, including StatusExpired for a job that
// timed out. The bool is false when the id is neither live nor retained.
func (q *Queue) Poll(jobID string) (PollResult, bool) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		if cached, found := q.completed.Get(jobID); found {
			pr := cached.(PollResult)
			return pr, true
		}
		return PollResult{}, false
	}

	status, result, err := job.snapshot()
	return PollResult{Status: status, Result: result, Err: err}, true
}

// Size returns the number of jobs currently tracked (pending + processing).
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// scheduleProcessing debounces the drain timer: any pending timer is reset,
// never stacked. Negative delays clamp to zero.
func (q *Queue) scheduleProcessing(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, q.drain)
}

// drain processes every pending job in FIFO order, pausing briefly between
// each to avoid thundering-herd against a vendor that just recovered.
func (q *Queue) drain() {
	q.mu.Lock()
	ids := make([]string, len(q.pending))
	copy(ids, q.pending)
	q.pending = q.pending[:0]
	drainFn := q.drainFn
	q.mu.Unlock()

	sort.SliceStable(ids, func(i, j int) bool {
		ji, oki := q.lookup(ids[i])
		jj, okj := q.lookup(ids[j])
		if !oki || !okj {
			return false
		}
		return ji.CreatedAt.Before(jj.CreatedAt)
	})

	now := time.Now()
	for i, id := range ids {
		job, ok := q.lookup(id)
		if !ok {
			continue
		}

		if now.After(job.TimeoutAt) {
			job.setExpired(errors.NewQueueTimeoutError(job.RequestedModel))
			q.evict(job.ID)
			continue
		}

		job.mu.Lock()
		job.status = StatusProcessing
		job.mu.Unlock()

		if drainFn == nil {
			job.setResult(nil, errors.NewInternalError("", job.RequestedModel, "queue has no drain handler configured"))
			q.evict(job.ID)
			continue
		}

		remaining := job.TimeoutAt.Sub(now)
		ctx, cancel := context.WithTimeout(context.Background(), remaining)
		result, err := drainFn(ctx, job.Capability, job.RequestedModel, job.Body)
		cancel()

		job.setResult(result, err)
		q.evict(job.ID)

		if i < len(ids)-1 {
			time.Sleep(interJobPause)
		}
		now = time.Now()
	}
}

func (q *Queue) lookup(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	return job, ok
}

// evict removes a finished job from the live map after caching its result
// for late pollers, matching the retention window async jobs need.
func (q *Queue) evict(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		delete(q.jobs, id)
	}
	size := len(q.jobs)
	q.mu.Unlock()
	metrics.SetQueueSize(size)

	if !ok {
		return
	}
	status, result, err := job.snapshot()
	q.completed.Set(id, PollResult{Status: status, Result: result, Err: err}, cache.DefaultExpiration)
}
