package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/metrics"
)

// JobType identifies the kind of background work a job carries
type JobType string

const (
	ClassificationBatch JobType = "classification_batch"
	DecisionGeneration  JobType = "decision_generation"
	WebhookRetry        JobType = "webhook_retry"
	RetentionCleanup    JobType = "retention_cleanup"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// JobPriority orders pending jobs
type JobPriority int

const (
	PriorityLow    JobPriority = 0
	PriorityNormal JobPriority = 1
	PriorityHigh   JobPriority = 2
)

// Job represents a unit of background work
type Job struct {
	ID          string      `json:"id"`
	Type        JobType     `json:"type"`
	Status      JobStatus   `json:"status"`
	Priority    JobPriority `json:"priority"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Data        interface{} `json:"data"`
	Result      interface{} `json:"result,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	cancel      context.CancelFunc
}

// Handler processes a single job. Returning an error requeues the job
// until its retry budget runs out.
type Handler func(ctx context.Context, job *Job) error

// Queue is an in-process worker pool for background jobs. Pending jobs
// run in priority order; failed jobs are requeued after a fixed delay
// up to MaxRetries.
type Queue struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	pending    []*Job
	running    map[string]*Job
	handlers   map[JobType]Handler
	workers    int
	workerPool chan struct{}
	retryDelay time.Duration
	jobTimeout time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	log        logger.Logger
}

// Option customizes queue construction
type Option func(*Queue)

// WithRetryDelay sets the wait before a failed job is requeued
func WithRetryDelay(d time.Duration) Option {
	return func(q *Queue) { q.retryDelay = d }
}

// WithJobTimeout bounds a single handler invocation
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) { q.jobTimeout = d }
}

// NewQueue creates and starts a job queue with the given worker count
func NewQueue(workers int, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:       make(map[string]*Job),
		running:    make(map[string]*Job),
		handlers:   make(map[JobType]Handler),
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		retryDelay: 5 * time.Second,
		jobTimeout: 10 * time.Minute,
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.New("jobs"),
	}

	for _, opt := range opts {
		opt(q)
	}

	for i := 0; i < workers; i++ {
		q.workerPool <- struct{}{}
	}

	go q.processLoop()

	return q
}

// RegisterHandler registers the handler for a job type
func (q *Queue) RegisterHandler(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Enqueue adds a job to the queue
func (q *Queue) Enqueue(job *Job) error {
	if job.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}

	job.Status = StatusPending
	job.CreatedAt = time.Now().UTC()

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job)
	q.sortPending()
	q.mu.Unlock()

	q.log.Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("type", string(job.Type)))

	return nil
}

func (q *Queue) processLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchNext()
		}
	}
}

func (q *Queue) dispatchNext() {
	select {
	case <-q.workerPool:
	default:
		return
	}

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.workerPool <- struct{}{}
		q.mu.Unlock()
		return
	}

	job := q.pending[0]
	q.pending = q.pending[1:]
	q.running[job.ID] = job
	q.mu.Unlock()

	go q.execute(job)
}

func (q *Queue) execute(job *Job) {
	defer func() {
		q.workerPool <- struct{}{}
	}()

	ctx, cancel := context.WithTimeout(q.ctx, q.jobTimeout)
	defer cancel()

	now := time.Now().UTC()
	q.mu.Lock()
	job.cancel = cancel
	job.StartedAt = &now
	job.Status = StatusRunning
	handler, ok := q.handlers[job.Type]
	attempt := *job
	q.mu.Unlock()

	if !ok {
		q.mu.Lock()
		job.LastError = fmt.Sprintf("no handler registered for job type: %s", job.Type)
		q.mu.Unlock()
		q.finish(job, StatusFailed)
		return
	}

	// The handler works on a private copy; its writes are folded back
	// under the lock so concurrent pollers never observe a half-written
	// job.
	err := handler(ctx, &attempt)

	q.mu.Lock()
	job.Result = attempt.Result
	job.Message = attempt.Message
	job.Progress = attempt.Progress
	if err != nil {
		job.RetryCount++
		job.LastError = err.Error()
	}
	retries := job.RetryCount
	q.mu.Unlock()

	if err == nil {
		q.finish(job, StatusCompleted)
		return
	}

	if retries >= job.MaxRetries {
		q.log.Error("job failed permanently",
			logger.String("job_id", job.ID),
			logger.String("type", string(job.Type)),
			logger.Int("retries", retries),
			logger.Error(err))
		q.finish(job, StatusFailed)
		return
	}

	q.log.Warn("job failed, retrying",
		logger.String("job_id", job.ID),
		logger.String("type", string(job.Type)),
		logger.Int("retry", retries),
		logger.Error(err))

	q.mu.Lock()
	delete(q.running, job.ID)
	q.mu.Unlock()

	// Requeue after a fixed delay so a flapping dependency gets a
	// chance to recover
	timer := time.AfterFunc(q.retryDelay, func() {
		q.mu.Lock()
		job.Status = StatusPending
		q.pending = append(q.pending, job)
		q.sortPending()
		q.mu.Unlock()
	})

	go func() {
		<-q.ctx.Done()
		timer.Stop()
	}()
}

func (q *Queue) finish(job *Job, status JobStatus) {
	now := time.Now().UTC()

	q.mu.Lock()
	job.CompletedAt = &now
	job.Status = status
	delete(q.running, job.ID)
	q.mu.Unlock()

	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(status)).Inc()
}

// GetJob returns a snapshot of a job by ID. The copy is detached from
// the queue, so callers can poll it freely while workers mutate the
// underlying job.
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	snapshot := *job
	snapshot.cancel = nil
	return &snapshot, nil
}

// CancelJob cancels a pending or running job
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}

	switch job.Status {
	case StatusPending:
		for i, pending := range q.pending {
			if pending.ID == id {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
	case StatusRunning:
		if job.cancel != nil {
			job.cancel()
		}
		delete(q.running, id)
	default:
		return fmt.Errorf("job cannot be cancelled, status: %s", job.Status)
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	metrics.JobsProcessed.WithLabelValues(string(job.Type), string(StatusCancelled)).Inc()

	return nil
}

// Status summarizes the queue
func (q *Queue) Status() map[string]interface{} {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := map[JobStatus]int{}
	for _, job := range q.jobs {
		counts[job.Status]++
	}

	return map[string]interface{}{
		"workers":   q.workers,
		"pending":   len(q.pending),
		"running":   len(q.running),
		"completed": counts[StatusCompleted],
		"failed":    counts[StatusFailed],
		"cancelled": counts[StatusCancelled],
	}
}

// PendingJobs returns a snapshot of the pending queue in run order
func (q *Queue) PendingJobs() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*Job, len(q.pending))
	for i, job := range q.pending {
		snapshot := *job
		snapshot.cancel = nil
		out[i] = &snapshot
	}
	return out
}

// sortPending orders by priority descending, then FIFO
func (q *Queue) sortPending() {
	for i := 0; i < len(q.pending)-1; i++ {
		for j := i + 1; j < len(q.pending); j++ {
			if q.pending[j].Priority > q.pending[i].Priority ||
				(q.pending[j].Priority == q.pending[i].Priority &&
					q.pending[j].CreatedAt.Before(q.pending[i].CreatedAt)) {
				q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
			}
		}
	}
}

// Shutdown stops the queue and waits for running jobs to drain
func (q *Queue) Shutdown(ctx context.Context) error {
	q.cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout")
		case <-ticker.C:
			q.mu.RLock()
			running := len(q.running)
			q.mu.RUnlock()
			if running == 0 {
				return nil
			}
		}
	}
}
