package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

// Queue is an in-memory implementation of job publisher and consumer.
// A single worker runs jobs one at a time, and a job that is already
// pending for the same user and type absorbs new publishes.
type Queue struct {
	jobChan   chan *jobs.SyncJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger

	pendingMu sync.Mutex
	pending   map[string]*jobs.SyncJob
	timers    map[*time.Timer]struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries sets the retry budget of jobs published without one.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithBackoff sets the base retry delay. Retry n waits n times the base.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

// WithLogger sets the queue logger.
func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishSync blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:    make(chan *jobs.SyncJob, bufferSize),
		closeChan:  make(chan struct{}),
		store:      store,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		log:        zerolog.Nop(),
		pending:    make(map[string]*jobs.SyncJob),
		timers:     make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishSync implements the Publisher interface.
func (q *Queue) PublishSync(ctx context.Context, job *jobs.SyncJob) error {
	if !job.Type.Valid() {
		return fmt.Errorf("invalid job type %q", job.Type)
	}
	if job.UserID == "" {
		return fmt.Errorf("job user ID is required")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.maxRetries
	}
	job.Status = jobs.JobStatusPending

	// The worker owns the queued copy; the caller keeps job.
	queued := *job
	id, err := q.enqueue(ctx, &queued)
	if err != nil {
		return err
	}
	job.JobID = id
	return nil
}

// enqueue queues job unless one with the same key is pending and returns
// the ID of the job that will do the work.
func (q *Queue) enqueue(ctx context.Context, job *jobs.SyncJob) (string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return "", jobs.ErrQueueClosed
	}

	q.pendingMu.Lock()
	if existing, ok := q.pending[job.Key()]; ok {
		id := existing.JobID
		q.pendingMu.Unlock()
		q.log.Debug().
			Str("job_id", id).
			Str("user_id", job.UserID).
			Str("type", string(job.Type)).
			Msg("Coalesced sync job into pending job")
		return id, nil
	}
	q.pending[job.Key()] = job
	q.pendingMu.Unlock()

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.dropPending(job)
			return "", fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return job.JobID, nil
	case <-ctx.Done():
		q.dropPending(job)
		return "", ctx.Err()
	case <-q.closeChan:
		q.dropPending(job)
		return "", jobs.ErrQueueClosed
	}
}

func (q *Queue) dropPending(job *jobs.SyncJob) {
	q.pendingMu.Lock()
	if q.pending[job.Key()] == job {
		delete(q.pending, job.Key())
	}
	q.pendingMu.Unlock()
}

// Start implements the Consumer interface. Jobs run on a single worker
// so two syncs of one user never overlap.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}

	q.wg.Add(1)
	go q.worker(ctx, handler)
	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.dropPending(job)
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.SyncJob, handler jobs.JobHandler) {
	log := q.log.With().
		Str("job_id", job.JobID).
		Str("user_id", job.UserID).
		Str("type", string(job.Type)).
		Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	job.CompletedAt = nil
	q.save(ctx, job)

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying
			backoff := time.Duration(job.RetryCount) * q.backoff
			log.Warn().Err(err).Int("retry", job.RetryCount).Dur("backoff", backoff).Msg("Sync job failed, retrying")
			q.retryAfter(ctx, backoff, job)
		} else {
			job.Status = jobs.JobStatusFailed
			log.Error().Err(err).Int("retries", job.RetryCount).Msg("Sync job failed")
		}
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Info().Dur("duration", completedAt.Sub(now)).Msg("Sync job completed")
	}

	q.save(ctx, job)
}

// retryAfter re-enqueues a copy of job after d. A job already pending for
// the same key makes the retry redundant.
func (q *Queue) retryAfter(ctx context.Context, d time.Duration, job *jobs.SyncJob) {
	retry := *job
	retry.Status = jobs.JobStatusPending
	retry.StartedAt = nil
	retry.CompletedAt = nil

	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		q.pendingMu.Lock()
		delete(q.timers, timer)
		q.pendingMu.Unlock()

		if _, err := q.enqueue(ctx, &retry); err != nil {
			q.log.Debug().Err(err).Str("job_id", retry.JobID).Msg("Dropped sync job retry")
		}
	})
	q.timers[timer] = struct{}{}
}

func (q *Queue) save(ctx context.Context, job *jobs.SyncJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		q.log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue, cancels pending retries and waits for the in-flight job.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	q.pendingMu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	q.pendingMu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
