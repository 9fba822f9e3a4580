package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/thermo-extraction/internal/common"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("queue is shutting down")

type SessionQueue struct {
	stages  Stages
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  func(Result)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*SessionQueue)

func WithWorkers(n int) Option {
	return func(q *SessionQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *SessionQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithJobTimeout bounds all three stages of one job together.
func WithJobTimeout(d time.Duration) Option {
	return func(q *SessionQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOnDone registers a callback invoked from the worker goroutine after
// every job.
func WithOnDone(fn func(Result)) Option {
	return func(q *SessionQueue) { q.onDone = fn }
}

func NewSessionQueue(stages Stages, logger *slog.Logger, opts ...Option) *SessionQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &SessionQueue{
		stages:  stages,
		logger:  logger,
		workers: 2,
		timeout: 15 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *SessionQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					res := q.run(job)
					if res.Err != nil {
						q.logger.Error("queue.job.failed", "worker_id", workerID, "session_id", job.SessionID,
							"stage", res.Stage, "error", common.MessageOf(res.Err))
					} else {
						q.logger.Info("queue.job.ok", "worker_id", workerID, "session_id", job.SessionID,
							"dataset_id", res.Load.DatasetID, "elapsed_ms", res.Elapsed.Milliseconds())
					}
					if q.onDone != nil {
						q.onDone(res)
					}
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *SessionQueue) run(job Job) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	res := Result{Job: job}
	finish := func(stage string, err error) Result {
		res.Stage, res.Err, res.Elapsed = stage, err, time.Since(start)
		return res
	}

	an, err := q.stages.Analyze(ctx, job.SessionID)
	if err != nil {
		return finish("analyze", err)
	}
	res.Analyze = an
	if an.TablesFound == 0 {
		return finish("analyze", common.FailedPreconditionError("no tables detected"))
	}
	if _, err := q.stages.Extract(ctx, job.SessionID, job.Tables); err != nil {
		return finish("extract", err)
	}
	ld, err := q.stages.Load(ctx, job.SessionID)
	if err != nil {
		return finish("load", err)
	}
	res.Load = ld
	return finish("", nil)
}

// Enqueue blocks while the buffer is full.
func (q *SessionQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "session_id", job.SessionID)
		return ErrClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued session", "session_id", job.SessionID)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "session_id", job.SessionID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for the queued ones to finish or
// for ctx to end.
func (q *SessionQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
