package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/promptsheet/promptsheet/internal/batch"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// ErrRunnerClosed is returned by Enqueue once Shutdown has begun.
var ErrRunnerClosed = errors.New("runner is shut down")

// Job is one accepted bulk submission waiting for a worker.
type Job struct {
	JobID       string
	Messages    []batch.Message
	Config      llm.ModelConfig
	SubmittedAt time.Time
}

// Runner drains accepted bulk submissions through the batch coordinator on a
// small worker pool, so the HTTP surface can return immediately after the job
// record is created. Each in-flight job is polled independently.
type Runner struct {
	coord   *batch.Coordinator
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.ch = make(chan Job, n)
		}
	}
}
func WithJobTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRunner(coord *batch.Coordinator, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		coord:   coord,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 64),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.start()
	return r
}

func (r *Runner) start() {
	r.once.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go func(workerID int) {
				defer r.wg.Done()
				r.logger.Info("worker started", "worker_id", workerID)

				for {
					select {
					case job := <-r.ch:
						r.process(workerID, job)
					case <-r.quit:
						// Drain anything accepted before shutdown began.
						for {
							select {
							case job := <-r.ch:
								r.process(workerID, job)
							default:
								r.logger.Info("worker stopped", "worker_id", workerID)
								return
							}
						}
					}
				}
			}(i + 1)
		}
	})
}

func (r *Runner) process(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	_, err := r.coord.Run(ctx, job.JobID, job.Messages, job.Config)
	cancel()

	if err != nil {
		r.logger.Error("bulk job failed", "worker_id", workerID, "job_id", job.JobID, "error", err)
	} else {
		r.logger.Info("bulk job completed", "worker_id", workerID, "job_id", job.JobID)
	}
}

// Enqueue hands a job to the worker pool. It blocks when the queue is full and
// fails with ErrRunnerClosed once shutdown has begun, so callers never get an
// acknowledgement for a job no worker will run.
func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.logger.Warn("cannot enqueue: runner is shutting down", "job_id", job.JobID)
		return ErrRunnerClosed
	}

	select {
	case r.ch <- job:
	default:
		r.logger.Warn("queue full, applying backpressure", "job_id", job.JobID)
		select {
		case r.ch <- job:
		case <-r.quit:
			return ErrRunnerClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.logger.Info("queued bulk job", "job_id", job.JobID, "messages", len(job.Messages))
	return nil
}

func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); r.wg.Wait() }()

	select {
	case <-ctx.Done():
		r.logger.Warn("shutdown interrupted by context")
	case <-done:
		r.logger.Info("queue drained, shutdown complete")
	}
}
