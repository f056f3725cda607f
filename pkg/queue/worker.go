package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// dequeuePollTimeout bounds each blocking pop so workers notice stop
// signals promptly.
const dequeuePollTimeout = 2 * time.Second

// Broker is the queue surface a worker consumes.
type Broker interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
}

// Worker is a single in-order consumer of the queue. Jobs run sequentially;
// a job may safely take tens of seconds.
type Worker struct {
	id       string
	broker   Broker
	executor JobExecutor
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a worker bound to a broker and executor.
func NewWorker(id string, broker Broker, executor JobExecutor) *Worker {
	return &Worker{
		id:       id,
		broker:   broker,
		executor: executor,
		logger:   slog.Default().With("component", "worker", "worker_id", id),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	w.logger.Info("Worker started")
}

// Stop signals the worker to exit and waits for the current job to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.broker.Dequeue(ctx, dequeuePollTimeout)
		if err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Dequeue failed, backing off", "error", err)
			select {
			case <-w.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		w.logger.Info("Processing job", "job_id", job.ID, "job_name", job.Name)
		start := time.Now()
		if err := w.executor.Execute(ctx, job); err != nil {
			w.logger.Error("Job failed",
				"job_id", job.ID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			continue
		}
		w.logger.Info("Job completed",
			"job_id", job.ID,
			"duration_ms", time.Since(start).Milliseconds())
	}
}
