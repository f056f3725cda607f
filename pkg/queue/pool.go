package queue

import (
	"context"
	"fmt"
	"log/slog"
)

// WorkerPool manages a fixed set of queue workers over one broker.
type WorkerPool struct {
	broker      Broker
	executor    JobExecutor
	workerCount int
	workers     []*Worker
	logger      *slog.Logger
	started     bool
}

// NewWorkerPool creates a pool of workerCount workers. A count of zero
// disables processing in this process (API-only deployment).
func NewWorkerPool(broker Broker, executor JobExecutor, workerCount int) *WorkerPool {
	return &WorkerPool{
		broker:      broker,
		executor:    executor,
		workerCount: workerCount,
		workers:     make([]*Worker, 0, workerCount),
		logger:      slog.Default().With("component", "worker-pool"),
	}
}

// Start spawns the worker goroutines. Safe to call once; subsequent calls
// are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		p.logger.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	if p.workerCount == 0 {
		p.logger.Info("Worker pool disabled (worker count is 0)")
		return
	}

	p.logger.Info("Starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.broker, p.executor)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
}

// Stop signals all workers and waits for their current jobs to finish.
func (p *WorkerPool) Stop() {
	if len(p.workers) == 0 {
		return
	}
	p.logger.Info("Stopping worker pool gracefully")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.logger.Info("Worker pool stopped")
}
