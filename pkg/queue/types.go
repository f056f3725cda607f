// Package queue provides the durable FIFO job broker and the worker pool
// that drains it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueUnavailable indicates the broker could not be reached.
	ErrQueueUnavailable = errors.New("queue broker unavailable")

	// ErrNoJobsAvailable indicates an empty queue on a poll.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// Job is one unit of work. The payload is opaque to the broker; cancellation
// scans only inspect its session_id field.
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// JobExecutor processes a dequeued job. Implemented by the worker package.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}
