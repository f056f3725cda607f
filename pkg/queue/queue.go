package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue is a durable FIFO queue backed by a Redis list per queue name.
// Enqueue pushes to the tail; workers block-pop from the head.
type RedisQueue struct {
	client *redis.Client
	name   string
	logger *slog.Logger
}

// NewRedisQueue connects to the broker at the given redis:// URL.
func NewRedisQueue(queueURL, name string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(queueURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue URL: %w", err)
	}
	return &RedisQueue{
		client: redis.NewClient(opts),
		name:   name,
		logger: slog.Default().With("component", "queue", "queue_name", name),
	}, nil
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Close releases the broker connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue appends a job and returns its id. Callers treat failures as
// fire-and-forget: the event row is already persisted and an operator can
// reprocess it.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}
	job := Job{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: raw,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job. Returns ErrNoJobsAvailable
// on an empty poll and ErrQueueUnavailable when the broker is unreachable.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.logger.Error("Dropping undecodable job", "error", err)
		return nil, ErrNoJobsAvailable
	}
	return &job, nil
}

// payloadMatchesSession reports whether a serialized job belongs to the
// given session.
func payloadMatchesSession(data []byte, sessionID string) bool {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return false
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return false
	}
	return payload.SessionID == sessionID
}

// CancelSessionJobs removes still-queued jobs whose payload session_id
// matches. In-flight jobs are not touched. Broker failures degrade to a
// zero count so force-stop stays best-effort.
func (q *RedisQueue) CancelSessionJobs(ctx context.Context, sessionID string) int {
	entries, err := q.client.LRange(ctx, q.name, 0, -1).Result()
	if err != nil {
		q.logger.Warn("Queue scan failed during cancellation",
			"session_id", sessionID, "error", err)
		return 0
	}

	cancelled := 0
	for _, entry := range entries {
		if !payloadMatchesSession([]byte(entry), sessionID) {
			continue
		}
		removed, err := q.client.LRem(ctx, q.name, 1, entry).Result()
		if err != nil {
			q.logger.Warn("Failed to remove queued job",
				"session_id", sessionID, "error", err)
			continue
		}
		cancelled += int(removed)
	}
	return cancelled
}
