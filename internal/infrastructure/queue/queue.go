package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Queue names used by the pipelines.
const (
	QueueProtocolRegistration = "protocol-registration"
	QueueScanJobs             = "scan-jobs"
	QueueValidation           = "validation-queue"
	QueuePaymentProcessing    = "payment-processing"
)

// Job is one unit of work. Payload is opaque to the queue; handlers decode it.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// EnqueueOptions tune a single enqueue.
type EnqueueOptions struct {
	// Attempts overrides the queue default when > 0.
	Attempts int
	// Delay defers first delivery.
	Delay time.Duration
}

// Counts is the queue depth snapshot used by recovery tooling.
type Counts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Failed     int64 `json:"failed"`
}

// Queue is a redis-backed named job queue with at-least-once delivery and
// idempotent job IDs. The job body lives under a per-job key whose SETNX
// doubles as the dedup guard; the pending list and delayed set only carry ids.
type Queue struct {
	client          *goredis.Client
	defaultAttempts int
}

// NewQueue creates a queue facade over the given redis client.
func NewQueue(client *goredis.Client, defaultAttempts int) *Queue {
	if defaultAttempts <= 0 {
		defaultAttempts = 3
	}
	return &Queue{client: client, defaultAttempts: defaultAttempts}
}

func jobKey(queue, jobID string) string {
	return fmt.Sprintf("queue:%s:job:%s", queue, jobID)
}

func pendingKey(queue string) string {
	return fmt.Sprintf("queue:%s:pending", queue)
}

func delayedKey(queue string) string {
	return fmt.Sprintf("queue:%s:delayed", queue)
}

func processingKey(queue string) string {
	return fmt.Sprintf("queue:%s:processing", queue)
}

func failedKey(queue string) string {
	return fmt.Sprintf("queue:%s:failed", queue)
}

// Enqueue adds a job. A jobID already present (pending, delayed, running or
// failed) makes this a no-op, which is what gives callers idempotent retries.
func (q *Queue) Enqueue(ctx context.Context, queue, jobID string, payload interface{}, opts EnqueueOptions) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.defaultAttempts
	}
	job := Job{
		ID:          jobID,
		Queue:       queue,
		Payload:     raw,
		Attempt:     0,
		MaxAttempts: attempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal job envelope: %w", err)
	}

	set, err := q.client.SetNX(ctx, jobKey(queue, jobID), body, 0).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", queue, jobID, err)
	}
	if !set {
		return false, nil
	}

	if opts.Delay > 0 {
		score := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.client.ZAdd(ctx, delayedKey(queue), goredis.Z{Score: score, Member: jobID}).Err(); err != nil {
			return false, fmt.Errorf("enqueue delayed %s/%s: %w", queue, jobID, err)
		}
		enqueuedTotal.WithLabelValues(queue).Inc()
		return true, nil
	}

	if err := q.client.LPush(ctx, pendingKey(queue), jobID).Err(); err != nil {
		return false, fmt.Errorf("enqueue %s/%s: %w", queue, jobID, err)
	}
	enqueuedTotal.WithLabelValues(queue).Inc()
	return true, nil
}

// Remove deletes a job from every queue structure so the id can be enqueued
// again. Used by the stuck-proof sweeper.
func (q *Queue) Remove(ctx context.Context, queue, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, jobKey(queue, jobID))
	pipe.LRem(ctx, pendingKey(queue), 0, jobID)
	pipe.LRem(ctx, processingKey(queue), 0, jobID)
	pipe.ZRem(ctx, delayedKey(queue), jobID)
	pipe.HDel(ctx, failedKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove %s/%s: %w", queue, jobID, err)
	}
	return nil
}

// Counts returns the queue depth snapshot.
func (q *Queue) Counts(ctx context.Context, queue string) (Counts, error) {
	var c Counts
	var err error
	if c.Pending, err = q.client.LLen(ctx, pendingKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Processing, err = q.client.LLen(ctx, processingKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Delayed, err = q.client.ZCard(ctx, delayedKey(queue)).Result(); err != nil {
		return c, err
	}
	if c.Failed, err = q.client.HLen(ctx, failedKey(queue)).Result(); err != nil {
		return c, err
	}
	return c, nil
}

// FailedJobs lists jobs parked in the failed hash.
func (q *Queue) FailedJobs(ctx context.Context, queue string) ([]*Job, error) {
	raw, err := q.client.HGetAll(ctx, failedKey(queue)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(raw))
	for _, body := range raw {
		var job Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			continue
		}
		out = append(out, &job)
	}
	return out, nil
}

// getJob loads and decodes a job envelope; a nil job means it was removed.
func (q *Queue) getJob(ctx context.Context, queue, jobID string) (*Job, error) {
	body, err := q.client.Get(ctx, jobKey(queue, jobID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job %s/%s: %w", queue, jobID, err)
	}
	return &job, nil
}

// ack removes the job body, releasing the jobID for future enqueues.
func (q *Queue) ack(ctx context.Context, queue, jobID string) error {
	return q.client.Del(ctx, jobKey(queue, jobID)).Err()
}

// requeueLater rewrites the envelope with the bumped attempt and schedules the
// retry on the delayed set.
func (q *Queue) requeueLater(ctx context.Context, job *Job, lastErr string, delay time.Duration) error {
	job.LastError = lastErr
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.Queue, job.ID), body, 0)
	pipe.ZAdd(ctx, delayedKey(job.Queue), goredis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// fail parks the job in the failed hash. The job body key stays so the dedup
// guard holds until an operator removes or re-drives the job.
func (q *Queue) fail(ctx context.Context, job *Job, lastErr string) error {
	job.LastError = lastErr
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.Queue, job.ID), body, 0)
	pipe.HSet(ctx, failedKey(job.Queue), job.ID, body)
	_, err = pipe.Exec(ctx)
	return err
}

// reclaimProcessing moves deliveries left on the processing list back to
// pending. One worker process owns each queue, so at startup anything still
// here was abandoned by a crashed run and must be delivered again.
func (q *Queue) reclaimProcessing(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		_, err := q.client.LMove(ctx, processingKey(queue), pendingKey(queue), "RIGHT", "LEFT").Result()
		if err == goredis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// promoteDue moves delayed jobs whose time has come onto the pending list.
func (q *Queue) promoteDue(ctx context.Context, queue string) error {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, delayedKey(queue), id).Result()
		if err != nil {
			return err
		}
		// another worker may have promoted it first
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, pendingKey(queue), id).Err(); err != nil {
			return err
		}
	}
	return nil
}
