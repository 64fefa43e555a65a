package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	domainerrors "bounty-chain.backend/internal/domain/errors"
	"bounty-chain.backend/pkg/logger"
)

// Handler processes one job. A nil return acks; a Transient-wrapped error
// schedules a delayed retry; any other error parks the job as failed once
// attempts run out, and immediately when the error is permanent.
type Handler func(ctx context.Context, job *Job) error

// WorkerOptions tune one queue's worker pool.
type WorkerOptions struct {
	Concurrency int
	// RatePerSec limits handler starts; zero means unlimited.
	RatePerSec float64
	// BackoffBase is doubled per attempt: base, 2*base, 4*base...
	BackoffBase time.Duration
	// PollInterval bounds the BLMOVE block so shutdown and delayed-job
	// promotion stay responsive.
	PollInterval time.Duration
}

// Worker drains one named queue with a bounded pool.
type Worker struct {
	queue   *Queue
	name    string
	handler Handler
	opts    WorkerOptions
	limiter *rate.Limiter
}

// NewWorker creates a worker pool for the named queue.
func NewWorker(q *Queue, name string, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), int(opts.RatePerSec)+1)
	}
	return &Worker{queue: q, name: name, handler: handler, opts: opts, limiter: limiter}
}

// Run blocks until ctx is canceled, draining the queue with
// opts.Concurrency goroutines plus one delayed-job promoter.
func (w *Worker) Run(ctx context.Context) error {
	// deliveries a crashed run left mid-handler go back to pending first
	if reclaimed, err := w.queue.reclaimProcessing(ctx, w.name); err != nil {
		return fmt.Errorf("queue %s: reclaim processing: %w", w.name, err)
	} else if reclaimed > 0 {
		logger.Warn(ctx, fmt.Sprintf("queue %s: requeued %d abandoned deliveries", w.name, reclaimed))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := w.queue.promoteDue(ctx, w.name); err != nil && ctx.Err() == nil {
					logger.Warn(ctx, fmt.Sprintf("queue %s: promote delayed jobs: %v", w.name, err))
				}
			}
		}
	})

	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := w.pollOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Error(ctx, fmt.Sprintf("queue %s: poll: %v", w.name, err))
					// brief pause so a sick redis does not spin the loop
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(w.opts.PollInterval):
					}
				}
			}
		})
	}

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// pollOnce moves one job id onto the processing list before running the
// handler. The id leaves processing only once the delivery is settled, so a
// crash mid-handler is redelivered by the next run's reclaim.
func (w *Worker) pollOnce(ctx context.Context) error {
	jobID, err := w.queue.client.BLMove(ctx, pendingKey(w.name), processingKey(w.name),
		"RIGHT", "LEFT", w.opts.PollInterval).Result()
	if err == goredis.Nil {
		return nil
	}
	if err != nil {
		return err
	}

	job, err := w.queue.getJob(ctx, w.name, jobID)
	if err != nil {
		// left on processing; redelivered after restart
		return err
	}
	if job == nil {
		// removed between pop and load; nothing to do
		_ = w.queue.client.LRem(ctx, processingKey(w.name), 1, jobID).Err()
		return nil
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			// shutting down mid-job: put the id back so another run picks it up
			_ = w.queue.client.LPush(context.Background(), pendingKey(w.name), jobID).Err()
			_ = w.queue.client.LRem(context.Background(), processingKey(w.name), 1, jobID).Err()
			return err
		}
	}

	w.process(ctx, job)
	// the delivery is settled (acked, rescheduled or parked)
	_ = w.queue.client.LRem(context.Background(), processingKey(w.name), 1, jobID).Err()
	return nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	job.Attempt++
	jobCtx := context.WithValue(ctx, logger.JobIDKey, job.ID)

	start := time.Now()
	err := w.handler(jobCtx, job)
	handlerDuration.WithLabelValues(w.name).Observe(time.Since(start).Seconds())

	if err == nil {
		processedTotal.WithLabelValues(w.name).Inc()
		if ackErr := w.queue.ack(ctx, w.name, job.ID); ackErr != nil {
			logger.Error(jobCtx, fmt.Sprintf("queue %s: ack %s: %v", w.name, job.ID, ackErr))
		}
		return
	}

	transient := domainerrors.IsTransient(err)
	if transient && job.Attempt < job.MaxAttempts {
		delay := w.opts.BackoffBase << (job.Attempt - 1)
		logger.Warn(jobCtx, fmt.Sprintf("queue %s: job %s attempt %d/%d failed, retry in %s: %v",
			w.name, job.ID, job.Attempt, job.MaxAttempts, delay, err))
		retriedTotal.WithLabelValues(w.name).Inc()
		if reqErr := w.queue.requeueLater(ctx, job, err.Error(), delay); reqErr != nil {
			logger.Error(jobCtx, fmt.Sprintf("queue %s: requeue %s: %v", w.name, job.ID, reqErr))
		}
		return
	}

	logger.Error(jobCtx, fmt.Sprintf("queue %s: job %s failed permanently after attempt %d: %v",
		w.name, job.ID, job.Attempt, err))
	failedTotal.WithLabelValues(w.name).Inc()
	if failErr := w.queue.fail(ctx, job, err.Error()); failErr != nil {
		logger.Error(jobCtx, fmt.Sprintf("queue %s: park failed job %s: %v", w.name, job.ID, failErr))
	}
}
