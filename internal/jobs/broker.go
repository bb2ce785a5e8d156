package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Enqueuer is the producer side of the broker. The CRUD layer and hooks
// that feed other queues depend on this rather than the full Broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue Queue, kind string, payload any) (string, error)
}

// Store is the consumer side of the broker
type Store interface {
	Dequeue(ctx context.Context, queue Queue, batch int) ([]*Job, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, job *Job, jobErr error) error
	RecoverStale(ctx context.Context, queue Queue) (int, error)
}

// Broker is the durable multi-queue job store backed by lb.jobs.
// An enqueue that returns success has committed the row and survives a
// restart; producers never await side-effect completion.
type Broker struct {
	db     bun.IDB
	log    *slog.Logger
	queues map[Queue]config.QueueTuning
}

var _ Enqueuer = (*Broker)(nil)
var _ Store = (*Broker)(nil)

// NewBroker creates the job broker with per-queue tuning from config
func NewBroker(db bun.IDB, cfg *config.Config, log *slog.Logger) *Broker {
	return &Broker{
		db:  db,
		log: log.With(logger.Scope("jobs.broker")),
		queues: map[Queue]config.QueueTuning{
			QueueMail:     cfg.Queues.Mail,
			QueueCounter:  cfg.Queues.Counter,
			QueueActivity: cfg.Queues.Activity,
			QueueSocket:   cfg.Queues.Socket,
		},
	}
}

// Tuning returns the retry/poll settings for a queue
func (b *Broker) Tuning(queue Queue) config.QueueTuning {
	return b.queues[queue]
}

// Enqueue durably persists a job and returns its broker-assigned ID.
// The payload is marshaled once here; failures propagate loudly to the
// caller (a broker outage is the producer's problem to surface, not ours
// to retry).
func (b *Broker) Enqueue(ctx context.Context, queue Queue, kind string, payload any) (string, error) {
	tuning, ok := b.queues[queue]
	if !ok {
		return "", fmt.Errorf("unknown queue %q", queue)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	job := &Job{}

	// Use database now() for scheduled_at so the clock agrees with Dequeue
	err = b.db.NewRaw(`INSERT INTO lb.jobs (queue, kind, payload, status, attempts, max_attempts, enqueued_at, scheduled_at)
		VALUES (?, ?, ?, 'pending', 0, ?, now(), now())
		RETURNING *`,
		string(queue), kind, string(raw), tuning.MaxAttempts,
	).Scan(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", queue, err)
	}

	b.log.Debug("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("queue", string(queue)),
		slog.String("kind", kind))

	return job.ID, nil
}

// Dequeue atomically claims up to batch jobs from one queue.
//
// Uses PostgreSQL's FOR UPDATE SKIP LOCKED so concurrent consumers never
// claim the same row. The broker decides fairness; best-effort FIFO by
// scheduled_at, no ordering promise beyond that.
func (b *Broker) Dequeue(ctx context.Context, queue Queue, batch int) ([]*Job, error) {
	if batch <= 0 {
		batch = b.queues[queue].BatchSize
	}

	var jobs []*Job

	// Strategic SQL: FOR UPDATE SKIP LOCKED for concurrent consumers
	err := b.db.NewRaw(`WITH cte AS (
		SELECT id FROM lb.jobs
		WHERE queue = ? AND status = 'pending' AND scheduled_at <= now()
		ORDER BY scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT ?
	)
	UPDATE lb.jobs j
	SET status = 'processing',
		attempts = attempts + 1,
		started_at = now()
	FROM cte WHERE j.id = cte.id
	RETURNING j.*`, string(queue), batch).Scan(ctx, &jobs)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s jobs: %w", queue, err)
	}

	return jobs, nil
}

// MarkCompleted acknowledges a job; the broker will not redeliver it
func (b *Broker) MarkCompleted(ctx context.Context, id string) error {
	_, err := b.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusCompleted).
		Set("completed_at = now()").
		Set("last_error = NULL").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. Below the attempt budget the job is
// requeued with exponential backoff; at the budget it becomes dead_letter.
// Transient and permanent failures are not distinguished here; a poison
// payload retries until the budget is exhausted (known gap, tunable per
// queue via MAX_ATTEMPTS).
func (b *Broker) MarkFailed(ctx context.Context, job *Job, jobErr error) error {
	tuning := b.queues[job.Queue]
	errorMessage := truncateError(jobErr.Error())

	if job.Attempts < job.MaxAttempts {
		delay := RetryDelay(tuning.BaseRetryDelay, tuning.MaxRetryDelay, job.Attempts)

		_, err := b.db.NewRaw(`UPDATE lb.jobs
			SET status = 'pending',
				last_error = ?,
				started_at = NULL,
				scheduled_at = now() + (? || ' seconds')::interval
			WHERE id = ?`,
			errorMessage, fmt.Sprintf("%d", int(delay.Seconds())), job.ID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("requeue failed job: %w", err)
		}

		b.log.Warn("job failed, retrying",
			slog.String("job_id", job.ID),
			slog.String("queue", string(job.Queue)),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("retry_delay", delay),
			slog.String("error", errorMessage))

		return nil
	}

	// Attempt budget exhausted. The row stays queryable as dead_letter
	// instead of being dropped.
	_, err := b.db.NewUpdate().
		Model((*Job)(nil)).
		Set("status = ?", StatusDeadLetter).
		Set("last_error = ?", errorMessage).
		Set("completed_at = now()").
		Where("id = ?", job.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark dead letter: %w", err)
	}

	b.log.Error("job moved to dead letter",
		slog.String("job_id", job.ID),
		slog.String("queue", string(job.Queue)),
		slog.Int("attempts", job.Attempts),
		slog.String("error", errorMessage))

	return nil
}

// RecoverStale returns jobs stuck in 'processing' longer than the queue's
// visibility window to 'pending'. This is the at-least-once guarantee: a
// consumer that crashed mid-hook never acknowledged, so its jobs are
// redelivered once the window elapses.
func (b *Broker) RecoverStale(ctx context.Context, queue Queue) (int, error) {
	visibility := b.queues[queue].VisibilityTimeout
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}

	result, err := b.db.NewRaw(`UPDATE lb.jobs
		SET status = 'pending',
			started_at = NULL,
			scheduled_at = now()
		WHERE queue = ?
			AND status = 'processing'
			AND started_at < now() - (? || ' seconds')::interval`,
		string(queue), fmt.Sprintf("%d", int(visibility.Seconds()))).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale %s jobs: %w", queue, err)
	}

	count, _ := result.RowsAffected()

	if count > 0 {
		b.log.Warn("recovered stale jobs",
			slog.String("queue", string(queue)),
			slog.Int64("count", count),
			slog.Duration("visibility", visibility))
	}

	return int(count), nil
}

// GetJob retrieves a job by ID. Returns nil when not found.
func (b *Broker) GetJob(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	err := b.db.NewSelect().
		Model(job).
		Where("id = ?", id).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetStats returns statistics for one queue
func (b *Broker) GetStats(ctx context.Context, queue Queue) (*Stats, error) {
	stats := &Stats{}
	err := b.db.NewRaw(`SELECT
		COUNT(*) FILTER (WHERE status = 'pending') as pending,
		COUNT(*) FILTER (WHERE status = 'processing') as processing,
		COUNT(*) FILTER (WHERE status = 'completed') as completed,
		COUNT(*) FILTER (WHERE status = 'dead_letter') as dead_letter
	FROM lb.jobs WHERE queue = ?`, string(queue)).
		Scan(ctx, &stats.Pending, &stats.Processing, &stats.Completed, &stats.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("get %s stats: %w", queue, err)
	}
	return stats, nil
}

// RetryDelay computes the backoff before the next attempt: base × 2^attempt,
// capped at max. Non-decreasing in attempt by construction.
func RetryDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// truncateError truncates an error message to 1000 characters
func truncateError(msg string) string {
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
