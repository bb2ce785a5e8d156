// Package jobs provides the PostgreSQL-backed side-effect pipeline:
// durable named queues, at-least-once delivery via visibility-window
// recovery, and polling consumers with bounded concurrency.
//
// The pattern:
//   - Idempotent hooks tolerate redelivery
//   - Atomic dequeue with FOR UPDATE SKIP LOCKED
//   - Exponential backoff for retries
//   - Stale job recovery (the visibility window)
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Queue names one of the four side-effect pipelines. The set is closed:
// a new side-effect concern gets a new queue, never a branch inside an
// existing one, so retry and backoff policy stays per-concern.
type Queue string

const (
	QueueMail     Queue = "mail"
	QueueCounter  Queue = "counter"
	QueueActivity Queue = "activity"
	QueueSocket   Queue = "socket"
)

// Queues returns all known queue names
func Queues() []Queue {
	return []Queue{QueueMail, QueueCounter, QueueActivity, QueueSocket}
}

// ParseQueue validates a queue name from an external caller
func ParseQueue(s string) (Queue, error) {
	switch q := Queue(s); q {
	case QueueMail, QueueCounter, QueueActivity, QueueSocket:
		return q, nil
	}
	return "", fmt.Errorf("unknown queue %q", s)
}

// Status represents the processing state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter" // Permanently failed after max attempts
)

// Job represents one unit of work in lb.jobs. The payload is immutable once
// enqueued; a retry redelivers the same bytes.
type Job struct {
	bun.BaseModel `bun:"table:lb.jobs,alias:j"`

	ID          string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Queue       Queue           `bun:"queue,notnull" json:"queue"`
	Kind        string          `bun:"kind,notnull" json:"kind"`
	Payload     json.RawMessage `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	Status      Status          `bun:"status,notnull,default:'pending'" json:"status"`
	Attempts    int             `bun:"attempts,notnull,default:0" json:"attempts"`
	MaxAttempts int             `bun:"max_attempts,notnull,default:3" json:"maxAttempts"`
	LastError   *string         `bun:"last_error" json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `bun:"enqueued_at,notnull,default:now()" json:"enqueuedAt"`
	ScheduledAt time.Time       `bun:"scheduled_at,notnull,default:now()" json:"scheduledAt"`
	StartedAt   *time.Time      `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time      `bun:"completed_at" json:"completedAt,omitempty"`
}

// Stats represents per-queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"deadLetter"`
}
