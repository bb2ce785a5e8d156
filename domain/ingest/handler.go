// Package ingest is the HTTP surface producers use to hand side effects to
// the pipeline. Enqueue is fire-and-forget: a 202 means the job is durably
// stored, not that the side effect ran.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/apperror"
	"github.com/lorebook/lorebook/pkg/logger"
)

// QueueService is the slice of the broker the HTTP surface needs
type QueueService interface {
	Enqueue(ctx context.Context, queue jobs.Queue, kind string, payload any) (string, error)
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
	GetStats(ctx context.Context, queue jobs.Queue) (*jobs.Stats, error)
}

// EnqueueRequest is the POST /api/enqueue body
type EnqueueRequest struct {
	Queue   string          `json:"queue"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EnqueueResponse acknowledges acceptance of a job
type EnqueueResponse struct {
	JobID string `json:"jobId"`
	Queue string `json:"queue"`
}

// Handler serves the pipeline's HTTP endpoints
type Handler struct {
	svc QueueService
	log *slog.Logger
}

// NewHandler creates the ingest handler
func NewHandler(svc QueueService, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("ingest.handler")),
	}
}

// HandleEnqueue accepts one job for asynchronous processing.
// The payload is decoded into its typed form here so malformed requests die
// at the door instead of poisoning a queue.
func (h *Handler) HandleEnqueue(c echo.Context) error {
	var req EnqueueRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body").WithInternal(err)
	}

	queue, err := jobs.ParseQueue(req.Queue)
	if err != nil {
		return apperror.ErrUnknownQueue.WithInternal(err)
	}
	if req.Kind == "" {
		return apperror.ErrBadRequest.WithMessage("kind is required")
	}
	if err := validatePayload(queue, req.Kind, req.Payload); err != nil {
		return apperror.ErrBadRequest.WithMessage(err.Error())
	}

	jobID, err := h.svc.Enqueue(c.Request().Context(), queue, req.Kind, req.Payload)
	if err != nil {
		// A broker outage must be loud: the producer needs to know the
		// side effect was never recorded.
		return apperror.ErrUnavailable.WithMessage("failed to enqueue job").WithInternal(err)
	}

	return c.JSON(http.StatusAccepted, EnqueueResponse{JobID: jobID, Queue: string(queue)})
}

// HandleStats reports counts per status for one queue
func (h *Handler) HandleStats(c echo.Context) error {
	queue, err := jobs.ParseQueue(c.Param("queue"))
	if err != nil {
		return apperror.ErrUnknownQueue.WithInternal(err)
	}

	stats, err := h.svc.GetStats(c.Request().Context(), queue)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// HandleGetJob returns one job by ID, dead-lettered ones included
func (h *Handler) HandleGetJob(c echo.Context) error {
	job, err := h.svc.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if job == nil {
		return apperror.ErrNotFound.WithMessage("job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// validatePayload decodes the payload into its typed form for the kind.
// Unknown kinds on a queue are rejected; consumers only dispatch on the
// kinds listed here.
func validatePayload(queue jobs.Queue, kind string, raw json.RawMessage) error {
	decode := func(v any) error {
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		return json.Unmarshal(raw, v)
	}

	switch {
	case queue == jobs.QueueMail && kind == jobs.KindMailSend:
		var p jobs.MailPayload
		if err := decode(&p); err != nil {
			return err
		}
	case queue == jobs.QueueCounter && kind == jobs.KindCounterRecompute:
		var p jobs.CounterPayload
		if err := decode(&p); err != nil {
			return err
		}
	case queue == jobs.QueueActivity && kind == jobs.KindActivityRecord:
		var p jobs.ActivityPayload
		if err := decode(&p); err != nil {
			return err
		}
	case queue == jobs.QueueSocket && (kind == jobs.KindSocketAction || kind == jobs.KindSocketClient):
		var p jobs.SocketPayload
		if err := decode(&p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("kind %q is not valid on queue %q", kind, queue)
	}
	return nil
}
