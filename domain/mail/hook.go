// Package mail drains the mail queue: each job is rendered through a
// Handlebars template and handed to the configured provider. Delivery is
// at-least-once, so a lost acknowledgment can resend a message; templates
// carry one-time tokens rather than state-changing links to keep that
// harmless.
package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Hook processes one mail job per invocation
type Hook struct {
	sender   Sender
	renderer *Renderer
	log      *slog.Logger
}

// NewHook creates the mail queue handler
func NewHook(sender Sender, renderer *Renderer, log *slog.Logger) *Hook {
	return &Hook{
		sender:   sender,
		renderer: renderer,
		log:      log.With(logger.Scope("mail.hook")),
	}
}

// Handle renders and sends the message described by the job payload.
// Returning an error leaves the job unacknowledged so the broker retries it.
func (h *Hook) Handle(ctx context.Context, job *jobs.Job) error {
	payload, err := jobs.Decode[jobs.MailPayload](job)
	if err != nil {
		return err
	}

	if payload.To == "" {
		return fmt.Errorf("mail job %s has no recipient", job.ID)
	}

	rendered, err := h.renderer.Render(payload.SubjectKind, map[string]interface{}{
		"recipient": payload.To,
		"token":     payload.Token,
	})
	if err != nil {
		return err
	}

	result, err := h.sender.Send(ctx, SendOptions{
		From:    payload.From,
		To:      payload.To,
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    rendered.HTML,
	})
	if err != nil {
		return fmt.Errorf("send to %s failed: %w", payload.To, err)
	}
	if !result.Success {
		return fmt.Errorf("send to %s rejected: %s", payload.To, result.Error)
	}

	h.log.Debug("mail job completed",
		slog.String("job_id", job.ID),
		slog.String("subject_kind", payload.SubjectKind))
	return nil
}
