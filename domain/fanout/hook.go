package fanout

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

// envelope is the wire frame every client receives
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hook drains the socket queue into the connection registry. Both
// server-originated actions and rebroadcast client frames pass through here;
// a broadcast with nobody connected still succeeds, the message simply
// expires with the job.
type Hook struct {
	registry *Registry
	observer Observer
	log      *slog.Logger
}

// NewHook creates the socket queue handler
func NewHook(registry *Registry, observer Observer, log *slog.Logger) *Hook {
	return &Hook{
		registry: registry,
		observer: observer,
		log:      log.With(logger.Scope("fanout.hook")),
	}
}

// Handle broadcasts one queued message to every open connection
func (h *Hook) Handle(_ context.Context, job *jobs.Job) error {
	payload, err := jobs.Decode[jobs.SocketPayload](job)
	if err != nil {
		return err
	}

	frame, err := json.Marshal(envelope{Type: payload.Type, Data: payload.Data})
	if err != nil {
		return err
	}

	delivered := h.registry.Broadcast(frame)
	if h.observer != nil {
		h.observer.Broadcast()
	}

	h.log.Debug("broadcast",
		slog.String("type", payload.Type),
		slog.Int("delivered", delivered),
		slog.Int("connections", h.registry.Len()))
	return nil
}
