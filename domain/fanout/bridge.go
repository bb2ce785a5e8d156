package fanout

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/internal/jobs"
	"github.com/lorebook/lorebook/pkg/logger"
)

const pingInterval = 25 * time.Second

// Bridge accepts WebSocket upgrades and feeds inbound client frames into the
// socket queue. Clients are anonymous; every open connection receives every
// broadcast.
type Bridge struct {
	cfg      *config.FanoutConfig
	registry *Registry
	enqueuer jobs.Enqueuer
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewBridge creates the WebSocket endpoint handler
func NewBridge(cfg *config.Config, registry *Registry, enqueuer jobs.Enqueuer, log *slog.Logger) *Bridge {
	return &Bridge{
		cfg:      &cfg.Fanout,
		registry: registry,
		enqueuer: enqueuer,
		log:      log.With(logger.Scope("fanout.bridge")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The fanout surface is unauthenticated broadcast; origin
			// checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleSocket upgrades the request and runs the connection's read loop
func (b *Bridge) HandleSocket(c echo.Context) error {
	ws, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		b.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	conn := NewConn(uuid.NewString(), ws)
	if err := b.registry.Add(conn); err != nil {
		_ = ws.Close()
		return nil
	}

	b.log.Info("websocket connected",
		slog.String("connection_id", conn.ID()),
		slog.String("remote", c.Request().RemoteAddr))

	go b.pingLoop(conn, ws)
	b.readLoop(conn, ws, c)
	return nil
}

// readLoop drains inbound frames until the peer goes away. Each text frame
// is enqueued on the socket queue so it is rebroadcast to every client,
// sender included.
func (b *Bridge) readLoop(conn *Conn, ws *websocket.Conn, c echo.Context) {
	defer b.registry.Remove(conn.ID())

	ws.SetReadLimit(b.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(b.cfg.PongTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("websocket read error",
					slog.String("connection_id", conn.ID()),
					logger.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		ctx := c.Request().Context()
		if _, err := b.enqueuer.Enqueue(ctx, jobs.QueueSocket, jobs.KindSocketClient, jobs.SocketPayload{
			Type: "client",
			Data: data,
		}); err != nil {
			b.log.Error("failed to enqueue client message",
				slog.String("connection_id", conn.ID()),
				logger.Error(err))
		}
	}
}

// pingLoop keeps the connection alive until it leaves the Open state
func (b *Bridge) pingLoop(conn *Conn, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if conn.State() != StateOpen {
			return
		}
		// WriteControl is safe alongside the registry's data writes
		if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout)); err != nil {
			return
		}
	}
}
