// Package fanout bridges the socket queue to live WebSocket clients. Jobs
// drained from the queue are broadcast to every open connection; delivery to
// sockets is best-effort, durability ends once the job is handed to the
// registry.
package fanout

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lorebook/lorebook/pkg/logger"
)

// ConnState is the lifecycle of one connection. Transitions only move
// forward; Closed is terminal.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

// wire is the slice of *websocket.Conn the registry writes through
type wire interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one registered client. Writes are serialized with a mutex since
// gorilla connections allow a single concurrent writer.
type Conn struct {
	id string
	ws wire

	mu    sync.Mutex
	state ConnState
}

// NewConn wraps a socket in the Connecting state
func NewConn(id string, ws wire) *Conn {
	return &Conn{id: id, ws: ws, state: StateConnecting}
}

// ID returns the connection identifier
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// advance moves the state forward. Backward transitions and transitions out
// of Closed are ignored.
func (c *Conn) advance(next ConnState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next <= c.state || c.state == StateClosed {
		return false
	}
	c.state = next
	return true
}

// send writes one text frame. Only Open connections accept writes.
func (c *Conn) send(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return fmt.Errorf("connection %s is %s", c.id, c.state)
	}
	if timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close tears the socket down and parks the state at Closed
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	_ = c.ws.Close()
}

// Observer receives registry membership changes and broadcast counts
// (metrics)
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	Broadcast()
}

// Registry tracks every live connection and fans messages out to them
type Registry struct {
	log      *slog.Logger
	observer Observer

	mu           sync.RWMutex
	conns        map[string]*Conn
	writeTimeout time.Duration
}

// NewRegistry creates an empty registry
func NewRegistry(writeTimeout time.Duration, observer Observer, log *slog.Logger) *Registry {
	return &Registry{
		log:          log.With(logger.Scope("fanout.registry")),
		observer:     observer,
		conns:        make(map[string]*Conn),
		writeTimeout: writeTimeout,
	}
}

// Add registers a connection and opens it. A connection that was closed
// while still connecting is rejected.
func (r *Registry) Add(conn *Conn) error {
	if !conn.advance(StateOpen) {
		return fmt.Errorf("connection %s cannot open from state %s", conn.ID(), conn.State())
	}

	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ConnectionOpened()
	}
	r.log.Debug("connection registered", slog.String("connection_id", conn.id))
	return nil
}

// Remove closes and forgets a connection. Safe to call twice.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	conn.advance(StateClosing)
	conn.close()

	if r.observer != nil {
		r.observer.ConnectionClosed()
	}
	r.log.Debug("connection removed", slog.String("connection_id", id))
}

// Len returns the number of tracked connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast writes data to every open connection and returns the delivered
// count. A failed or non-open connection is dropped without disturbing the
// rest; with no connections it is a no-op.
func (r *Registry) Broadcast(data []byte) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.State() != StateOpen {
			continue
		}
		if err := conn.send(data, r.writeTimeout); err != nil {
			r.log.Warn("dropping connection after failed write",
				slog.String("connection_id", conn.ID()),
				logger.Error(err))
			r.Remove(conn.ID())
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll tears down every connection (shutdown)
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.advance(StateClosing)
		conn.close()
		if r.observer != nil {
			r.observer.ConnectionClosed()
		}
	}
	if len(conns) > 0 {
		r.log.Info("closed all connections", slog.Int("count", len(conns)))
	}
}
