package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 << 10
)

var (
	// ErrConnectionClosed is returned by Send after Close.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the client is not draining.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Connection is one connected socket client. It implements realtime.Session.
type Connection struct {
	conn      *websocket.Conn
	server    *Server
	sessionID string
	userID    int64
	limiter   *rate.Limiter
	sendCh    chan []byte
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
}

// NewConnection wraps an upgraded socket.
func NewConnection(conn *websocket.Conn, server *Server, sessionID string, userID int64) *Connection {
	return &Connection{
		conn:      conn,
		server:    server,
		sessionID: sessionID,
		userID:    userID,
		limiter:   rate.NewLimiter(rate.Limit(server.opts.EventRate), server.opts.EventBurst),
		sendCh:    make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

// ID returns the session id assigned at connect time.
func (c *Connection) ID() string { return c.sessionID }

// UserID returns the authenticated user, or 0 for anonymous sessions.
func (c *Connection) UserID() int64 { return c.userID }

// ReadLoop reads frames until the socket fails or ctx is done.
func (c *Connection) ReadLoop(ctx context.Context) error {
	defer func() {
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}

		c.handleFrame(ctx, message)
	}
}

// WriteLoop drains the send queue and keeps the socket alive with pings.
func (c *Connection) WriteLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case message := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}

// Send queues a frame. It never blocks.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the connection closed and runs the disconnect hook once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.server.clients.Unregister(c.sessionID)
	metrics.SocketSessions.Set(float64(c.server.clients.Count()))
	if hook := c.server.disconnectHook(); hook != nil {
		hook(c.sessionID)
	}
	return nil
}

// handleFrame dispatches one inbound frame. Every failure is reported to
// this connection only.
func (c *Connection) handleFrame(ctx context.Context, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		metrics.SocketEvents.WithLabelValues("unknown", "malformed").Inc()
		c.sendError("", "malformed event")
		return
	}

	// Only registered event names become label values.
	handler, ok := c.server.router.Lookup(env.Event)
	label := env.Event
	if !ok {
		label = "unknown"
	}

	if !c.limiter.Allow() {
		metrics.SocketEvents.WithLabelValues(label, "rate_limited").Inc()
		c.sendError(env.Event, "rate limit exceeded")
		return
	}

	if !ok {
		metrics.SocketEvents.WithLabelValues(label, "unhandled").Inc()
		c.sendError(env.Event, fmt.Sprintf("unknown event %q", env.Event))
		return
	}

	if err := handler(ctx, c, env.Data); err != nil {
		metrics.SocketEvents.WithLabelValues(env.Event, "error").Inc()
		c.server.log.Debug("event failed",
			zap.String("session_id", c.sessionID),
			zap.String("event", env.Event),
			zap.Error(err))
		c.sendError(env.Event, err.Error())
		return
	}
	metrics.SocketEvents.WithLabelValues(env.Event, "ok").Inc()
}

func (c *Connection) sendError(event, message string) {
	frame, err := types.NewEnvelope(types.EventError, types.ErrorPayload{Event: event, Message: message})
	if err != nil {
		return
	}
	_ = c.Send(frame)
}
