// Package websocket serves the realtime socket endpoint. Frames are JSON
// envelopes of the form {"event": "...", "data": ...} in both directions.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/auth"
	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// Default per-session event limits.
const (
	DefaultEventRate  = 20
	DefaultEventBurst = 40
)

// DisconnectFunc is called when a client disconnects.
// It receives the sessionID of the disconnected client.
type DisconnectFunc func(sessionID string)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Enabled() bool
	Verify(token string) (int64, error)
}

// Options configure a Server.
type Options struct {
	EventRate   float64
	EventBurst  int
	RequireAuth bool
}

// Server upgrades HTTP requests to socket sessions and routes their events.
type Server struct {
	upgrader     websocket.Upgrader
	router       *Router
	clients      *ClientRegistry
	verifier     TokenVerifier
	log          *zap.Logger
	opts         Options
	hookMu       sync.RWMutex
	onDisconnect DisconnectFunc
	mu           sync.RWMutex
	shutdown     bool
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewServer creates a socket server. verifier may be nil, in which case
// every session is anonymous.
func NewServer(router *Router, verifier TokenVerifier, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.EventRate <= 0 {
		opts.EventRate = DefaultEventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = DefaultEventBurst
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		router:   router,
		clients:  NewClientRegistry(),
		verifier: verifier,
		log:      log,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			// Browser and mobile clients connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Clients returns the registry of connected sessions.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// SetDisconnectHook registers a callback that fires when a client
// disconnects. Used to clean up room membership.
func (s *Server) SetDisconnectHook(fn DisconnectFunc) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onDisconnect = fn
}

func (s *Server) disconnectHook() DisconnectFunc {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.onDisconnect
}

// ServeHTTP authenticates the request, upgrades it and starts the session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// Hold the read lock across both the shutdown check and wg.Add to prevent
	// a race where Stop() calls wg.Wait() between our check and our Add.
	s.mu.RLock()
	if s.shutdown {
		s.mu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	go s.handleConnection(conn, userID)
}

// authenticate returns the user id of a presented token. Without a token
// the session is anonymous unless RequireAuth is set.
func (s *Server) authenticate(r *http.Request) (int64, error) {
	token := auth.FromHeader(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		if s.opts.RequireAuth {
			return 0, auth.ErrMissingToken
		}
		return 0, nil
	}
	if !s.authEnabled() {
		if s.opts.RequireAuth {
			return 0, errors.New("authentication is not configured")
		}
		return 0, nil
	}
	return s.verifier.Verify(token)
}

// authEnabled reports whether presented tokens can be verified.
func (s *Server) authEnabled() bool {
	return s.verifier != nil && s.verifier.Enabled()
}

// handleConnection manages a single connection.
func (s *Server) handleConnection(conn *websocket.Conn, userID int64) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
	}()

	sessionID := "ses_" + ulid.Make().String()
	wsConn := NewConnection(conn, s, sessionID, userID)
	s.clients.Register(wsConn)
	metrics.SocketSessions.Set(float64(s.clients.Count()))

	log := s.log.With(zap.String("session_id", sessionID), zap.Int64("user_id", userID))
	log.Debug("session connected")

	if frame, err := types.NewEnvelope(types.EventConnected, types.ConnectedPayload{SessionID: sessionID, UserID: userID}); err == nil {
		_ = wsConn.Send(frame)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- wsConn.ReadLoop(s.ctx)
	}()
	go func() {
		errCh <- wsConn.WriteLoop(s.ctx)
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("session ended", zap.Error(err))
	}

	_ = wsConn.Close()
	log.Debug("session disconnected")
}

// Stop closes every session and waits for their goroutines, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.clients.CloseAll()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return errors.New("timed out waiting for sessions")
	}
}
