package websocket

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler handles one inbound event for a connection. A returned error is
// reported back to that connection as an error event.
type Handler func(ctx context.Context, c *Connection, data json.RawMessage) error

// Router maps event names to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Handle registers h for event, replacing any previous handler.
func (r *Router) Handle(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = h
}

// Lookup returns the handler for event.
func (r *Router) Lookup(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}
