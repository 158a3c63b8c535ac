package websocket

import (
	"sync"
)

// ClientRegistry tracks connected clients by session ID.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Connection
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Connection),
	}
}

// Register adds a client to the registry.
func (r *ClientRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn.ID()] = conn
}

// Unregister removes a client from the registry.
func (r *ClientRegistry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, sessionID)
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all client connections.
func (r *ClientRegistry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.clients))
	for _, c := range r.clients {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	// Close unregisters, so it must run without the lock held.
	for _, c := range conns {
		_ = c.Close()
	}
}
