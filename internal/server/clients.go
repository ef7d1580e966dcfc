// Package server maneja las conexiones WebSocket y el encolamiento de trabajos.
package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ClientRegistry tracks connected WebSocket clients and the host each one came from
type ClientRegistry struct {
	clients map[*websocket.Conn]string
	perHost map[string]int
	mu      sync.RWMutex
}

// NewClientRegistry creates a new client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[*websocket.Conn]string),
		perHost: make(map[string]int),
	}
}

// Add registers a connection from host
func (r *ClientRegistry) Add(conn *websocket.Conn, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[conn]; ok {
		return
	}
	r.clients[conn] = host
	r.perHost[host]++
}

// Remove unregisters a connection and reports how many remain open from its host
func (r *ClientRegistry) Remove(conn *websocket.Conn) (host string, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.clients[conn]
	if !ok {
		return "", 0
	}
	delete(r.clients, conn)

	r.perHost[host]--
	remaining = r.perHost[host]
	if remaining <= 0 {
		delete(r.perHost, host)
		remaining = 0
	}
	return host, remaining
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Contains checks if a client is registered
func (r *ClientRegistry) Contains(conn *websocket.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[conn]
	return ok
}

// ForEach executes a function for each connected client
func (r *ClientRegistry) ForEach(fn func(*websocket.Conn)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for conn := range r.clients {
		fn(conn)
	}
}
