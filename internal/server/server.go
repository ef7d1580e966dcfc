// Package server maneja las conexiones WebSocket y el encolamiento de trabajos.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/adcondev/printer-bridge/internal/bridge"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// FleetView exposes the fleet registry and the last polled statuses.
type FleetView interface {
	GetPrinters(ctx context.Context, forceRefresh bool) ([]printer.DetailDTO, error)
	GetSummary() printer.Summary
}

// Config holds server configuration
type Config struct {
	QueueSize      int
	AllowedOrigins []string
	JobsPerMinute  int
}

const defaultJobsPerMinute = 60

// Job represents a queued bridge operation
type Job struct {
	ID         string           `json:"id"`
	ClientConn *websocket.Conn  `json:"-"`
	PrinterID  string           `json:"printer_id"`
	Operation  bridge.Operation `json:"operation"`
	Params     bridge.Params    `json:"params"`
	ReceivedAt time.Time        `json:"received_at"`
}

// ExecuteRequest is the payload of an "execute" message.
type ExecuteRequest struct {
	PrinterID string           `json:"printer_id"`
	Operation bridge.Operation `json:"operation"`
	Params    bridge.Params    `json:"params"`
}

// Message represents incoming WebSocket message
type Message struct {
	Tipo  string          `json:"tipo"`
	ID    string          `json:"id,omitempty"`
	Datos json.RawMessage `json:"datos,omitempty"`
}

// Response represents outgoing WebSocket message
type Response struct {
	Tipo     string `json:"tipo"`
	ID       string `json:"id,omitempty"`
	Status   string `json:"status,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Mensaje  string `json:"mensaje,omitempty"`
	Current  int    `json:"current,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	Datos    any    `json:"datos,omitempty"`
}

// Server manages WebSocket connections and job queue
type Server struct {
	clients        *ClientRegistry
	jobQueue       chan *Job
	queueSize      int
	originPatterns []string
	limiter        *JobRateLimiter
	shutdownOnce   sync.Once
	shutdownChan   chan struct{}
	fleet          FleetView
}

// NewServer creates a new WebSocket server
func NewServer(cfg Config, fleet FleetView) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.JobsPerMinute <= 0 {
		cfg.JobsPerMinute = defaultJobsPerMinute
	}

	return &Server{
		clients:        NewClientRegistry(),
		jobQueue:       make(chan *Job, cfg.QueueSize),
		queueSize:      cfg.QueueSize,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		limiter:        NewJobRateLimiter(cfg.JobsPerMinute),
		shutdownChan:   make(chan struct{}),
		fleet:          fleet,
	}
}

// originPatterns turns configured origins into host patterns for the handshake check.
// An empty list leaves only same-origin requests allowed.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		patterns = append(patterns, strings.TrimSuffix(o, "/"))
	}
	return patterns
}

// QueueStatus returns current and max queue size
func (s *Server) QueueStatus() (current, capacity int) {
	return len(s.jobQueue), cap(s.jobQueue)
}

// JobQueue returns the job queue channel (for worker consumption)
func (s *Server) JobQueue() <-chan *Job {
	return s.jobQueue
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.clients.Count()
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.originPatterns}
	for _, p := range s.originPatterns {
		if p == "*" {
			opts.InsecureSkipVerify = true
		}
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Printf("[WS] ❌ Error accepting client: %v", err)
		return
	}

	// Register client
	host := clientHost(r.RemoteAddr)
	s.clients.Add(conn, host)
	log.Printf("[WS] ➕ Client connected (total: %d) from %s", s.clients.Count(), r.RemoteAddr)

	ctx := r.Context()
	welcome := Response{
		Tipo:    "info",
		Status:  "connected",
		Mensaje: "✅ Servidor respondiendo desde Printer Bridge",
	}
	_ = wsjson.Write(ctx, conn, welcome)

	s.handleMessages(ctx, conn, host)

	// Cleanup on disconnect
	if _, remaining := s.clients.Remove(conn); remaining == 0 {
		s.limiter.Prune()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "disconnected")
	log.Printf("[WS] ➖ Client disconnected (remaining: %d)", s.clients.Count())
}

// handleMessages processes incoming messages from a client
func (s *Server) handleMessages(ctx context.Context, conn *websocket.Conn, host string) {
	for {
		select {
		case <-s.shutdownChan:
			return
		default:
		}

		var msg Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				ctx.Err() != nil {
				return
			}
			log.Printf("[WS] ⚠️ Error reading message: %v", err)
			return
		}

		s.routeMessage(ctx, conn, host, &msg)
	}
}

// routeMessage routes message to appropriate handler
func (s *Server) routeMessage(ctx context.Context, conn *websocket.Conn, host string, msg *Message) {
	switch msg.Tipo {
	case "execute":
		s.handleExecute(ctx, conn, host, msg)
	case "get_printers":
		s.handleGetPrinters(ctx, conn, msg, false)
	case "fleet_status":
		s.handleGetPrinters(ctx, conn, msg, true)
	case "status":
		s.handleStatus(ctx, conn)
	case "ping":
		s.handlePing(ctx, conn, msg)
	default:
		log.Printf("[WS] ⚠️ Unknown message type: %s", msg.Tipo)
		s.sendError(ctx, conn, msg.ID, "Unknown message type: "+msg.Tipo)
	}
}

// handleExecute validates and enqueues a bridge operation
func (s *Server) handleExecute(ctx context.Context, conn *websocket.Conn, host string, msg *Message) {
	jobID := msg.ID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	if len(msg.Datos) == 0 {
		log.Printf("[QUEUE] ❌ Job %s rejected: missing 'datos' field", jobID)
		s.sendError(ctx, conn, jobID, "Field 'datos' is required for type 'execute'")
		return
	}

	var req ExecuteRequest
	if err := json.Unmarshal(msg.Datos, &req); err != nil {
		s.sendError(ctx, conn, jobID, "Invalid 'datos': "+err.Error())
		return
	}
	if strings.TrimSpace(req.PrinterID) == "" {
		s.sendError(ctx, conn, jobID, "Field 'datos.printer_id' is required")
		return
	}
	if !req.Operation.Valid() {
		s.sendError(ctx, conn, jobID, "Unknown operation: "+string(req.Operation))
		return
	}

	if !s.limiter.Allow(host, req.PrinterID, req.Operation) {
		log.Printf("[QUEUE] 🚫 Rate limit exceeded for %s on %s, rejecting job: %s", host, req.PrinterID, jobID)
		s.sendError(ctx, conn, jobID, "Rate limit exceeded, please slow down")
		return
	}

	job := &Job{
		ID:         jobID,
		ClientConn: conn,
		PrinterID:  req.PrinterID,
		Operation:  req.Operation,
		Params:     req.Params,
		ReceivedAt: time.Now(),
	}

	// Try to enqueue (non-blocking)
	select {
	case s.jobQueue <- job:
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 📥 Job queued: %s %s -> %s (queue: %d/%d)", jobID, job.Operation, job.PrinterID, current, capacity)

		_ = wsjson.Write(ctx, conn, Response{
			Tipo:     "ack",
			ID:       jobID,
			Status:   "queued",
			Current:  current,
			Capacity: capacity,
			Mensaje:  "Job queued",
		})

	default:
		current, capacity := s.QueueStatus()
		log.Printf("[QUEUE] 🚫 Queue full, rejecting job: %s (%d/%d)", jobID, current, capacity)
		s.sendError(ctx, conn, jobID, "Queue full, please retry in a few seconds")
	}
}

// handleStatus sends queue status
func (s *Server) handleStatus(ctx context.Context, conn *websocket.Conn) {
	current, capacity := s.QueueStatus()

	_ = wsjson.Write(ctx, conn, Response{
		Tipo:     "status",
		Status:   "ok",
		Current:  current,
		Capacity: capacity,
		Mensaje:  formatStatus(current, capacity),
	})
}

// handlePing responds to ping
func (s *Server) handlePing(ctx context.Context, conn *websocket.Conn, msg *Message) {
	_ = wsjson.Write(ctx, conn, Response{
		Tipo:   "pong",
		ID:     msg.ID,
		Status: "ok",
	})
}

// printersPayload is the "datos" of a printers response
type printersPayload struct {
	Printers []printer.DetailDTO `json:"printers"`
	Summary  printer.Summary     `json:"summary"`
}

// handleGetPrinters lists the fleet; fleet_status polls every printer first.
func (s *Server) handleGetPrinters(ctx context.Context, conn *websocket.Conn, msg *Message, poll bool) {
	if s.fleet == nil {
		s.sendError(ctx, conn, msg.ID, "Fleet not configured")
		return
	}

	printers, err := s.fleet.GetPrinters(ctx, poll)
	if err != nil {
		s.sendError(ctx, conn, msg.ID, "Failed to load fleet: "+err.Error())
		return
	}

	_ = wsjson.Write(ctx, conn, Response{
		Tipo:   "printers",
		ID:     msg.ID,
		Status: "ok",
		Datos:  printersPayload{Printers: printers, Summary: s.fleet.GetSummary()},
	})
}

// sendError sends error response to client
func (s *Server) sendError(ctx context.Context, conn *websocket.Conn, id, mensaje string) {
	_ = wsjson.Write(ctx, conn, Response{
		Tipo:    "error",
		ID:      id,
		Status:  "error",
		Mensaje: mensaje,
	})
}

// NotifyClient sends a result back to a specific client
func (s *Server) NotifyClient(conn *websocket.Conn, response Response) error {
	if conn == nil || !s.clients.Contains(conn) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return wsjson.Write(ctx, conn, response)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)

		log.Printf("[WS] 🛑 Shutting down, disconnecting %d clients", s.clients.Count())

		s.clients.ForEach(func(conn *websocket.Conn) {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		})
	})
}

func formatStatus(current, capacity int) string {
	return "Queue: " + strconv.Itoa(current) + "/" + strconv.Itoa(capacity)
}
