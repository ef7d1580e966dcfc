package bridge

import "time"

// Operation is a bridge operation kind.
type Operation string

// Operations
const (
	OpTestConnection Operation = "testConnection"
	OpGetStatus      Operation = "getStatus"
	OpStartPrint     Operation = "startPrint"
	OpStopPrint      Operation = "stopPrint"
	OpUploadFile     Operation = "uploadFile"
	OpSendRawCommand Operation = "sendRawCommand"
)

// Operations lists every supported operation.
var Operations = []Operation{
	OpTestConnection,
	OpGetStatus,
	OpStartPrint,
	OpStopPrint,
	OpUploadFile,
	OpSendRawCommand,
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// Idempotent reports whether op may be retried without changing device state.
func (op Operation) Idempotent() bool {
	return op == OpTestConnection || op == OpGetStatus
}

var defaultDeadlines = map[Operation]time.Duration{
	OpTestConnection: 10 * time.Second,
	OpGetStatus:      10 * time.Second,
	OpStartPrint:     15 * time.Second,
	OpStopPrint:      15 * time.Second,
	OpUploadFile:     5 * time.Minute,
	OpSendRawCommand: 10 * time.Second,
}

const fallbackDeadline = 10 * time.Second

// Policy holds deadlines and retry behaviour for the orchestrator.
type Policy struct {
	Deadlines    map[Operation]time.Duration
	Retries      int           // extra attempts for idempotent operations; 0 disables retry
	RetryBackoff time.Duration // pause between attempts
	CleanupGrace time.Duration // wait for a cancelled call to release its resources
}

// DefaultPolicy returns the built-in deadlines with retries disabled.
func DefaultPolicy() Policy {
	deadlines := make(map[Operation]time.Duration, len(defaultDeadlines))
	for op, d := range defaultDeadlines {
		deadlines[op] = d
	}
	return Policy{
		Deadlines:    deadlines,
		Retries:      0,
		RetryBackoff: 500 * time.Millisecond,
		CleanupGrace: 2 * time.Second,
	}
}

// Deadline returns the deadline for op, using the defaults for missing entries.
func (p Policy) Deadline(op Operation) time.Duration {
	if d, ok := p.Deadlines[op]; ok && d > 0 {
		return d
	}
	if d, ok := defaultDeadlines[op]; ok {
		return d
	}
	return fallbackDeadline
}
