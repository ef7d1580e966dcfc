package server

import (
	"net"
	"sync"
	"time"

	"github.com/adcondev/printer-bridge/internal/bridge"
)

const rateWindow = time.Minute

// JobRateLimiter restricts how often a client host can submit state-changing
// operations to a single printer. Read-only operations and stopPrint are never limited.
type JobRateLimiter struct {
	mu        sync.Mutex
	attempts  map[rateKey][]time.Time
	maxPerMin int
	now       func() time.Time
}

type rateKey struct {
	host      string
	printerID string
}

// NewJobRateLimiter creates a limiter allowing maxPerMinute operations per host and printer.
func NewJobRateLimiter(maxPerMinute int) *JobRateLimiter {
	return &JobRateLimiter{
		attempts:  make(map[rateKey][]time.Time),
		maxPerMin: maxPerMinute,
		now:       time.Now,
	}
}

// Limited reports whether op counts against the budget.
func Limited(op bridge.Operation) bool {
	return !op.Idempotent() && op != bridge.OpStopPrint
}

// Allow returns true if host has not exceeded the rate limit for printerID.
func (rl *JobRateLimiter) Allow(host, printerID string, op bridge.Operation) bool {
	if !Limited(op) {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := rateKey{host: host, printerID: printerID}
	recent := recentAttempts(rl.attempts[key], now.Add(-rateWindow))

	if len(recent) >= rl.maxPerMin {
		rl.attempts[key] = recent
		return false
	}

	rl.attempts[key] = append(recent, now)
	return true
}

// Prune drops every key with no attempt inside the window.
func (rl *JobRateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rateWindow)
	for key, times := range rl.attempts {
		if len(recentAttempts(times, cutoff)) == 0 {
			delete(rl.attempts, key)
		}
	}
}

// Len returns the number of tracked host/printer pairs.
func (rl *JobRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

func recentAttempts(times []time.Time, cutoff time.Time) []time.Time {
	recent := times[:0:0]
	for _, t := range times {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// clientHost strips the ephemeral port so reconnects share one budget.
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
