package daemon

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/adcondev/printer-bridge/internal/bridge"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// Executor runs one bridge operation.
type Executor interface {
	Execute(ctx context.Context, rec printer.Record, op bridge.Operation, params bridge.Params) (*bridge.Outcome, error)
}

// PollerConfig controls the fleet poller
type PollerConfig struct {
	Interval    time.Duration // <= 0 disables background polling
	Concurrency int
}

type pollEntry struct {
	status    *printer.Status
	lastError string
}

// FleetPoller periodically asks every configured printer for its status
type FleetPoller struct {
	registry *PrinterRegistry
	exec     Executor
	config   PollerConfig
	now      func() time.Time

	pollMu   sync.Mutex // one poll at a time
	mu       sync.RWMutex
	entries  map[string]pollEntry
	lastPoll time.Time
}

// NewFleetPoller creates a poller over the registry
func NewFleetPoller(registry *PrinterRegistry, exec Executor, cfg PollerConfig) *FleetPoller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &FleetPoller{
		registry: registry,
		exec:     exec,
		config:   cfg,
		now:      time.Now,
		entries:  make(map[string]pollEntry),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled
func (fp *FleetPoller) Run(ctx context.Context) {
	if fp.config.Interval <= 0 {
		log.Println("[POLL] ⏸️ Background polling disabled")
		return
	}

	log.Printf("[POLL] ✅ Polling fleet every %v (concurrency %d)", fp.config.Interval, fp.config.Concurrency)
	_ = fp.PollOnce(ctx)

	ticker := time.NewTicker(fp.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[POLL] 📴 Poller stopped")
			return
		case <-ticker.C:
			_ = fp.PollOnce(ctx)
		}
	}
}

// PollOnce runs getStatus for every printer with bounded concurrency.
// Printers removed from the fleet file drop out of the cache.
func (fp *FleetPoller) PollOnce(ctx context.Context) error {
	fp.pollMu.Lock()
	defer fp.pollMu.Unlock()

	records, err := fp.registry.GetPrinters(false)
	if records == nil && err != nil {
		log.Printf("[POLL] ⚠️ Cannot load fleet: %v", err)
		return err
	}

	var mu sync.Mutex
	results := make(map[string]pollEntry, len(records))

	p := pool.New().WithMaxGoroutines(fp.config.Concurrency)
	for _, rec := range records {
		rec := rec
		p.Go(func() {
			entry := fp.pollPrinter(ctx, rec)
			mu.Lock()
			results[rec.ID] = entry
			mu.Unlock()
		})
	}
	p.Wait()

	online := 0
	for _, e := range results {
		if e.lastError == "" {
			online++
		}
	}

	fp.mu.Lock()
	fp.entries = results
	fp.lastPoll = fp.now()
	fp.mu.Unlock()

	log.Printf("[POLL] 🔄 Polled %d printer(s): %d online", len(records), online)
	return nil
}

// pollPrinter maps a failed status call to offline or error
func (fp *FleetPoller) pollPrinter(ctx context.Context, rec printer.Record) pollEntry {
	out, err := fp.exec.Execute(ctx, rec, bridge.OpGetStatus, bridge.Params{})
	if err == nil && out != nil && out.Status != nil {
		return pollEntry{status: out.Status}
	}

	state := printer.StatusError
	if bridgeerrors.Is(err, bridgeerrors.KindConnection) || bridgeerrors.Is(err, bridgeerrors.KindTimeout) {
		state = printer.StatusOffline
	}
	return pollEntry{
		status:    &printer.Status{OperationalStatus: state, LastUpdated: fp.now()},
		lastError: bridgeerrors.UserMessage(err),
	}
}

// GetPrinters returns the fleet merged with the last polled statuses.
// forceRefresh polls every printer first.
func (fp *FleetPoller) GetPrinters(ctx context.Context, forceRefresh bool) ([]printer.DetailDTO, error) {
	if forceRefresh {
		if err := fp.PollOnce(ctx); err != nil {
			return nil, err
		}
	}

	records, err := fp.registry.GetPrinters(false)
	if records == nil && err != nil {
		return nil, err
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	dtos := make([]printer.DetailDTO, len(records))
	for i, rec := range records {
		dtos[i] = printer.DetailDTO{
			ID:     rec.ID,
			Name:   rec.Name,
			Type:   rec.Type,
			APIURL: rec.APIURL,
		}
		if e, ok := fp.entries[rec.ID]; ok {
			dtos[i].OperationalStatus = e.status.OperationalStatus
			dtos[i].Status = e.status
			dtos[i].LastError = e.lastError
		}
	}
	return dtos, nil
}

// GetSummary returns a lightweight summary for health checks
func (fp *FleetPoller) GetSummary() printer.Summary {
	records, err := fp.registry.GetPrinters(false)
	if records == nil && err != nil {
		return printer.Summary{Status: "error"}
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	s := printer.Summary{Configured: len(records)}
	for _, rec := range records {
		e, ok := fp.entries[rec.ID]
		if !ok {
			continue
		}
		switch e.status.OperationalStatus {
		case printer.StatusOffline:
			s.Offline++
		case printer.StatusError:
			s.Errored++
		default:
			s.Online++
			if e.status.OperationalStatus == printer.StatusPrinting {
				s.Printing++
			}
		}
	}

	unhealthy := s.Offline + s.Errored
	switch {
	case s.Configured == 0:
		s.Status = "warning"
	case unhealthy == s.Configured:
		s.Status = "error"
	case unhealthy > 0:
		s.Status = "warning"
	default:
		s.Status = "ok"
	}
	return s
}

// LastPoll returns when the last poll finished
func (fp *FleetPoller) LastPoll() time.Time {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.lastPoll
}
