package daemon

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/adcondev/printer-bridge/internal/config"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// PrinterRegistry serves printer records from the fleet file with caching
type PrinterRegistry struct {
	path        string
	env         config.Environment
	cache       *config.Fleet
	lastRefresh time.Time
	cacheTTL    time.Duration
	mu          sync.RWMutex
}

// NewPrinterRegistry creates a registry backed by the fleet file at path
func NewPrinterRegistry(path string, env config.Environment, ttl time.Duration) *PrinterRegistry {
	return &PrinterRegistry{
		path:     path,
		env:      env,
		cacheTTL: ttl,
	}
}

// Path returns the fleet file location
func (pr *PrinterRegistry) Path() string {
	return pr.path
}

// Fleet returns the cached fleet, reloading it if stale
func (pr *PrinterRegistry) Fleet(forceRefresh bool) (*config.Fleet, error) {
	pr.mu.RLock()
	if !forceRefresh && time.Since(pr.lastRefresh) < pr.cacheTTL && pr.cache != nil {
		f := pr.cache
		pr.mu.RUnlock()
		return f, nil
	}
	pr.mu.RUnlock()

	pr.mu.Lock()
	defer pr.mu.Unlock()

	// Double-check after acquiring write lock
	if !forceRefresh && time.Since(pr.lastRefresh) < pr.cacheTTL && pr.cache != nil {
		return pr.cache, nil
	}

	f, err := pr.load()
	if err != nil {
		if pr.cache != nil {
			return pr.cache, err // Return stale cache on error
		}
		return nil, err
	}

	pr.cache = f
	pr.lastRefresh = time.Now()
	return f, nil
}

func (pr *PrinterRegistry) load() (*config.Fleet, error) {
	f, err := config.LoadFleet(pr.path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(f); err != nil {
		return nil, fmt.Errorf("invalid fleet file %s: %w", pr.path, err)
	}
	config.Normalize(f, pr.env)
	return f, nil
}

// GetPrinters returns a copy of the cached records or refreshes if stale
func (pr *PrinterRegistry) GetPrinters(forceRefresh bool) ([]printer.Record, error) {
	f, err := pr.Fleet(forceRefresh)
	if f == nil {
		return nil, err
	}
	result := make([]printer.Record, len(f.Printers))
	copy(result, f.Printers)
	return result, err
}

// Lookup finds a printer by id
func (pr *PrinterRegistry) Lookup(id string) (printer.Record, error) {
	printers, err := pr.GetPrinters(false)
	for _, p := range printers {
		if p.ID == id {
			return p, nil
		}
	}
	if err != nil {
		return printer.Record{}, fmt.Errorf("printer not found: %s (fleet unavailable: %w)", id, err)
	}
	return printer.Record{}, fmt.Errorf("printer not found: %s", id)
}

// LogStartupDiagnostics logs the configured fleet at service start
func (pr *PrinterRegistry) LogStartupDiagnostics() {
	printers, err := pr.GetPrinters(true)
	if err != nil {
		log.Printf("[PRINTERS] ⚠️ Error loading fleet file %s: %v", pr.path, err)
		return
	}

	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
	log.Printf("[PRINTERS] 🖨️ Fleet file: %s", pr.path)
	log.Printf("[PRINTERS] 🖨️ Configured %d printer(s)", len(printers))

	if len(printers) == 0 {
		log.Println("[PRINTERS] ⚠️ No printers configured!")
	}
	for _, p := range printers {
		log.Printf("[PRINTERS]    • %s [%s] %s", p.Label(), p.Type, p.APIURL)
	}
	log.Println("[PRINTERS] ══════════════════════════════════════════════════")
}
