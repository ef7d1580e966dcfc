package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/judwhite/go-svc"

	"github.com/adcondev/printer-bridge/internal/adapter/bambu"
	"github.com/adcondev/printer-bridge/internal/bridge"
	"github.com/adcondev/printer-bridge/internal/config"
	"github.com/adcondev/printer-bridge/internal/invoker"
	"github.com/adcondev/printer-bridge/internal/printer"
	"github.com/adcondev/printer-bridge/internal/server"
	"github.com/adcondev/printer-bridge/internal/worker"
)

const registryTTL = 30 * time.Second

// GetEnvConfig returns the current environment configuration
func GetEnvConfig() config.Environment {
	return config.GetEnvironment(config.BuildEnvironment)
}

// Program implements svc.Service interface
type Program struct {
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	httpServer   *http.Server
	wsServer     *server.Server
	bridgeWorker *worker.Worker
	orchestrator *bridge.Orchestrator
	invoker      *invoker.Invoker
	registry     *PrinterRegistry
	poller       *FleetPoller
	startTime    time.Time
}

// Init initializes the service
func (p *Program) Init(_ svc.Environment) error {
	envConfig := GetEnvConfig()

	if err := initLogging(envConfig); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║   🖨️ PRINTER BRIDGE - 3D Printer Protocol Service          ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Printf("[INIT] 🚀 Starting service - Environment: %s", envConfig.Name)
	log.Printf("[INIT] 📅 Build: %s %s", config.BuildDate, config.BuildTime)

	return nil
}

// Start starts the service
func (p *Program) Start() error {
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	cfg := GetEnvConfig()

	// Fleet registry
	p.registry = NewPrinterRegistry(cfg.FleetPath(dataDir()), cfg, registryTTL)
	p.registry.LogStartupDiagnostics()

	policy := bridge.DefaultPolicy()
	pollCfg := PollerConfig{Interval: cfg.PollInterval}
	if fleet, err := p.registry.Fleet(false); err == nil {
		policy = fleet.Policy()
		pollCfg = PollerConfig{Interval: fleet.PollInterval(), Concurrency: fleet.Poll.Concurrency}
	} else {
		log.Printf("[INIT] ⚠️ Using default bridge policy: %v", err)
	}

	// Bridge
	bridgeLog := NewBridgeLogger(cfg.Verbose)
	p.invoker = invoker.New(invoker.Config{
		Interpreter: cfg.Interpreter,
		TempDir:     cfg.WorkerDir,
	}, bridgeLog.Named("invoker"))
	p.orchestrator = bridge.New(policy, bridgeLog)
	bridge.RegisterDefaults(p.orchestrator, p.invoker, bambu.Config{}, bridgeLog)

	// Helper dependencies
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.checkHelper(p.ctx)
	}()

	// Fleet poller
	p.poller = NewFleetPoller(p.registry, p.orchestrator, pollCfg)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poller.Run(p.ctx)
	}()

	// Initialize WebSocket server
	p.wsServer = server.NewServer(server.Config{
		QueueSize:      cfg.QueueCapacity,
		AllowedOrigins: cfg.AllowedOrigins,
	}, p.poller)

	// Initialize worker pool
	p.bridgeWorker = worker.NewWorker(
		p.wsServer.JobQueue(),
		p.wsServer,
		p.orchestrator,
		p.registry,
		worker.Config{Workers: cfg.Workers},
	)
	p.bridgeWorker.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.wsServer.HandleWebSocket)
	mux.HandleFunc("/health", p.healthHandler)
	mux.HandleFunc("/printers", p.printersHandler)

	p.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		log.Println("┌─────────────────────────────────────────────────────────────┐")
		log.Printf("│ 🖨️ PRINTER BRIDGE READY - Environment: %-21s│", cfg.Name)
		log.Printf("│ 🔌 WebSocket: ws://%s/ws%-25s│", cfg.ListenAddr, "")
		log.Printf("│ 📋 Printers:  http://%s/printers%-19s│", cfg.ListenAddr, "")
		log.Printf("│ 💚 Health:    http://%s/health%-21s│", cfg.ListenAddr, "")
		log.Printf("│ 🐍 Worker:    %-45s│", cfg.Interpreter)
		log.Println("└─────────────────────────────────────────────────────────────┘")

		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTP] ❌ Error starting HTTP server: %v", err)
		}
	}()

	return nil
}

// Stop stops the service gracefully
func (p *Program) Stop() error {
	log.Println("[STOP] 🛑 Service shutting down...")

	// 1. Cancel context (stops poller and in-flight operations)
	if p.cancel != nil {
		p.cancel()
	}

	// 2. Graceful HTTP shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Printf("[STOP] ⚠️ HTTP shutdown error: %v", err)
		}
	}

	// 3. Shutdown WebSocket server
	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}

	// 4. Stop worker pool (kills helper processes still running)
	if p.bridgeWorker != nil {
		p.bridgeWorker.Stop()
	}

	p.wg.Wait()

	if p.invoker != nil && p.invoker.ActiveCount() > 0 {
		log.Printf("[STOP] ⚠️ %d helper process(es) still tracked", p.invoker.ActiveCount())
	}

	uptime := time.Since(p.startTime)
	log.Printf("[STOP] ✅ Service stopped (uptime: %v)", uptime.Round(time.Second))
	return nil
}

// Health builds the health report
func (p *Program) Health() HealthResponse {
	current, capacity := p.wsServer.QueueStatus()
	stats := p.bridgeWorker.Stats()

	var utilization float64
	if capacity > 0 {
		utilization = float64(current) / float64(capacity) * 100
	}

	response := HealthResponse{
		Status: "ok",
		Queue: QueueStatus{
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Worker: WorkerStatus{
			Running:       stats.IsRunning,
			Workers:       stats.Workers,
			Active:        stats.Active,
			JobsProcessed: stats.JobsProcessed,
			JobsFailed:    stats.JobsFailed,
		},
		Printers: p.poller.GetSummary(),
		Bridge: BridgeStatus{
			Types:           p.orchestrator.Types(),
			ActiveProcesses: p.invoker.ActiveCount(),
			Clients:         p.wsServer.ClientCount(),
			LogSizeBytes:    GetLogFileSize(),
		},
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(p.startTime).Seconds()),
	}

	response.Bridge.Helper = p.invoker.LastCheck()
	if last := p.poller.LastPoll(); !last.IsZero() {
		response.Bridge.LastPoll = &last
	}
	if response.Printers.Status == "error" {
		response.Status = "degraded"
	}
	return response
}

// checkHelper verifies the interpreter and the Bambu SDK the helper process needs.
func (p *Program) checkHelper(ctx context.Context) {
	st := p.invoker.Check(ctx, bambu.SDKModule)
	if st.Ready {
		log.Printf("[HEALTH] 🐍 Helper ready: %s (%s)", st.Interpreter, st.Version)
		return
	}
	log.Printf("[HEALTH] ⚠️ Helper not ready, Bambu printers will fail: %s", st.Error)
}

// healthHandler reports service health; ?deps=1 re-checks the helper dependencies first
func (p *Program) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deps") == "1" {
		p.checkHelper(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(p.Health())
}

// printersHandler lists the fleet with cached statuses; ?refresh=1 polls first
func (p *Program) printersHandler(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"

	printers, err := p.poller.GetPrinters(r.Context(), force)
	if err != nil {
		http.Error(w, "Failed to load fleet: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Printers []printer.DetailDTO `json:"printers"`
		Summary  printer.Summary     `json:"summary"`
	}{printers, p.poller.GetSummary()})
}

func initLogging(envConfig config.Environment) error {
	logPath := envConfig.LogPath(dataDir())
	logDir := filepath.Dir(logPath)

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}

	if err := InitLogger(logPath, envConfig.Verbose); err != nil {
		return err
	}

	log.Printf("[INIT] 📁 Log file: %s", logPath)
	return nil
}

// dataDir is PROGRAMDATA on Windows and the user config dir elsewhere
func dataDir() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
