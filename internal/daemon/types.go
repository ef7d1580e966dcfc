package daemon

import (
	"time"

	"github.com/adcondev/printer-bridge/internal/invoker"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// HealthResponse representa el estado de salud del servicio.
type HealthResponse struct {
	Status   string          `json:"status"`
	Queue    QueueStatus     `json:"queue"`
	Worker   WorkerStatus    `json:"worker"`
	Printers printer.Summary `json:"printers"`
	Bridge   BridgeStatus    `json:"bridge"`
	Build    BuildInfo       `json:"build"`
	Uptime   int             `json:"uptime_seconds"`
}

// QueueStatus representa el estado de la cola de trabajos.
type QueueStatus struct {
	Current     int     `json:"current"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// WorkerStatus representa el estado del pool de workers.
type WorkerStatus struct {
	Running       bool  `json:"running"`
	Workers       int   `json:"workers"`
	Active        int   `json:"active"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
}

// BridgeStatus describe el bridge: protocolos registrados y procesos auxiliares vivos.
type BridgeStatus struct {
	Types           []printer.Type `json:"types"`
	ActiveProcesses int            `json:"active_processes"`
	Clients         int            `json:"clients"`
	LastPoll        *time.Time     `json:"last_poll,omitempty"`
	LogSizeBytes    int64          `json:"log_size_bytes"`

	Helper *invoker.DependencyStatus `json:"helper,omitempty"`
}

// BuildInfo contiene información sobre la compilación del servicio.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}
