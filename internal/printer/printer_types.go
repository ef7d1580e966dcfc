// Package printer contains shared types to avoid import cycles.
package printer

import "time"

// Type selects the protocol adapter. The bridge never guesses it from device content.
type Type string

// Known printer types
const (
	TypePrusaLink Type = "prusalink" // REST firmware API, Basic auth
	TypeMoonraker Type = "moonraker" // object-query JSON API
	TypeBambu     Type = "bambu"     // vendor SDK through a helper process
)

// Record is a printer as stored by the registry. Read-only to the bridge.
type Record struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Type         Type   `json:"type" yaml:"type"`
	APIURL       string `json:"apiUrl" yaml:"api_url"`
	APIKey       string `json:"apiKey,omitempty" yaml:"api_key"`
	SerialNumber string `json:"serialNumber,omitempty" yaml:"serial_number"`
}

// Label returns a human readable identifier for logs.
func (r Record) Label() string {
	if r.Name != "" {
		return r.Name + " (" + r.ID + ")"
	}
	return r.ID
}

// OperationalStatus is the canonical printer state.
type OperationalStatus string

// Canonical states
const (
	StatusIdle     OperationalStatus = "idle"
	StatusPrinting OperationalStatus = "printing"
	StatusPaused   OperationalStatus = "paused"
	StatusError    OperationalStatus = "error"
	StatusOffline  OperationalStatus = "offline"
)

// Status is the canonical printer status produced by the normalizer.
// Nil pointers mean "not reported / unknown".
type Status struct {
	OperationalStatus OperationalStatus `json:"operationalStatus"`
	ProgressPercent   *float64          `json:"progressPercent,omitempty"`
	ElapsedSeconds    *int64            `json:"elapsedSeconds,omitempty"`
	RemainingSeconds  *int64            `json:"remainingSeconds,omitempty"`
	BedTemperature    *float64          `json:"bedTemperature,omitempty"`
	BedTarget         *float64          `json:"bedTarget,omitempty"`
	ToolTemperature   *float64          `json:"toolTemperature,omitempty"`
	ToolTarget        *float64          `json:"toolTarget,omitempty"`
	CurrentFile       string            `json:"currentFile,omitempty"`
	LastUpdated       time.Time         `json:"lastUpdated"`
}

// Summary provides lightweight fleet overview for health checks
type Summary struct {
	Status     string `json:"status"` // "ok", "warning", "error"
	Configured int    `json:"configured"`
	Online     int    `json:"online"`
	Printing   int    `json:"printing"`
	Offline    int    `json:"offline"`
	Errored    int    `json:"errored"`
}

// DetailDTO is the JSON response format for printer details
type DetailDTO struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Type              Type              `json:"type"`
	APIURL            string            `json:"apiUrl"`
	OperationalStatus OperationalStatus `json:"operationalStatus,omitempty"`
	Status            *Status           `json:"status,omitempty"`
	LastError         string            `json:"lastError,omitempty"`
}
