// Package config defines environment-specific settings for the printer bridge service.
package config

import (
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "PrinterBridge_Unknown"
	// ServerPort is the default port for the service, can be overridden by environment config.
	ServerPort = "8766"
	// AllowedOrigins is a comma-separated list of allowed origins injected via ldflags.
	// Example: "https://farm.example.com,http://localhost:*"
	AllowedOrigins = ""
)

// EnvPrefix is the prefix of runtime overrides, e.g. BRIDGE_LISTEN_ADDR.
const EnvPrefix = "BRIDGE"

// Environment holds environment-specific settings
type Environment struct {
	// Identificación
	Name        string
	ServiceName string

	// Red
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Cola
	QueueCapacity int
	Workers       int

	// Logging
	Verbose bool

	// Flota
	FleetFile    string
	PollInterval time.Duration

	// Proceso auxiliar (Bambu)
	Interpreter string
	WorkerDir   string

	// Security
	AllowedOrigins []string
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <programData>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(programData string) string {
	return filepath.Join(programData, e.ServiceName, e.ServiceName+".log")
}

// FleetPath resolves the fleet file; relative paths live next to the log file.
func (e Environment) FleetPath(programData string) string {
	if filepath.IsAbs(e.FleetFile) {
		return e.FleetFile
	}
	return filepath.Join(programData, e.ServiceName, e.FleetFile)
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	"remote": {
		Name:          "REMOTO",
		ServiceName:   ServiceName,
		ListenAddr:    "0.0.0.0:" + ServerPort,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		QueueCapacity: 100,
		Workers:       4,
		Verbose:       false,
		FleetFile:     "fleet.yaml",
		PollInterval:  30 * time.Second,
		Interpreter:   "python3",
		// By default, restrict to localhost for security
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*"},
	},
	"local": {
		Name:           "LOCAL",
		ServiceName:    ServiceName,
		ListenAddr:     "localhost:" + ServerPort,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		QueueCapacity:  50,
		Workers:        2,
		Verbose:        true,
		FleetFile:      "fleet.yaml",
		PollInterval:   15 * time.Second,
		Interpreter:    "python3",
		AllowedOrigins: []string{"*"},
	},
}

// GetEnvironment returns config for the specified environment.
// BRIDGE_* environment variables override the built-in values.
func GetEnvironment(env string) Environment {
	cfg, ok := environments[env]
	if !ok {
		log.Printf("[!] Unknown environment '%s', defaulting to 'local'", env)
		cfg = environments["local"]
	}

	// Override allowed origins from ldflags if provided
	if AllowedOrigins != "" {
		cfg.AllowedOrigins = strings.Split(AllowedOrigins, ",")
	}

	applyOverrides(&cfg)
	return cfg
}

func applyOverrides(cfg *Environment) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if s := v.GetString("listen_addr"); s != "" {
		cfg.ListenAddr = s
	}
	if s := v.GetString("fleet_file"); s != "" {
		cfg.FleetFile = s
	}
	if s := v.GetString("python"); s != "" {
		cfg.Interpreter = s
	}
	if s := v.GetString("worker_dir"); s != "" {
		cfg.WorkerDir = s
	}
	if v.IsSet("verbose") {
		cfg.Verbose = v.GetBool("verbose")
	}
	if n := v.GetInt("workers"); n > 0 {
		cfg.Workers = n
	}
	if d := v.GetDuration("poll_interval"); d > 0 {
		cfg.PollInterval = d
	}
	if s := v.GetString("allowed_origins"); s != "" {
		cfg.AllowedOrigins = strings.Split(s, ",")
	}
}
