package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adcondev/printer-bridge/internal/bridge"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// Fleet is the YAML fleet file: printer records plus bridge tuning.
type Fleet struct {
	Printers       []printer.Record `yaml:"printers"`
	DeadlinesMs    map[string]int   `yaml:"deadlines_ms"`
	Retries        int              `yaml:"retries"`
	RetryBackoffMs int              `yaml:"retry_backoff_ms"`
	CleanupGraceMs int              `yaml:"cleanup_grace_ms"`
	Poll           PollConfig       `yaml:"poll"`
}

// PollConfig controls the background status poller.
type PollConfig struct {
	IntervalMs  int `yaml:"interval_ms"`
	Concurrency int `yaml:"concurrency"`
}

const (
	defaultPollConcurrency = 4
	defaultRetryBackoffMs  = 500
)

// LoadFleet reads and decodes a fleet file. Unknown keys are rejected.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	return ParseFleet(data)
}

// ParseFleet decodes fleet YAML.
func ParseFleet(data []byte) (*Fleet, error) {
	var f Fleet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fleet file: %w", err)
	}
	return &f, nil
}

// Validate checks fleet correctness.
// It performs declarative validation only.
// It MUST NOT mutate the fleet.
//
// Printer types are not checked here: an unknown type is reported per call by the bridge.
func Validate(f *Fleet) error {
	if f == nil {
		return errors.New("fleet is nil")
	}

	seen := make(map[string]bool, len(f.Printers))
	for i, p := range f.Printers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("printers[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("printer %q: duplicate id", id)
		}
		seen[id] = true

		if strings.TrimSpace(p.APIURL) == "" {
			return fmt.Errorf("printer %q: api_url is required", id)
		}
	}

	for op, ms := range f.DeadlinesMs {
		if !bridge.Operation(op).Valid() {
			return fmt.Errorf("deadlines_ms: unknown operation %q", op)
		}
		if ms <= 0 {
			return fmt.Errorf("deadlines_ms.%s: must be positive, got %d", op, ms)
		}
	}

	if f.Retries < 0 {
		return fmt.Errorf("retries: must not be negative, got %d", f.Retries)
	}
	if f.RetryBackoffMs < 0 || f.CleanupGraceMs < 0 {
		return errors.New("retry_backoff_ms and cleanup_grace_ms must not be negative")
	}
	if f.Poll.IntervalMs < 0 || f.Poll.Concurrency < 0 {
		return errors.New("poll.interval_ms and poll.concurrency must not be negative")
	}
	return nil
}

// Normalize applies post-validation defaults.
// It is allowed to mutate the fleet.
// It MUST be called only after Validate().
func Normalize(f *Fleet, env Environment) {
	if f == nil {
		return
	}

	for i := range f.Printers {
		p := &f.Printers[i]
		p.ID = strings.TrimSpace(p.ID)
		p.APIURL = strings.TrimSpace(p.APIURL)
		p.Type = printer.Type(strings.ToLower(strings.TrimSpace(string(p.Type))))
		if p.Name == "" {
			p.Name = p.ID
		}
	}

	if f.Poll.IntervalMs == 0 {
		f.Poll.IntervalMs = int(env.PollInterval / time.Millisecond)
	}
	if f.Poll.Concurrency == 0 {
		f.Poll.Concurrency = defaultPollConcurrency
	}
	if f.RetryBackoffMs == 0 {
		f.RetryBackoffMs = defaultRetryBackoffMs
	}
}

// Policy builds the bridge policy described by the fleet file.
func (f *Fleet) Policy() bridge.Policy {
	p := bridge.DefaultPolicy()
	for op, ms := range f.DeadlinesMs {
		p.Deadlines[bridge.Operation(op)] = time.Duration(ms) * time.Millisecond
	}
	p.Retries = f.Retries
	if f.RetryBackoffMs > 0 {
		p.RetryBackoff = time.Duration(f.RetryBackoffMs) * time.Millisecond
	}
	if f.CleanupGraceMs > 0 {
		p.CleanupGrace = time.Duration(f.CleanupGraceMs) * time.Millisecond
	}
	return p
}

// PollInterval returns the poll interval as a duration.
func (f *Fleet) PollInterval() time.Duration {
	return time.Duration(f.Poll.IntervalMs) * time.Millisecond
}
