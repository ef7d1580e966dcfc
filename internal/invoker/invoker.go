// Package invoker runs one vendor operation in a short-lived child process and returns
// the single JSON document the process writes to stdout.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
)

const (
	defaultWaitDelay = 500 * time.Millisecond
	defaultDirName   = "printer-bridge"
	defaultMaxOutput = 1 << 20
)

// Config holds invoker configuration
type Config struct {
	Interpreter string        // Executable that runs the staged script, e.g. "python3"
	TempDir     string        // Private location for staged scripts
	WaitDelay   time.Duration // Max wait for stdout/stderr to drain after the process is gone
	MaxOutput   int           // Bytes kept per stream; stdout beyond this fails the call
}

// Request is one worker invocation.
type Request struct {
	Operation string   // Keyword, used for logs only
	Script    []byte   // Payload written to a call-scoped temp file; first argument of the interpreter
	ScriptExt string   // Extension of the staged script, e.g. ".py"
	Args      []string // Positional arguments after the script path
	Env       []string // Extra KEY=VALUE entries
}

// Result is a successful worker run.
type Result struct {
	Payload  json.RawMessage
	Stderr   string
	Duration time.Duration
}

// ExitError describes a worker that exited with a nonzero code.
// Payload is set when stdout still held a JSON document.
type ExitError struct {
	ExitCode int
	Payload  json.RawMessage
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.ExitCode)
}

// Invoker spawns worker processes. Safe for concurrent use: every call stages its own
// uniquely named script and owns its own process.
type Invoker struct {
	cfg    Config
	log    hclog.Logger
	active atomic.Int64

	mu        sync.Mutex
	lastCheck *DependencyStatus
}

// New creates an invoker
func New(cfg Config, logger hclog.Logger) *Invoker {
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), defaultDirName)
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = defaultMaxOutput
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Invoker{cfg: cfg, log: logger}
}

// ActiveCount returns the number of worker processes currently running.
func (inv *Invoker) ActiveCount() int {
	return int(inv.active.Load())
}

// TempDir returns the directory used for staged scripts.
func (inv *Invoker) TempDir() string {
	return inv.cfg.TempDir
}

// Invoke runs one worker to completion or until ctx is done.
// The staged script is removed on every exit path.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if inv.cfg.Interpreter == "" {
		return nil, bridgeerrors.New(bridgeerrors.KindConfiguration, "worker interpreter not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindTimeout, err, "worker "+req.Operation+" not started: deadline already expired")
	}

	token := uuid.NewString()
	args := req.Args

	if len(req.Script) > 0 {
		scriptPath := filepath.Join(inv.cfg.TempDir, "worker_"+token+req.ScriptExt)
		defer inv.cleanup(scriptPath, token)

		if err := stage(scriptPath, req.Script); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, err, "cannot stage worker script")
		}
		args = append([]string{scriptPath}, req.Args...)
	}

	cmd := exec.CommandContext(ctx, inv.cfg.Interpreter, args...)
	cmd.Env = append(os.Environ(), req.Env...)
	cmd.WaitDelay = inv.cfg.WaitDelay

	stdout := newBoundedBuffer(inv.cfg.MaxOutput)
	stderr := newBoundedBuffer(inv.cfg.MaxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	prepare(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindTimeout, err, "worker "+req.Operation+" not started: deadline expired")
		}
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConnection, err, "worker process failed to spawn")
	}

	inv.active.Add(1)
	inv.log.Debug("worker started", "op", req.Operation, "pid", cmd.Process.Pid, "token", token)

	waitErr := cmd.Wait()
	inv.active.Add(-1)
	elapsed := time.Since(started)

	if stderr.Len() > 0 {
		inv.log.Trace("worker stderr", "op", req.Operation, "token", token, "stderr", strings.TrimSpace(stderr.String()))
	}

	if waitErr != nil && ctx.Err() != nil {
		inv.log.Warn("worker killed", "op", req.Operation, "token", token, "after", elapsed, "reason", ctx.Err())
		return nil, bridgeerrors.Wrap(bridgeerrors.KindTimeout, ctx.Err(),
			fmt.Sprintf("worker %s killed after %v", req.Operation, elapsed.Round(time.Millisecond))).
			WithDetail(stderr.String())
	}

	exitCode := 0
	if waitErr != nil {
		var ee *exec.ExitError
		switch {
		case errors.As(waitErr, &ee):
			exitCode = ee.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
			inv.log.Warn("worker output pipes held open after exit", "op", req.Operation, "token", token)
		default:
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, waitErr, "worker "+req.Operation+" failed").
				WithDetail(stderr.String())
		}
	}

	if stdout.Overflowed() {
		inv.log.Warn("worker output over limit", "op", req.Operation, "token", token, "limit", inv.cfg.MaxOutput)
		return nil, bridgeerrors.Newf(bridgeerrors.KindProcess, "worker %s output exceeds %d bytes", req.Operation, inv.cfg.MaxOutput).
			WithDetail(stderr.String())
	}

	payload, parseErr := parseDocument(stdout.Bytes())

	if exitCode != 0 {
		exitErr := &ExitError{
			ExitCode: exitCode,
			Payload:  payload,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
		inv.log.Debug("worker failed", "op", req.Operation, "token", token, "code", exitCode, "json", payload != nil)

		if payload != nil {
			msg := payloadMessage(payload)
			if msg == "" {
				msg = exitErr.Error()
			}
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, exitErr, msg).WithDetail(string(payload))
		}

		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, exitErr,
			fmt.Sprintf("worker %s exited with code %d", req.Operation, exitCode)).WithDetail(detail)
	}

	if parseErr != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, parseErr,
			"worker "+req.Operation+" produced invalid JSON output").WithDetail(stdout.String())
	}

	inv.log.Debug("worker finished", "op", req.Operation, "token", token, "duration", elapsed)

	return &Result{
		Payload:  payload,
		Stderr:   stderr.String(),
		Duration: elapsed,
	}, nil
}

// stage writes the worker script to its private location.
func stage(path string, script []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, script, 0o600)
}

// cleanup removes a staged script. Failures are logged, never returned.
func (inv *Invoker) cleanup(path, token string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		inv.log.Warn("failed to delete worker script", "path", path, "token", token, "error", err)
	}
}

// parseDocument accepts exactly one JSON document surrounded by optional whitespace.
func parseDocument(out []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, errors.New("empty output")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var doc json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON document")
	}
	return doc, nil
}

// payloadMessage extracts the conventional "message" field of a worker payload.
func payloadMessage(payload json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
