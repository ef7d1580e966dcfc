package invoker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const checkTimeout = 10 * time.Second

// DependencyStatus reports whether the interpreter and the vendor modules a worker imports are usable.
type DependencyStatus struct {
	Ready       bool      `json:"ready"`
	Interpreter string    `json:"interpreter"`
	Version     string    `json:"version,omitempty"`
	Missing     []string  `json:"missing,omitempty"`
	Error       string    `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Check runs the interpreter with --version and then tries to import every module.
// The result is kept and returned by LastCheck.
func (inv *Invoker) Check(ctx context.Context, modules ...string) (st DependencyStatus) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	st.Interpreter = inv.cfg.Interpreter
	defer func() {
		st.CheckedAt = time.Now()
		saved := st
		inv.mu.Lock()
		inv.lastCheck = &saved
		inv.mu.Unlock()
	}()

	if inv.cfg.Interpreter == "" {
		st.Error = "worker interpreter not configured"
		return st
	}

	out, err := inv.runInterpreter(ctx, "--version")
	if err != nil {
		st.Error = fmt.Sprintf("interpreter %s not usable: %v", inv.cfg.Interpreter, err)
		return st
	}
	st.Version = out

	for _, m := range modules {
		if _, err := inv.runInterpreter(ctx, "-c", "import "+m); err != nil {
			inv.log.Debug("worker module missing", "module", m, "error", err)
			st.Missing = append(st.Missing, m)
		}
	}
	if len(st.Missing) > 0 {
		st.Error = "missing modules: " + strings.Join(st.Missing, ", ")
		return st
	}

	st.Ready = true
	return st
}

// LastCheck returns the result of the most recent Check, or nil.
func (inv *Invoker) LastCheck() *DependencyStatus {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.lastCheck == nil {
		return nil
	}
	st := *inv.lastCheck
	return &st
}

// runInterpreter runs the interpreter directly and returns its first non-empty output line.
func (inv *Invoker) runInterpreter(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, inv.cfg.Interpreter, args...)
	cmd.WaitDelay = inv.cfg.WaitDelay

	out := newBoundedBuffer(4096)
	cmd.Stdout = out
	cmd.Stderr = out
	prepare(cmd)

	if err := cmd.Run(); err != nil {
		if line := firstLine(out.String()); line != "" {
			return "", fmt.Errorf("%w: %s", err, line)
		}
		return "", err
	}
	return firstLine(out.String()), nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
