// Package bridge selects the protocol adapter for a printer, runs operations under hard
// deadlines and returns canonical results.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/adcondev/printer-bridge/internal/adapter"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/normalize"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// Factory builds the adapter for one printer record.
type Factory func(rec printer.Record) (adapter.Adapter, error)

// Params carries operation arguments. Which fields are required depends on the operation.
type Params struct {
	FileName         string `json:"fileName,omitempty"`   // startPrint
	FilePath         string `json:"filePath,omitempty"`   // uploadFile, local path
	RemoteName       string `json:"remoteName,omitempty"` // uploadFile, optional
	PrintAfterUpload bool   `json:"printAfterUpload,omitempty"`
	Command          string `json:"command,omitempty"` // sendRawCommand
}

// Acknowledgement is a validated command result.
type Acknowledgement struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Outcome is the canonical result of one Execute call.
type Outcome struct {
	Operation  Operation        `json:"operation"`
	PrinterID  string           `json:"printerId"`
	Status     *printer.Status  `json:"status,omitempty"`
	Ack        *Acknowledgement `json:"ack,omitempty"`
	Attempts   int              `json:"attempts"`
	DurationMs int64            `json:"durationMs"`
}

// Orchestrator is the single entry point of the bridge. Safe for concurrent use.
type Orchestrator struct {
	mu        sync.RWMutex
	factories map[printer.Type]Factory
	policy    Policy
	log       hclog.Logger
	now       func() time.Time
}

// New creates an orchestrator without any registered adapter.
func New(policy Policy, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		factories: make(map[printer.Type]Factory),
		policy:    policy,
		log:       logger,
		now:       time.Now,
	}
}

// Register binds a printer type to its adapter factory.
func (o *Orchestrator) Register(t printer.Type, f Factory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.factories[t] = f
}

// Types returns the registered printer types.
func (o *Orchestrator) Types() []printer.Type {
	o.mu.RLock()
	defer o.mu.RUnlock()

	types := make([]printer.Type, 0, len(o.factories))
	for t := range o.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Policy returns the active policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Execute runs one operation against one printer.
// Errors are always *bridgeerrors.Error, classified by the layer that detected them.
func (o *Orchestrator) Execute(ctx context.Context, rec printer.Record, op Operation, params Params) (*Outcome, error) {
	if !op.Valid() {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "unknown operation %q", op)
	}
	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	o.mu.RLock()
	factory, ok := o.factories[rec.Type]
	o.mu.RUnlock()
	if !ok {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration,
			"unknown printer type %q for printer %s", rec.Type, rec.ID)
	}

	a, err := factory(rec)
	if err != nil {
		if _, classified := bridgeerrors.KindOf(err); classified {
			return nil, err
		}
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot build adapter for "+rec.ID)
	}

	maxAttempts := 1
	if op.Idempotent() && o.policy.Retries > 0 {
		maxAttempts += o.policy.Retries
	}

	log := o.log.With("printer", rec.ID, "op", string(op))
	started := o.now()

	for attempt := 1; ; attempt++ {
		out, err := o.once(ctx, a, op, params)
		if err == nil {
			out.PrinterID = rec.ID
			out.Attempts = attempt
			out.DurationMs = o.now().Sub(started).Milliseconds()
			log.Debug("operation completed", "attempt", attempt, "duration_ms", out.DurationMs)
			return out, nil
		}

		err = classified(err)
		if attempt >= maxAttempts || !retryable(err) || ctx.Err() != nil {
			log.Debug("operation failed", "attempt", attempt, "error", err)
			return nil, err
		}

		log.Info("retrying operation", "attempt", attempt, "error", err)
		if !sleepCtx(ctx, o.policy.RetryBackoff) {
			return nil, err
		}
	}
}

func (o *Orchestrator) once(ctx context.Context, a adapter.Adapter, op Operation, p Params) (*Outcome, error) {
	d := o.policy.Deadline(op)
	grace := o.policy.CleanupGrace
	name := string(op)

	if op == OpGetStatus {
		raw, err := WithDeadline(ctx, d, grace, o.log, name, a.GetStatus)
		if err != nil {
			return nil, err
		}
		st, err := normalize.Status(raw, o.now())
		if err != nil {
			return nil, err
		}
		return &Outcome{Operation: op, Status: st}, nil
	}

	var call func(ctx context.Context) (*adapter.CommandResult, error)
	switch op {
	case OpTestConnection:
		call = a.TestConnection
	case OpStartPrint:
		call = func(ctx context.Context) (*adapter.CommandResult, error) {
			return a.StartPrint(ctx, p.FileName)
		}
	case OpStopPrint:
		call = a.StopPrint
	case OpUploadFile:
		call = func(ctx context.Context) (*adapter.CommandResult, error) {
			return a.UploadFile(ctx, p.FilePath, p.RemoteName, p.PrintAfterUpload)
		}
	case OpSendRawCommand:
		call = func(ctx context.Context) (*adapter.CommandResult, error) {
			return a.SendRawCommand(ctx, p.Command)
		}
	}

	res, err := WithDeadline(ctx, d, grace, o.log, name, call)
	if err != nil {
		return nil, err
	}
	ack, err := acknowledge(op, res)
	if err != nil {
		return nil, err
	}
	return &Outcome{Operation: op, Ack: ack}, nil
}

// acknowledge accepts only explicit positive acknowledgements.
func acknowledge(op Operation, res *adapter.CommandResult) (*Acknowledgement, error) {
	if res == nil {
		return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol, "%s returned no acknowledgement", op)
	}
	if res.Success == nil {
		return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol, "ambiguous acknowledgement for %s: %s", op, res.Message).
			WithDetail(string(res.Data))
	}
	if !*res.Success {
		msg := res.Message
		if msg == "" {
			msg = "device rejected " + string(op)
		}
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, msg).WithDetail(string(res.Data))
	}
	return &Acknowledgement{Message: res.Message, Data: res.Data}, nil
}

func validateParams(op Operation, p Params) error {
	var missing string
	switch op {
	case OpStartPrint:
		if strings.TrimSpace(p.FileName) == "" {
			missing = "fileName"
		}
	case OpUploadFile:
		if strings.TrimSpace(p.FilePath) == "" {
			missing = "filePath"
		}
	case OpSendRawCommand:
		if strings.TrimSpace(p.Command) == "" {
			missing = "command"
		}
	}
	if missing != "" {
		return bridgeerrors.Newf(bridgeerrors.KindConfiguration, "%s requires %s", op, missing)
	}
	return nil
}

// classified makes sure nothing unclassified leaves the bridge.
func classified(err error) error {
	if _, ok := bridgeerrors.KindOf(err); ok {
		return err
	}
	return bridgeerrors.Wrap(bridgeerrors.KindProcess, err, "unclassified adapter failure")
}

func retryable(err error) bool {
	var be *bridgeerrors.Error
	if !errors.As(err, &be) {
		return false
	}
	return be.Kind == bridgeerrors.KindTimeout || be.Kind == bridgeerrors.KindConnection
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
