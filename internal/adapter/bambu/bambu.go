// Package bambu drives Bambu Lab printers through a helper process that wraps the vendor SDK.
// The adapter holds no network state: every capability is one worker invocation.
package bambu

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/adcondev/printer-bridge/internal/adapter"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/invoker"
	"github.com/adcondev/printer-bridge/internal/printer"
)

//go:embed worker.py
var defaultScript []byte

// SDKModule is the Python module the embedded worker imports.
const SDKModule = "bambulabs_api"

// Worker keywords
const (
	OpConnect = "connect"
	OpStatus  = "status"
	OpUpload  = "upload"
	OpPrint   = "print"
	OpStop    = "stop"
	OpGcode   = "gcode"
)

// Runner executes one worker invocation. *invoker.Invoker satisfies it.
type Runner interface {
	Invoke(ctx context.Context, req invoker.Request) (*invoker.Result, error)
}

// Config holds the worker script. A nil Script uses the embedded default.
type Config struct {
	Script    []byte
	ScriptExt string
}

// DefaultScript returns the embedded worker.
func DefaultScript() []byte {
	return defaultScript
}

// Adapter implements adapter.Adapter for Bambu Lab printers.
type Adapter struct {
	rec    printer.Record
	host   string
	runner Runner
	cfg    Config
	log    hclog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Bambu adapter. Serial number and access code are mandatory.
func New(rec printer.Record, runner Runner, cfg Config, logger hclog.Logger) (*Adapter, error) {
	if strings.TrimSpace(rec.APIURL) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "printer %s has no apiUrl", rec.ID)
	}
	if strings.TrimSpace(rec.SerialNumber) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "Bambu printer %s has no serial number", rec.ID)
	}
	if strings.TrimSpace(rec.APIKey) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "Bambu printer %s has no access code", rec.ID)
	}
	if runner == nil {
		return nil, bridgeerrors.New(bridgeerrors.KindConfiguration, "no worker runner configured")
	}
	if len(cfg.Script) == 0 {
		cfg.Script = defaultScript
		cfg.ScriptExt = ".py"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Adapter{
		rec:    rec,
		host:   adapter.Host(rec.APIURL),
		runner: runner,
		cfg:    cfg,
		log:    logger.With("printer", rec.ID),
	}, nil
}

// workerPayload is the single JSON document a worker prints.
type workerPayload struct {
	Success   *bool           `json:"success"`
	Message   string          `json:"message"`
	ErrorKind string          `json:"error_kind"`
	Data      json.RawMessage `json:"data"`
}

// run invokes the worker and returns its decoded payload. Failure payloads are classified here.
func (a *Adapter) run(ctx context.Context, keyword string, args ...string) (*workerPayload, error) {
	req := invoker.Request{
		Operation: keyword,
		Script:    a.cfg.Script,
		ScriptExt: a.cfg.ScriptExt,
		Args:      append([]string{keyword, a.host, a.rec.APIKey, a.rec.SerialNumber}, args...),
	}

	res, err := a.runner.Invoke(ctx, req)
	if err != nil {
		var exitErr *invoker.ExitError
		if errors.As(err, &exitErr) && exitErr.Payload != nil {
			var p workerPayload
			if json.Unmarshal(exitErr.Payload, &p) == nil && p.Message != "" {
				return nil, a.classify(keyword, &p, exitErr)
			}
		}
		return nil, err
	}

	var p workerPayload
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProcess, err, "worker "+keyword+" printed an unexpected document").
			WithDetail(string(res.Payload))
	}
	if p.Success != nil && !*p.Success {
		return nil, a.classify(keyword, &p, nil)
	}
	return &p, nil
}

func (a *Adapter) classify(keyword string, p *workerPayload, cause error) error {
	kind, ok := bridgeerrors.ParseKind(p.ErrorKind)
	if !ok {
		kind = bridgeerrors.ClassifyWorkerMessage(p.Message)
	}
	a.log.Debug("worker reported failure", "op", keyword, "kind", kind, "message", p.Message)

	msg := p.Message
	if msg == "" {
		msg = "worker " + keyword + " failed"
	}
	return bridgeerrors.Wrap(kind, cause, msg).WithDetail(string(p.Data))
}

func (a *Adapter) command(ctx context.Context, keyword string, args ...string) (*adapter.CommandResult, error) {
	p, err := a.run(ctx, keyword, args...)
	if err != nil {
		return nil, err
	}
	return &adapter.CommandResult{Success: p.Success, Message: p.Message, Data: p.Data}, nil
}

// TestConnection opens and closes a vendor session. Read-only.
func (a *Adapter) TestConnection(ctx context.Context) (*adapter.CommandResult, error) {
	return a.command(ctx, OpConnect)
}

type statusData struct {
	State            string         `json:"state"`
	Percent          adapter.Number `json:"percent"`
	RemainingMinutes adapter.Number `json:"remaining_minutes"`
	ElapsedSeconds   adapter.Number `json:"elapsed_seconds"`
	BedTemp          adapter.Number `json:"bed_temp"`
	BedTarget        adapter.Number `json:"bed_target"`
	NozzleTemp       adapter.Number `json:"nozzle_temp"`
	NozzleTarget     adapter.Number `json:"nozzle_target"`
	File             string         `json:"file"`
}

// GetStatus asks the worker for the current printer state.
func (a *Adapter) GetStatus(ctx context.Context) (adapter.RawStatus, error) {
	p, err := a.run(ctx, OpStatus)
	if err != nil {
		return nil, err
	}
	if p.Success == nil {
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "worker status answer carries no success flag").
			WithDetail(string(p.Data))
	}
	if len(p.Data) == 0 {
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "worker status answer carries no data")
	}

	var d statusData
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "unparseable status data").WithDetail(string(p.Data))
	}

	return &adapter.VendorStatus{
		State:            d.State,
		Percent:          d.Percent.Value,
		RemainingMinutes: d.RemainingMinutes.Value,
		ElapsedSeconds:   d.ElapsedSeconds.Value,
		BedTemp:          d.BedTemp.Value,
		BedTarget:        d.BedTarget.Value,
		NozzleTemp:       d.NozzleTemp.Value,
		NozzleTarget:     d.NozzleTarget.Value,
		FileName:         d.File,
	}, nil
}

// StartPrint starts a file stored on the printer.
func (a *Adapter) StartPrint(ctx context.Context, fileName string) (*adapter.CommandResult, error) {
	return a.command(ctx, OpPrint, fileName)
}

// StopPrint stops the running job.
func (a *Adapter) StopPrint(ctx context.Context) (*adapter.CommandResult, error) {
	return a.command(ctx, OpStop)
}

// UploadFile transfers a local file to the printer storage.
func (a *Adapter) UploadFile(ctx context.Context, localPath, remoteName string, printAfter bool) (*adapter.CommandResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot open upload file")
	}
	if info.IsDir() {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "upload path %s is a directory", localPath)
	}
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	flag := "0"
	if printAfter {
		flag = "1"
	}
	return a.command(ctx, OpUpload, localPath, remoteName, flag)
}

// SendRawCommand sends G-code through the vendor session.
func (a *Adapter) SendRawCommand(ctx context.Context, command string) (*adapter.CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, bridgeerrors.New(bridgeerrors.KindConfiguration, "empty G-code command")
	}
	return a.command(ctx, OpGcode, command)
}
