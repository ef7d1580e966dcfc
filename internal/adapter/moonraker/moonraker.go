// Package moonraker talks to Klipper printers through the Moonraker object-query API.
package moonraker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/adcondev/printer-bridge/internal/adapter"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/printer"
)

const objectList = "print_stats&extruder&heater_bed&display_status"

const (
	queryPath  = "/printer/objects/query?" + objectList
	legacyPath = "/printer/objects/status?" + objectList
)

// Adapter implements adapter.Adapter for Moonraker.
type Adapter struct {
	rec  printer.Record
	http *adapter.HTTPClient
	log  hclog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Moonraker adapter. The API key is optional.
func New(rec printer.Record, logger hclog.Logger) (*Adapter, error) {
	if strings.TrimSpace(rec.APIURL) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "printer %s has no apiUrl", rec.ID)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	var decorate func(*http.Request)
	if key := strings.TrimSpace(rec.APIKey); key != "" {
		decorate = func(req *http.Request) {
			req.Header.Set("X-Api-Key", key)
		}
	}

	return &Adapter{
		rec:  rec,
		http: adapter.NewHTTPClient(rec.APIURL, "Moonraker "+rec.Label(), decorate),
		log:  logger.With("printer", rec.ID),
	}, nil
}

// TestConnection reads /printer/info. Read-only.
func (a *Adapter) TestConnection(ctx context.Context) (*adapter.CommandResult, error) {
	resp, err := a.http.Get(ctx, "/printer/info")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, a.http.Target)
	}

	var info struct {
		Result json.RawMessage `json:"result"`
	}
	if err := a.http.DecodeJSON(resp, &info); err != nil {
		return nil, err
	}
	if len(info.Result) == 0 {
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "printer info has no result").WithDetail(string(resp.Body))
	}
	return adapter.Succeeded("Connected to Moonraker", info.Result), nil
}

type temperature struct {
	Temperature adapter.Number `json:"temperature"`
	Target      adapter.Number `json:"target"`
}

type objectQuery struct {
	Result *struct {
		Status *struct {
			PrintStats *struct {
				State         string         `json:"state"`
				Filename      string         `json:"filename"`
				PrintDuration adapter.Number `json:"print_duration"`
			} `json:"print_stats"`
			Extruder      *temperature `json:"extruder"`
			HeaterBed     *temperature `json:"heater_bed"`
			DisplayStatus *struct {
				Progress adapter.Number `json:"progress"`
			} `json:"display_status"`
		} `json:"status"`
	} `json:"result"`
}

// GetStatus queries the printer objects in one request, falling back to the legacy path on 404.
func (a *Adapter) GetStatus(ctx context.Context) (adapter.RawStatus, error) {
	resp, err := a.http.Get(ctx, queryPath)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		a.log.Debug("object query path missing, using legacy path")
		resp, err = a.http.Get(ctx, legacyPath)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, a.http.Target)
	}

	var q objectQuery
	if err := a.http.DecodeJSON(resp, &q); err != nil {
		return nil, err
	}
	if q.Result == nil || q.Result.Status == nil {
		return nil, bridgeerrors.New(bridgeerrors.KindProtocol, "object query response has no result.status").
			WithDetail(string(resp.Body))
	}

	s := q.Result.Status
	st := &adapter.ObjectQueryStatus{}
	if s.PrintStats != nil {
		st.State = s.PrintStats.State
		st.FileName = s.PrintStats.Filename
		st.PrintDuration = s.PrintStats.PrintDuration.Value
	}
	if s.DisplayStatus != nil {
		st.Progress = s.DisplayStatus.Progress.Value
	}
	if s.Extruder != nil {
		st.ExtruderTemp = s.Extruder.Temperature.Value
		st.ExtruderTarget = s.Extruder.Target.Value
	}
	if s.HeaterBed != nil {
		st.BedTemp = s.HeaterBed.Temperature.Value
		st.BedTarget = s.HeaterBed.Target.Value
	}
	return st, nil
}

// StartPrint starts a file already stored in the gcodes root.
func (a *Adapter) StartPrint(ctx context.Context, fileName string) (*adapter.CommandResult, error) {
	resp, err := a.http.PostJSON(ctx, "/printer/print/start?filename="+url.QueryEscape(fileName), nil)
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, "Print started: "+fileName)
}

// StopPrint cancels the running job.
func (a *Adapter) StopPrint(ctx context.Context) (*adapter.CommandResult, error) {
	resp, err := a.http.PostJSON(ctx, "/printer/print/cancel", nil)
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, "Print cancelled")
}

// UploadFile stores a file in the gcodes root. Binary G-code is not accepted by Klipper.
func (a *Adapter) UploadFile(ctx context.Context, localPath, remoteName string, printAfter bool) (*adapter.CommandResult, error) {
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	if strings.EqualFold(filepath.Ext(remoteName), ".bgcode") {
		return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol,
			"binary G-code (%s) is not supported by Moonraker, upload plain .gcode", remoteName)
	}

	resp, err := a.http.PostMultipart(ctx, "/server/files/upload", "file", localPath, remoteName, map[string]string{
		"root":  "gcodes",
		"print": strconv.FormatBool(printAfter),
	})
	if err != nil {
		return nil, err
	}

	res, err := a.http.Ack(resp, "File uploaded: "+remoteName)
	if err != nil || !printAfter {
		return res, err
	}

	started, queued := uploadPrintFlags(resp.Body)
	switch {
	case started == nil:
		res.Message = "File uploaded, print requested: " + remoteName
	case *started:
		res.Message = "File uploaded and print started: " + remoteName
	case queued != nil && *queued:
		res.Message = "File uploaded and print queued: " + remoteName
	default:
		return adapter.Failed("File uploaded but the printer did not start it: "+remoteName, res.Data), nil
	}
	return res, nil
}

// uploadPrintFlags reads print_started/print_queued from an upload answer, wrapped in "result" or not.
func uploadPrintFlags(body []byte) (started, queued *bool) {
	type flags struct {
		PrintStarted *bool `json:"print_started"`
		PrintQueued  *bool `json:"print_queued"`
	}
	var doc struct {
		flags
		Result *flags `json:"result"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return nil, nil
	}
	if doc.Result != nil && doc.Result.PrintStarted != nil {
		return doc.Result.PrintStarted, doc.Result.PrintQueued
	}
	return doc.PrintStarted, doc.PrintQueued
}

// SendRawCommand runs a G-code script.
func (a *Adapter) SendRawCommand(ctx context.Context, command string) (*adapter.CommandResult, error) {
	script := strings.TrimSpace(command)
	if script == "" {
		return nil, bridgeerrors.New(bridgeerrors.KindConfiguration, "empty G-code command")
	}

	resp, err := a.http.PostJSON(ctx, "/printer/gcode/script?script="+url.QueryEscape(script), nil)
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, "G-code executed")
}
