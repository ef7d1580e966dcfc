package prusalink

import (
	"encoding/json"
	"errors"

	"github.com/adcondev/printer-bridge/internal/adapter"
)

var errNoKnownFields = errors.New("response has none of the expected fields")

type statusProbe struct {
	path    string
	extract func(body []byte) (*adapter.FirmwareStatus, error)
}

// Probe order matters: the first endpoint answering 200 with its own shape wins.
var statusProbes = []statusProbe{
	{path: "/api/v1/status", extract: extractV1Status},
	{path: "/api/job", extract: extractJob},
	{path: "/api/printer", extract: extractPrinter},
}

// /api/v1/status
type v1Status struct {
	Job *struct {
		Progress      adapter.Number `json:"progress"`
		TimeRemaining adapter.Number `json:"time_remaining"`
		TimePrinting  adapter.Number `json:"time_printing"`
	} `json:"job"`
	Printer *struct {
		State        adapter.Text   `json:"state"`
		TempBed      adapter.Number `json:"temp_bed"`
		TargetBed    adapter.Number `json:"target_bed"`
		TempNozzle   adapter.Number `json:"temp_nozzle"`
		TargetNozzle adapter.Number `json:"target_nozzle"`
	} `json:"printer"`
}

func extractV1Status(body []byte) (*adapter.FirmwareStatus, error) {
	var v v1Status
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if v.Job == nil && v.Printer == nil {
		return nil, errNoKnownFields
	}

	st := &adapter.FirmwareStatus{}
	if v.Job != nil {
		st.Completion = v.Job.Progress.Value
		st.PrintTime = v.Job.TimePrinting.Value
		st.PrintTimeLeft = v.Job.TimeRemaining.Value
	}
	if v.Printer != nil {
		st.State = string(v.Printer.State)
		st.BedActual = v.Printer.TempBed.Value
		st.BedTarget = v.Printer.TargetBed.Value
		st.ToolActual = v.Printer.TempNozzle.Value
		st.ToolTarget = v.Printer.TargetNozzle.Value
	}
	return st, nil
}

// /api/job
type jobStatus struct {
	State adapter.Text `json:"state"`
	Job   *struct {
		File *struct {
			Name    string `json:"name"`
			Display string `json:"display"`
		} `json:"file"`
	} `json:"job"`
	Progress *struct {
		Completion    adapter.Number `json:"completion"`
		PrintTime     adapter.Number `json:"printTime"`
		PrintTimeLeft adapter.Number `json:"printTimeLeft"`
	} `json:"progress"`
}

func extractJob(body []byte) (*adapter.FirmwareStatus, error) {
	var v jobStatus
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if v.Progress == nil && v.Job == nil && v.State == "" {
		return nil, errNoKnownFields
	}

	st := &adapter.FirmwareStatus{State: string(v.State)}
	if v.Progress != nil {
		st.Completion = v.Progress.Completion.Value
		st.PrintTime = v.Progress.PrintTime.Value
		st.PrintTimeLeft = v.Progress.PrintTimeLeft.Value
	}
	if v.Job != nil && v.Job.File != nil {
		st.FileName = v.Job.File.Display
		if st.FileName == "" {
			st.FileName = v.Job.File.Name
		}
	}
	return st, nil
}

// /api/printer
type temperature struct {
	Actual adapter.Number `json:"actual"`
	Target adapter.Number `json:"target"`
}

type printerStatus struct {
	State       adapter.Text `json:"state"`
	Temperature *struct {
		Bed   *temperature `json:"bed"`
		Tool0 *temperature `json:"tool0"`
	} `json:"temperature"`
}

func extractPrinter(body []byte) (*adapter.FirmwareStatus, error) {
	var v printerStatus
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if v.Temperature == nil && v.State == "" {
		return nil, errNoKnownFields
	}

	st := &adapter.FirmwareStatus{State: string(v.State)}
	if v.Temperature != nil {
		if v.Temperature.Bed != nil {
			st.BedActual = v.Temperature.Bed.Actual.Value
			st.BedTarget = v.Temperature.Bed.Target.Value
		}
		if v.Temperature.Tool0 != nil {
			st.ToolActual = v.Temperature.Tool0.Actual.Value
			st.ToolTarget = v.Temperature.Tool0.Target.Value
		}
	}
	return st, nil
}
