// Package normalize turns protocol specific status shapes into the canonical printer.Status.
// It is the only place that understands all three shapes.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/adcondev/printer-bridge/internal/adapter"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/printer"
)

// Status normalizes a raw adapter status. now becomes LastUpdated.
func Status(raw adapter.RawStatus, now time.Time) (*printer.Status, error) {
	var st *printer.Status

	switch r := raw.(type) {
	case *adapter.FirmwareStatus:
		if r != nil {
			st = firmware(r)
		}
	case *adapter.ObjectQueryStatus:
		if r != nil {
			st = objectQuery(r)
		}
	case *adapter.VendorStatus:
		if r != nil {
			st = vendor(r)
		}
	}
	if st == nil {
		return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol, "unsupported raw status %T", raw)
	}

	st.LastUpdated = now
	return st, nil
}

// PrusaLink states, upper-cased. Legacy endpoints report mixed case ("Printing", "Operational").
var firmwareStates = map[string]printer.OperationalStatus{
	"IDLE":        printer.StatusIdle,
	"READY":       printer.StatusIdle,
	"FINISHED":    printer.StatusIdle,
	"STOPPED":     printer.StatusIdle,
	"OPERATIONAL": printer.StatusIdle,
	"BUSY":        printer.StatusPrinting,
	"PRINTING":    printer.StatusPrinting,
	"PAUSED":      printer.StatusPaused,
	"PAUSING":     printer.StatusPaused,
	"ATTENTION":   printer.StatusError,
	"ERROR":       printer.StatusError,
	"OFFLINE":     printer.StatusOffline,
}

func firmware(r *adapter.FirmwareStatus) *printer.Status {
	progress := Progress(r.Completion)

	st := &printer.Status{
		ProgressPercent: progress,
		ElapsedSeconds:  Seconds(r.PrintTime),
		BedTemperature:  Temperature(r.BedActual),
		BedTarget:       Temperature(r.BedTarget),
		ToolTemperature: Temperature(r.ToolActual),
		ToolTarget:      Temperature(r.ToolTarget),
		CurrentFile:     r.FileName,
	}

	if strings.TrimSpace(r.State) == "" {
		// /api/job without a state: a job in progress is printing, anything else idle
		st.OperationalStatus = printer.StatusIdle
		if progress != nil && *progress > 0 && *progress < 100 {
			st.OperationalStatus = printer.StatusPrinting
		}
	} else {
		st.OperationalStatus = mapState(firmwareStates, r.State)
	}

	st.RemainingSeconds = Remaining(Seconds(r.PrintTimeLeft), st.ElapsedSeconds, progress)
	return st
}

var objectQueryStates = map[string]printer.OperationalStatus{
	"STANDBY":   printer.StatusIdle,
	"COMPLETE":  printer.StatusIdle,
	"CANCELLED": printer.StatusIdle,
	"PRINTING":  printer.StatusPrinting,
	"PAUSED":    printer.StatusPaused,
	"ERROR":     printer.StatusError,
}

func objectQuery(r *adapter.ObjectQueryStatus) *printer.Status {
	var progress *float64
	if r.Progress != nil {
		progress = Progress(ptr(*r.Progress * 100))
	}

	st := &printer.Status{
		OperationalStatus: mapState(objectQueryStates, r.State),
		ProgressPercent:   progress,
		ElapsedSeconds:    Seconds(r.PrintDuration),
		BedTemperature:    Temperature(r.BedTemp),
		BedTarget:         Temperature(r.BedTarget),
		ToolTemperature:   Temperature(r.ExtruderTemp),
		ToolTarget:        Temperature(r.ExtruderTarget),
		CurrentFile:       r.FileName,
	}
	st.RemainingSeconds = Remaining(nil, st.ElapsedSeconds, progress)
	return st
}

// Bambu gcode_state values
var vendorStates = map[string]printer.OperationalStatus{
	"IDLE":    printer.StatusIdle,
	"FINISH":  printer.StatusIdle,
	"RUNNING": printer.StatusPrinting,
	"PREPARE": printer.StatusPrinting,
	"SLICING": printer.StatusPrinting,
	"PAUSE":   printer.StatusPaused,
	"FAILED":  printer.StatusError,
}

func vendor(r *adapter.VendorStatus) *printer.Status {
	progress := Progress(r.Percent)

	var reported *float64
	if r.RemainingMinutes != nil {
		reported = ptr(*r.RemainingMinutes * 60)
	}

	st := &printer.Status{
		OperationalStatus: mapState(vendorStates, r.State),
		ProgressPercent:   progress,
		ElapsedSeconds:    Seconds(r.ElapsedSeconds),
		BedTemperature:    Temperature(r.BedTemp),
		BedTarget:         Temperature(r.BedTarget),
		ToolTemperature:   Temperature(r.NozzleTemp),
		ToolTarget:        Temperature(r.NozzleTarget),
		CurrentFile:       r.FileName,
	}
	st.RemainingSeconds = Remaining(Seconds(reported), st.ElapsedSeconds, progress)
	return st
}

// mapState looks up a device state. Unknown states are errors, never idle.
func mapState(table map[string]printer.OperationalStatus, state string) printer.OperationalStatus {
	if s, ok := table[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return s
	}
	return printer.StatusError
}

// Progress rounds a percentage to two decimals and clamps it to [0,100].
// NaN and infinities are unknown.
func Progress(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	v := math.Round(*p*100) / 100
	v = math.Max(0, math.Min(100, v))
	return &v
}

// Seconds converts a device duration to whole seconds. Negative or non-finite values are unknown.
func Seconds(s *float64) *int64 {
	if s == nil || math.IsNaN(*s) || math.IsInf(*s, 0) || *s < 0 {
		return nil
	}
	v := int64(math.Round(*s))
	return &v
}

// Temperature drops non-finite readings.
func Temperature(t *float64) *float64 {
	if t == nil || math.IsNaN(*t) || math.IsInf(*t, 0) {
		return nil
	}
	v := *t
	return &v
}

// Remaining picks the remaining time: the device value when present, otherwise
// elapsed/ratio − elapsed. Absent whenever progress is unknown, 0 or 100.
func Remaining(reported, elapsed *int64, progress *float64) *int64 {
	if progress == nil || *progress <= 0 || *progress >= 100 {
		return nil
	}
	if reported != nil {
		if *reported < 0 {
			return nil
		}
		v := *reported
		return &v
	}
	if elapsed == nil {
		return nil
	}

	ratio := *progress / 100
	est := math.Round(float64(*elapsed)/ratio - float64(*elapsed))
	if est < 0 || math.IsNaN(est) || math.IsInf(est, 0) {
		return nil
	}
	v := int64(est)
	return &v
}

func ptr(f float64) *float64 { return &f }

// Describe renders a status for logs.
func Describe(st *printer.Status) string {
	if st == nil {
		return "<nil>"
	}
	out := string(st.OperationalStatus)
	if st.ProgressPercent != nil {
		out += fmt.Sprintf(" %.2f%%", *st.ProgressPercent)
	}
	if st.RemainingSeconds != nil {
		out += fmt.Sprintf(" (%ds left)", *st.RemainingSeconds)
	}
	return out
}
