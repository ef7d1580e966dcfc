// Package adapter defines the capability set every printer protocol implements and the
// raw status shapes handed to the normalizer.
package adapter

import (
	"context"
	"encoding/json"

	"github.com/adcondev/printer-bridge/internal/printer"
)

// Adapter is the common capability set of a printer protocol.
// TestConnection must never change device state.
type Adapter interface {
	TestConnection(ctx context.Context) (*CommandResult, error)
	GetStatus(ctx context.Context) (RawStatus, error)
	StartPrint(ctx context.Context, fileName string) (*CommandResult, error)
	StopPrint(ctx context.Context) (*CommandResult, error)
	UploadFile(ctx context.Context, localPath, remoteName string, printAfter bool) (*CommandResult, error)
	SendRawCommand(ctx context.Context, command string) (*CommandResult, error)
}

// CommandResult is the device acknowledgement of a command.
// A nil Success means the device answered but did not say whether it complied.
type CommandResult struct {
	Success *bool           `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Succeeded builds a positive acknowledgement.
func Succeeded(message string, data json.RawMessage) *CommandResult {
	ok := true
	return &CommandResult{Success: &ok, Message: message, Data: data}
}

// Failed builds a negative acknowledgement.
func Failed(message string, data json.RawMessage) *CommandResult {
	ok := false
	return &CommandResult{Success: &ok, Message: message, Data: data}
}

// RawStatus is a device status in its protocol's own shape.
// Implemented by *FirmwareStatus, *ObjectQueryStatus and *VendorStatus.
type RawStatus interface {
	Protocol() printer.Type
}

// FirmwareStatus is a PrusaLink status as extracted from whichever endpoint answered.
// Completion is already a percentage.
type FirmwareStatus struct {
	Endpoint      string
	State         string
	Completion    *float64
	PrintTime     *float64
	PrintTimeLeft *float64
	BedActual     *float64
	BedTarget     *float64
	ToolActual    *float64
	ToolTarget    *float64
	FileName      string
}

// Protocol implements RawStatus.
func (*FirmwareStatus) Protocol() printer.Type { return printer.TypePrusaLink }

// ObjectQueryStatus is a Moonraker object-query answer.
// Progress is a ratio in [0,1]; remaining time is never reported.
type ObjectQueryStatus struct {
	State          string
	Progress       *float64
	PrintDuration  *float64
	FileName       string
	ExtruderTemp   *float64
	ExtruderTarget *float64
	BedTemp        *float64
	BedTarget      *float64
}

// Protocol implements RawStatus.
func (*ObjectQueryStatus) Protocol() printer.Type { return printer.TypeMoonraker }

// VendorStatus is the status data returned by the Bambu worker.
// RemainingMinutes is in minutes as the vendor SDK reports it.
type VendorStatus struct {
	State            string
	Percent          *float64
	RemainingMinutes *float64
	ElapsedSeconds   *float64
	BedTemp          *float64
	BedTarget        *float64
	NozzleTemp       *float64
	NozzleTarget     *float64
	FileName         string
}

// Protocol implements RawStatus.
func (*VendorStatus) Protocol() printer.Type { return printer.TypeBambu }
