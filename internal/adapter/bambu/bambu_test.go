package bambu

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/printer-bridge/internal/adapter"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/invoker"
	"github.com/adcondev/printer-bridge/internal/printer"
)

type fakeRunner struct {
	requests []invoker.Request
	payload  string
	err      error
}

func (f *fakeRunner) Invoke(_ context.Context, req invoker.Request) (*invoker.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &invoker.Result{Payload: json.RawMessage(f.payload)}, nil
}

var x1c = printer.Record{
	ID:           "x1c-1",
	Name:         "X1C",
	Type:         printer.TypeBambu,
	APIURL:       "http://192.168.1.77",
	APIKey:       "12345678",
	SerialNumber: "01S00A000000000",
}

func TestNew_RequiresCredentials(t *testing.T) {
	runner := &fakeRunner{}

	noSerial := x1c
	noSerial.SerialNumber = ""
	_, err := New(noSerial, runner, Config{}, nil)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindConfiguration))

	noCode := x1c
	noCode.APIKey = " "
	_, err = New(noCode, runner, Config{}, nil)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindConfiguration))

	assert.Empty(t, runner.requests)
}

func TestArguments(t *testing.T) {
	runner := &fakeRunner{payload: `{"success":true,"message":"ok"}`}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.TestConnection(ctx)
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "plate.3mf")
	require.NoError(t, os.WriteFile(local, []byte("3mf"), 0o600))
	_, err = a.UploadFile(ctx, local, "", true)
	require.NoError(t, err)
	_, err = a.SendRawCommand(ctx, "M104 S0")
	require.NoError(t, err)

	require.Len(t, runner.requests, 3)
	assert.Equal(t, []string{"connect", "192.168.1.77", "12345678", "01S00A000000000"}, runner.requests[0].Args)
	assert.Equal(t, []string{"upload", "192.168.1.77", "12345678", "01S00A000000000", local, "plate.3mf", "1"}, runner.requests[1].Args)
	assert.Equal(t, "gcode", runner.requests[2].Args[0])
	assert.Equal(t, "M104 S0", runner.requests[2].Args[4])

	for _, req := range runner.requests {
		assert.Equal(t, DefaultScript(), req.Script)
		assert.Equal(t, ".py", req.ScriptExt)
	}
}

func TestGetStatus(t *testing.T) {
	runner := &fakeRunner{payload: `{"success":true,"message":"Status retrieved","data":{
		"state":"RUNNING","percent":45,"remaining_minutes":25,"bed_temp":55.0,"bed_target":55,
		"nozzle_temp":220.5,"nozzle_target":220,"file":"plate_1.gcode"}}`}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)

	raw, err := a.GetStatus(context.Background())
	require.NoError(t, err)

	st, ok := raw.(*adapter.VendorStatus)
	require.True(t, ok, "got %T", raw)
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, 45.0, *st.Percent)
	assert.Equal(t, 25.0, *st.RemainingMinutes)
	assert.Nil(t, st.ElapsedSeconds)
	assert.Equal(t, 220.5, *st.NozzleTemp)
	assert.Equal(t, "plate_1.gcode", st.FileName)
}

func TestGetStatus_NoData(t *testing.T) {
	a, err := New(x1c, &fakeRunner{payload: `{"success":true,"message":"ok"}`}, Config{}, nil)
	require.NoError(t, err)

	_, err = a.GetStatus(context.Background())
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindProtocol))
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bridgeerrors.Kind
	}{
		{"explicit kind wins", `{"success":false,"message":"something odd","error_kind":"connection"}`, bridgeerrors.KindConnection},
		{"auth message", `{"success":false,"message":"auth failed"}`, bridgeerrors.KindAuth},
		{"unknown message", `{"success":false,"message":"KeyError: 'print'"}`, bridgeerrors.KindProcess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exitErr := &invoker.ExitError{ExitCode: 1, Payload: json.RawMessage(tt.payload)}
			runner := &fakeRunner{err: bridgeerrors.Wrap(bridgeerrors.KindProcess, exitErr, "worker failed")}
			a, err := New(x1c, runner, Config{}, nil)
			require.NoError(t, err)

			_, err = a.StopPrint(context.Background())
			require.Error(t, err)
			kind, ok := bridgeerrors.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestFailureWithExitZero(t *testing.T) {
	runner := &fakeRunner{payload: `{"success":false,"message":"Invalid access code"}`}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)

	_, err = a.StartPrint(context.Background(), "plate_1.gcode")
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindAuth))
}

func TestPassesThroughInvokerErrors(t *testing.T) {
	runner := &fakeRunner{err: bridgeerrors.New(bridgeerrors.KindTimeout, "worker status killed after 2s")}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)

	_, err = a.GetStatus(context.Background())
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindTimeout))
}

func TestAmbiguousAckIsReturnedAsIs(t *testing.T) {
	a, err := New(x1c, &fakeRunner{payload: `{"message":"sent"}`}, Config{}, nil)
	require.NoError(t, err)

	res, err := a.StopPrint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Success)
}

func TestUploadFile_MissingLocalFile(t *testing.T) {
	runner := &fakeRunner{payload: `{"success":true,"message":"File uploaded"}`}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)

	_, err = a.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.3mf"), "", false)
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindConfiguration), "got %v", err)

	_, err = a.UploadFile(context.Background(), t.TempDir(), "", false)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindConfiguration), "got %v", err)

	assert.Empty(t, runner.requests, "worker spawned for an unreadable file")
}

func TestTestConnection_Idempotent(t *testing.T) {
	status := `{"success":true,"message":"Status retrieved","data":{"state":"IDLE","percent":0,"bed_temp":24.5}}`
	runner := &fakeRunner{payload: status}
	a, err := New(x1c, runner, Config{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	before, err := a.GetStatus(ctx)
	require.NoError(t, err)

	runner.payload = `{"success":true,"message":"Connected"}`
	for i := 0; i < 2; i++ {
		res, err := a.TestConnection(ctx)
		require.NoError(t, err)
		require.NotNil(t, res.Success)
		assert.True(t, *res.Success)
	}

	runner.payload = status
	after, err := a.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Len(t, runner.requests, 4)
	assert.Equal(t, OpStatus, runner.requests[0].Args[0])
	assert.Equal(t, OpConnect, runner.requests[1].Args[0])
	assert.Equal(t, OpConnect, runner.requests[2].Args[0])
	assert.Len(t, runner.requests[1].Args, 4, "connect carries no extra arguments")
	assert.Equal(t, OpStatus, runner.requests[3].Args[0])
}
