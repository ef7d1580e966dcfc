package invoker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"object", `{"success":true}`, false},
		{"surrounding whitespace", "\n  {\"success\":true}\n\n", false},
		{"array", `[1,2,3]`, false},
		{"empty", "", true},
		{"only whitespace", " \n\t", true},
		{"plain text", "Traceback (most recent call last):", true},
		{"two documents", `{"a":1}{"b":2}`, true},
		{"document then text", `{"a":1} done`, true},
		{"truncated", `{"a":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parseDocument([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, doc)
				return
			}
			assert.NoError(t, err)
			assert.NotEmpty(t, doc)
		})
	}
}

func TestPayloadMessage(t *testing.T) {
	assert.Equal(t, "auth failed", payloadMessage([]byte(`{"success":false,"message":"auth failed"}`)))
	assert.Equal(t, "boom", payloadMessage([]byte(`{"error":"boom"}`)))
	assert.Equal(t, "", payloadMessage([]byte(`[1]`)))
}

func TestInvoke_NoInterpreter(t *testing.T) {
	inv := New(Config{TempDir: t.TempDir()}, nil)

	_, err := inv.Invoke(context.Background(), Request{Operation: "status", Script: []byte("x")})
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindConfiguration))
}

func TestInvoke_ExpiredContext(t *testing.T) {
	dir := t.TempDir()
	inv := New(Config{Interpreter: "sh", TempDir: dir}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inv.Invoke(ctx, Request{Operation: "status", Script: []byte("echo '{}'")})
	require.Error(t, err)
	assert.True(t, bridgeerrors.Is(err, bridgeerrors.KindTimeout))
	assert.Equal(t, 0, inv.ActiveCount())
}
