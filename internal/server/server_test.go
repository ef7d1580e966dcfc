package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/printer-bridge/internal/bridge"
	"github.com/adcondev/printer-bridge/internal/printer"
)

type mockFleet struct {
	polled atomic.Bool
}

func (m *mockFleet) GetPrinters(_ context.Context, force bool) ([]printer.DetailDTO, error) {
	if force {
		m.polled.Store(true)
	}
	return []printer.DetailDTO{{ID: "voron-1", Name: "Voron", Type: printer.TypeMoonraker}}, nil
}

func (m *mockFleet) GetSummary() printer.Summary {
	return printer.Summary{Status: "ok", Configured: 1}
}

func TestWebSocketOrigin(t *testing.T) {
	// 1. Test Restricted Origin (Default behavior / Explicit Allow)
	t.Run("Restricted Origin", func(t *testing.T) {
		cfg := Config{
			QueueSize:      10,
			AllowedOrigins: []string{"http://good.com"},
		}
		srv := NewServer(cfg, &mockFleet{})
		defer srv.Shutdown()

		ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
		defer ts.Close()

		u := "ws" + ts.URL[4:]

		// Case A: Connection from Allowed Origin
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		opts := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://good.com"},
			},
		}

		conn, resp, err := websocket.Dial(ctx, u, opts)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from good.com failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		// Case B: Connection from Disallowed Origin
		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://evil.com"},
			},
		}

		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from evil.com succeeded (should fail)")
		}
	})

	// 2. Test Same Origin Enforcement (When AllowedOrigins is empty/nil)
	t.Run("Same Origin Enforcement", func(t *testing.T) {
		cfg := Config{
			QueueSize:      10,
			AllowedOrigins: nil,
		}
		srv := NewServer(cfg, &mockFleet{})
		defer srv.Shutdown()

		ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
		defer ts.Close()

		u := "ws" + ts.URL[4:]

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, resp, err := websocket.Dial(ctx, u, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			t.Fatalf("Connection from same origin failed: %v", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")

		optsBad := &websocket.DialOptions{
			HTTPHeader: http.Header{
				"Origin": []string{"http://external-site.com"},
			},
		}
		_, respBad, err := websocket.Dial(ctx, u, optsBad)
		if respBad != nil && respBad.Body != nil {
			_ = respBad.Body.Close()
		}
		if err == nil {
			t.Fatalf("Connection from external-site.com succeeded (should fail)")
		}
	})
}

func TestOriginPatterns(t *testing.T) {
	got := originPatterns([]string{"http://localhost:*", " https://farm.example.com/ ", "", "*"})
	assert.Equal(t, []string{"localhost:*", "farm.example.com", "*"}, got)
	assert.Empty(t, originPatterns(nil))
}

// dialTest connects to srv and consumes the welcome message.
func dialTest(t *testing.T, srv *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	t.Cleanup(srv.Shutdown)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn := dialURL(t, ctx, ts.URL)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

// dialURL opens one more connection to a running test server.
func dialURL(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.Dial(ctx, "ws"+url[4:], nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)

	var welcome Response
	require.NoError(t, wsjson.Read(ctx, conn, &welcome))
	require.Equal(t, "info", welcome.Tipo)
	return conn
}

// exchange sends one message and returns the raw JSON answer.
func exchange(t *testing.T, ctx context.Context, conn *websocket.Conn, msg any) map[string]any {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
	var out map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &out))
	return out
}

func executeMsg(id, printerID, op string) map[string]any {
	return map[string]any{
		"tipo": "execute",
		"id":   id,
		"datos": map[string]any{
			"printer_id": printerID,
			"operation":  op,
			"params":     map[string]any{"fileName": "cube.gcode"},
		},
	}
}

func TestExecute_Enqueues(t *testing.T) {
	srv := NewServer(Config{QueueSize: 5}, &mockFleet{})
	conn, ctx := dialTest(t, srv)

	ack := exchange(t, ctx, conn, executeMsg("job-1", "voron-1", "startPrint"))
	assert.Equal(t, "ack", ack["tipo"])
	assert.Equal(t, "queued", ack["status"])
	assert.Equal(t, "job-1", ack["id"])

	select {
	case job := <-srv.JobQueue():
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "voron-1", job.PrinterID)
		assert.Equal(t, bridge.OpStartPrint, job.Operation)
		assert.Equal(t, "cube.gcode", job.Params.FileName)
		assert.NotNil(t, job.ClientConn)
	default:
		t.Fatal("job was not queued")
	}
}

func TestExecute_Rejections(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{"missing datos", map[string]any{"tipo": "execute", "id": "a"}},
		{"missing printer", executeMsg("b", "", "getStatus")},
		{"unknown operation", executeMsg("c", "voron-1", "pausePrint")},
		{"unknown type", map[string]any{"tipo": "ticket", "id": "d"}},
	}

	srv := NewServer(Config{QueueSize: 5}, &mockFleet{})
	conn, ctx := dialTest(t, srv)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := exchange(t, ctx, conn, tt.msg)
			assert.Equal(t, "error", out["tipo"])
			assert.Equal(t, "error", out["status"])
		})
	}

	current, _ := srv.QueueStatus()
	assert.Zero(t, current)
}

func TestExecute_QueueFull(t *testing.T) {
	srv := NewServer(Config{QueueSize: 1}, &mockFleet{})
	conn, ctx := dialTest(t, srv)

	first := exchange(t, ctx, conn, executeMsg("1", "voron-1", "getStatus"))
	assert.Equal(t, "ack", first["tipo"])

	second := exchange(t, ctx, conn, executeMsg("2", "voron-1", "getStatus"))
	assert.Equal(t, "error", second["tipo"])
	assert.Contains(t, second["mensaje"], "Queue full")
}

func TestExecute_RateLimited(t *testing.T) {
	srv := NewServer(Config{QueueSize: 10, JobsPerMinute: 1}, &mockFleet{})
	conn, ctx := dialTest(t, srv)

	first := exchange(t, ctx, conn, executeMsg("1", "voron-1", "startPrint"))
	assert.Equal(t, "ack", first["tipo"])

	second := exchange(t, ctx, conn, executeMsg("2", "voron-1", "startPrint"))
	assert.Equal(t, "error", second["tipo"])
	assert.Contains(t, second["mensaje"], "Rate limit")

	// other printers and read-only operations keep their own budget
	other := exchange(t, ctx, conn, executeMsg("3", "mk4-1", "startPrint"))
	assert.Equal(t, "ack", other["tipo"])
	for _, op := range []string{"getStatus", "testConnection", "stopPrint"} {
		out := exchange(t, ctx, conn, executeMsg("ro-"+op, "voron-1", op))
		assert.Equal(t, "ack", out["tipo"], op)
	}
}

func TestExecute_RateLimitSurvivesReconnect(t *testing.T) {
	srv := NewServer(Config{QueueSize: 10, JobsPerMinute: 1}, &mockFleet{})
	t.Cleanup(srv.Shutdown)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := dialURL(t, ctx, ts.URL)
	out := exchange(t, ctx, first, executeMsg("1", "voron-1", "uploadFile"))
	assert.Equal(t, "ack", out["tipo"])
	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.limiter.Len(), "recent attempts are kept across reconnects")

	second := dialURL(t, ctx, ts.URL)
	defer func() { _ = second.Close(websocket.StatusNormalClosure, "") }()

	out = exchange(t, ctx, second, executeMsg("2", "voron-1", "uploadFile"))
	assert.Equal(t, "error", out["tipo"])
	assert.Contains(t, out["mensaje"], "Rate limit")
}

func TestExecute_DisconnectPrunesLimiter(t *testing.T) {
	srv := NewServer(Config{QueueSize: 10}, &mockFleet{})
	t.Cleanup(srv.Shutdown)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialURL(t, ctx, ts.URL)
	out := exchange(t, ctx, conn, executeMsg("1", "voron-1", "sendRawCommand"))
	assert.Equal(t, "ack", out["tipo"])
	require.Equal(t, 1, srv.limiter.Len())

	srv.limiter.mu.Lock()
	srv.limiter.now = func() time.Time { return time.Now().Add(2 * rateWindow) }
	srv.limiter.mu.Unlock()

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return srv.limiter.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFleetMessages(t *testing.T) {
	fleet := &mockFleet{}
	srv := NewServer(Config{}, fleet)
	conn, ctx := dialTest(t, srv)

	out := exchange(t, ctx, conn, map[string]any{"tipo": "get_printers", "id": "p"})
	assert.Equal(t, "printers", out["tipo"])
	assert.False(t, fleet.polled.Load())

	raw, err := json.Marshal(out["datos"])
	require.NoError(t, err)
	var payload printersPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Len(t, payload.Printers, 1)
	assert.Equal(t, "voron-1", payload.Printers[0].ID)
	assert.Equal(t, 1, payload.Summary.Configured)

	out = exchange(t, ctx, conn, map[string]any{"tipo": "fleet_status"})
	assert.Equal(t, "printers", out["tipo"])
	assert.True(t, fleet.polled.Load())
}

func TestStatusAndPing(t *testing.T) {
	srv := NewServer(Config{QueueSize: 7}, nil)
	conn, ctx := dialTest(t, srv)

	out := exchange(t, ctx, conn, map[string]any{"tipo": "status"})
	assert.Equal(t, "status", out["tipo"])
	assert.Equal(t, "Queue: 0/7", out["mensaje"])
	assert.EqualValues(t, 7, out["capacity"])

	out = exchange(t, ctx, conn, map[string]any{"tipo": "ping", "id": "x"})
	assert.Equal(t, "pong", out["tipo"])
	assert.Equal(t, "x", out["id"])

	out = exchange(t, ctx, conn, map[string]any{"tipo": "get_printers"})
	assert.Equal(t, "error", out["tipo"])
}

func TestJobRateLimiter(t *testing.T) {
	rl := NewJobRateLimiter(2)
	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpStartPrint))
	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpUploadFile))
	assert.False(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpSendRawCommand))
	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpGetStatus))
	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpStopPrint))
	assert.True(t, rl.Allow("10.0.0.5", "mk4-1", bridge.OpStartPrint))
	assert.True(t, rl.Allow("10.0.0.6", "voron-1", bridge.OpStartPrint))
	assert.Equal(t, 3, rl.Len())
}

func TestJobRateLimiter_Prune(t *testing.T) {
	now := time.Now()
	rl := NewJobRateLimiter(1)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpStartPrint))
	assert.False(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpStartPrint))

	rl.Prune()
	assert.Equal(t, 1, rl.Len(), "recent entry pruned")

	now = now.Add(rateWindow + time.Second)
	rl.Prune()
	assert.Zero(t, rl.Len())
	assert.True(t, rl.Allow("10.0.0.5", "voron-1", bridge.OpStartPrint))
}

func TestClientHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1", clientHost("127.0.0.1:52344"))
	assert.Equal(t, "::1", clientHost("[::1]:8080"))
	assert.Equal(t, "pipe", clientHost("pipe"))
}
