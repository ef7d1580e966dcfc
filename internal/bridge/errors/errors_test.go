package bridgeerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		prefix string
	}{
		// Taxonomy
		{
			name:   "Timeout reads as unreachable",
			input:  New(KindTimeout, "status poll exceeded 2s"),
			prefix: "UNREACHABLE:",
		},
		{
			name:   "Connection reads as unreachable",
			input:  New(KindConnection, "dial tcp 10.0.0.5:80: connection refused"),
			prefix: "UNREACHABLE:",
		},
		{
			name:   "Protocol reads as device fault",
			input:  New(KindProtocol, "missing result.status"),
			prefix: "DEVICE:",
		},
		{
			name:   "Auth",
			input:  New(KindAuth, "HTTP 401"),
			prefix: "AUTH:",
		},
		{
			name:   "Process",
			input:  New(KindProcess, "exit status 2"),
			prefix: "WORKER:",
		},
		{
			name:   "Configuration",
			input:  New(KindConfiguration, "unknown printer type"),
			prefix: "CONFIG:",
		},
		{
			name:   "Wrapped bridge error keeps its kind",
			input:  fmt.Errorf("job 42: %w", New(KindAuth, "bad key")),
			prefix: "AUTH:",
		},

		// Pattern mappings
		{
			name:   "Printer not found",
			input:  errors.New("printer not found: p-9"),
			prefix: "CONFIG: Unknown printer id",
		},
		{
			name:   "Panic",
			input:  errors.New("panic recovered in execute: boom"),
			prefix: "INTERNAL:",
		},

		// Fallback Logic
		{
			name:   "Fallback keeps innermost message",
			input:  errors.New("outer: inner failure"),
			prefix: "ERROR: inner failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserMessage(tt.input)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("UserMessage() = %q, want prefix %q", got, tt.prefix)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Wrap(KindProcess, errors.New("exit status 1"), "worker failed"))

	kind, ok := KindOf(err)
	if !ok || kind != KindProcess {
		t.Fatalf("KindOf() = %q, %v; want %q, true", kind, ok, KindProcess)
	}
	if !Is(err, KindProcess) {
		t.Errorf("Is(err, KindProcess) = false")
	}
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Errorf("KindOf(plain error) reported a kind")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindProtocol},
		{http.StatusInternalServerError, KindProtocol},
		{http.StatusConflict, KindProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			got := FromHTTPStatus(tt.code, []byte("body"), "printer")
			if got.Kind != tt.want {
				t.Errorf("FromHTTPStatus(%d).Kind = %q, want %q", tt.code, got.Kind, tt.want)
			}
			if got.RawDetail != "body" {
				t.Errorf("RawDetail = %q, want %q", got.RawDetail, "body")
			}
		})
	}
}

func TestFromTransport(t *testing.T) {
	if got := FromTransport(context.Background(), context.DeadlineExceeded, "x"); got.Kind != KindTimeout {
		t.Errorf("deadline exceeded classified as %q", got.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := FromTransport(ctx, errors.New("read: use of closed connection"), "x"); got.Kind != KindTimeout {
		t.Errorf("error after cancelled context classified as %q", got.Kind)
	}

	if got := FromTransport(context.Background(), errors.New("connection refused"), "x"); got.Kind != KindConnection {
		t.Errorf("refused connection classified as %q", got.Kind)
	}
}

func TestClassifyWorkerMessage(t *testing.T) {
	tests := []struct {
		message string
		want    Kind
	}{
		{"auth failed", KindAuth},
		{"Invalid access code", KindAuth},
		{"MQTT connect failed: connection refused", KindConnection},
		{"upload not supported on this model", KindProtocol},
		{"Traceback (most recent call last)", KindProcess},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := ClassifyWorkerMessage(tt.message); got != tt.want {
				t.Errorf("ClassifyWorkerMessage(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestWithDetailTruncates(t *testing.T) {
	e := New(KindProtocol, "x").WithDetail(strings.Repeat("a", maxDetailLen+10))
	if !strings.HasSuffix(e.RawDetail, "...(truncated)") {
		t.Errorf("long detail not truncated")
	}
}

func TestWithDetailTruncatesOnRuneBoundary(t *testing.T) {
	// "ñ" is two bytes, so maxDetailLen falls inside a rune
	raw := "a" + strings.Repeat("ñ", maxDetailLen)
	e := New(KindProtocol, "x").WithDetail(raw)
	if !utf8.ValidString(e.RawDetail) {
		t.Errorf("truncated detail is not valid UTF-8")
	}
	if !strings.HasSuffix(e.RawDetail, "...(truncated)") {
		t.Errorf("long detail not truncated")
	}
}
