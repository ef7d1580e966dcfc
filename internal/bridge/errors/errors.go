// Package bridgeerrors defines the error taxonomy shared by every bridge layer.
package bridgeerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Kind classifies a bridge failure so callers can react uniformly.
type Kind string

// Error kinds
const (
	KindConnection    Kind = "ConnectionError"
	KindAuth          Kind = "AuthError"
	KindProtocol      Kind = "ProtocolError"
	KindProcess       Kind = "ProcessError"
	KindTimeout       Kind = "Timeout"
	KindConfiguration Kind = "ConfigurationError"
)

// Error is the only error type returned across the bridge boundary.
// It is built by the layer that first detects the fault and is never re-classified upward.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	RawDetail string `json:"rawDetail,omitempty"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches raw device or process output.
func (e *Error) WithDetail(raw string) *Error {
	e.RawDetail = truncate(raw, maxDetailLen)
	return e
}

const maxDetailLen = 4096

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a bridge error anywhere in the chain.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// FromTransport classifies an HTTP transport failure.
// Context expiry is a Timeout; everything else means the device was not reached.
func FromTransport(ctx context.Context, err error, target string) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(ctx != nil && ctx.Err() != nil) {
		return Wrap(KindTimeout, err, "request to "+target+" did not complete before the deadline")
	}
	return Wrap(KindConnection, err, "cannot reach "+target)
}

// FromHTTPStatus classifies a non-success HTTP answer from a reachable device.
func FromHTTPStatus(code int, body []byte, target string) *Error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return Newf(KindAuth, "credentials rejected by %s (HTTP %d)", target, code).WithDetail(string(body))
	default:
		return Newf(KindProtocol, "unexpected HTTP %d from %s", code, target).WithDetail(string(body))
	}
}

// UserMessage creates a clean error message for the UI.
// Timeouts and connection failures read as "device unreachable", protocol faults as
// "device responded incorrectly".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var be *Error
	if errors.As(err, &be) {
		switch be.Kind {
		case KindTimeout:
			return fmt.Sprintf("UNREACHABLE: Device did not answer in time (%s)", be.Message)
		case KindConnection:
			return fmt.Sprintf("UNREACHABLE: Device unreachable - check network and power (%s)", be.Message)
		case KindAuth:
			return fmt.Sprintf("AUTH: Credentials rejected - check API key or access code (%s)", be.Message)
		case KindProtocol:
			return fmt.Sprintf("DEVICE: Device responded incorrectly - check firmware version (%s)", be.Message)
		case KindProcess:
			return fmt.Sprintf("WORKER: Helper process failed (%s)", be.Message)
		case KindConfiguration:
			return fmt.Sprintf("CONFIG: %s", be.Message)
		}
	}

	errStr := err.Error()

	// Common error patterns and their friendly messages
	errorMappings := []struct {
		pattern string
		message string
	}{
		{"printer not found", "CONFIG: Unknown printer id"},
		{"queue full", "QUEUE: Queue full, please retry in a few seconds"},
		{"unknown operation", "CONFIG: Unknown operation"},
		{"panic recovered", "INTERNAL: Unexpected failure, see service log"},
	}

	for _, mapping := range errorMappings {
		if strings.Contains(strings.ToLower(errStr), strings.ToLower(mapping.pattern)) {
			return mapping.message
		}
	}

	return fmt.Sprintf("ERROR: %s", extractInnerError(errStr))
}

// ClassifyWorkerMessage guesses a kind from a worker failure message when the worker
// did not report one explicitly. ProcessError is the fallback.
func ClassifyWorkerMessage(message string) Kind {
	msg := strings.ToLower(message)

	patterns := []struct {
		needles []string
		kind    Kind
	}{
		{[]string{"auth", "access code", "unauthorized", "401", "forbidden", "credential"}, KindAuth},
		{[]string{"connection refused", "unreachable", "no route to host", "connect failed", "timed out", "timeout"}, KindConnection},
		{[]string{"not supported", "unexpected response", "invalid response"}, KindProtocol},
	}

	for _, p := range patterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.kind
			}
		}
	}
	return KindProcess
}

// ParseKind maps the short kind hints emitted by workers.
func ParseKind(hint string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "auth":
		return KindAuth, true
	case "connection":
		return KindConnection, true
	case "protocol":
		return KindProtocol, true
	case "timeout":
		return KindTimeout, true
	case "configuration", "config":
		return KindConfiguration, true
	case "process":
		return KindProcess, true
	}
	return "", false
}

// extractInnerError gets the innermost error message
func extractInnerError(errStr string) string {
	parts := strings.Split(errStr, ": ")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return errStr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
