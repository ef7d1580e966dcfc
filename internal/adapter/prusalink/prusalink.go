// Package prusalink talks to printers running PrusaLink firmware over its REST API.
package prusalink

import (
	"context"
	"errors"
	"fmt"
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

// BasicAuthUser is the fixed account PrusaLink pairs with the API key.
const BasicAuthUser = "maker"

// Adapter implements adapter.Adapter for PrusaLink.
type Adapter struct {
	rec  printer.Record
	http *adapter.HTTPClient
	log  hclog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a PrusaLink adapter. The API key is mandatory.
func New(rec printer.Record, logger hclog.Logger) (*Adapter, error) {
	if strings.TrimSpace(rec.APIURL) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "printer %s has no apiUrl", rec.ID)
	}
	if strings.TrimSpace(rec.APIKey) == "" {
		return nil, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "PrusaLink printer %s has no API key", rec.ID)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	apiKey := rec.APIKey
	client := adapter.NewHTTPClient(rec.APIURL, "PrusaLink "+rec.Label(), func(req *http.Request) {
		req.SetBasicAuth(BasicAuthUser, apiKey)
	})

	return &Adapter{
		rec:  rec,
		http: client,
		log:  logger.With("printer", rec.ID),
	}, nil
}

// TestConnection reads the firmware version. Read-only.
func (a *Adapter) TestConnection(ctx context.Context) (*adapter.CommandResult, error) {
	resp, err := a.http.Get(ctx, "/api/version")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, a.http.Target)
	}

	var version map[string]any
	if err := a.http.DecodeJSON(resp, &version); err != nil {
		return nil, err
	}
	return adapter.Succeeded("Connected to PrusaLink", resp.Body), nil
}

// GetStatus probes the status endpoints in order and returns the first usable answer.
// Credential rejection and transport failures stop the probe immediately.
func (a *Adapter) GetStatus(ctx context.Context) (adapter.RawStatus, error) {
	attempts := make([]string, 0, len(statusProbes))

	for _, p := range statusProbes {
		resp, err := a.http.Get(ctx, p.path)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, a.http.Target)
		case resp.StatusCode != http.StatusOK:
			attempts = append(attempts, fmt.Sprintf("%s: HTTP %d", p.path, resp.StatusCode))
			a.log.Debug("status endpoint unavailable", "path", p.path, "code", resp.StatusCode)
			continue
		}

		st, err := p.extract(resp.Body)
		if err != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", p.path, err))
			a.log.Debug("status endpoint unusable", "path", p.path, "error", err)
			continue
		}
		st.Endpoint = p.path
		return st, nil
	}

	return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol,
		"no usable status endpoint on %s (%s)", a.http.Target, strings.Join(attempts, "; "))
}

// StartPrint selects a stored file and starts it.
func (a *Adapter) StartPrint(ctx context.Context, fileName string) (*adapter.CommandResult, error) {
	resp, err := a.http.PostJSON(ctx, "/api/files/local/"+escapePath(fileName), map[string]any{
		"command": "select",
		"print":   true,
	})
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, "Print started: "+fileName)
}

// StopPrint cancels the running job.
func (a *Adapter) StopPrint(ctx context.Context) (*adapter.CommandResult, error) {
	resp, err := a.http.PostJSON(ctx, "/api/job", map[string]string{"command": "cancel"})
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, "Print cancelled")
}

// UploadFile stores a local file on the printer. The raw-body upload is tried first;
// a rejected raw upload is retried once as a multipart form.
func (a *Adapter) UploadFile(ctx context.Context, localPath, remoteName string, printAfter bool) (*adapter.CommandResult, error) {
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	resp, err := a.http.PostFile(ctx, "/api/files/local?filename="+url.QueryEscape(remoteName), localPath)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, a.http.Target)
		}

		a.log.Warn("raw upload rejected, retrying as multipart", "file", remoteName, "code", resp.StatusCode)
		resp, err = a.http.PostMultipart(ctx, "/api/files/local", "file", localPath, remoteName, map[string]string{
			"print": strconv.FormatBool(printAfter),
		})
		if err != nil {
			return nil, err
		}
		return a.http.Ack(resp, "File uploaded: "+remoteName)
	}

	ack, err := a.http.Ack(resp, "File uploaded: "+remoteName)
	if err != nil || !printAfter {
		return ack, err
	}

	started, err := a.StartPrint(ctx, remoteName)
	if err != nil {
		var be *bridgeerrors.Error
		if errors.As(err, &be) {
			be.Message = "uploaded " + remoteName + " but could not start it: " + be.Message
		}
		return nil, err
	}
	started.Message = "File uploaded and print started: " + remoteName
	return started, nil
}

// SendRawCommand sends one or more newline separated G-code lines.
func (a *Adapter) SendRawCommand(ctx context.Context, command string) (*adapter.CommandResult, error) {
	lines := splitCommands(command)
	if len(lines) == 0 {
		return nil, bridgeerrors.New(bridgeerrors.KindConfiguration, "empty G-code command")
	}

	resp, err := a.http.PostJSON(ctx, "/api/printer/command", map[string][]string{"commands": lines})
	if err != nil {
		return nil, err
	}
	return a.http.Ack(resp, fmt.Sprintf("Sent %d command(s)", len(lines)))
}

func splitCommands(command string) []string {
	var lines []string
	for _, l := range strings.Split(command, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func escapePath(name string) string {
	parts := strings.Split(strings.TrimPrefix(name, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
