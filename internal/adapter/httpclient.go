package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
)

const maxResponseBody = 4 << 20

// Response is a device HTTP answer with its body fully read.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPClient issues requests against one device. Deadlines come from the request context only.
type HTTPClient struct {
	BaseURL  string
	Target   string
	Client   *http.Client
	Decorate func(*http.Request)
}

// NewHTTPClient creates a client for the device at apiURL.
func NewHTTPClient(apiURL, target string, decorate func(*http.Request)) *HTTPClient {
	return &HTTPClient{
		BaseURL:  BaseURL(apiURL),
		Target:   target,
		Client:   &http.Client{},
		Decorate: decorate,
	}
}

// BaseURL adds a scheme to bare hosts and drops trailing slashes.
func BaseURL(apiURL string) string {
	u := strings.TrimSpace(apiURL)
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// Host extracts the host part of an apiUrl, without scheme, port or path.
func Host(apiURL string) string {
	parsed, err := url.Parse(BaseURL(apiURL))
	if err != nil || parsed.Hostname() == "" {
		return strings.TrimSpace(apiURL)
	}
	return parsed.Hostname()
}

// Do sends a request. Transport failures are classified here; HTTP statuses are left to the caller.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body io.Reader, contentType string) (*Response, error) {
	return c.do(ctx, method, path, body, contentType, -1)
}

// do sends a request with an explicit Content-Length when length >= 0.
func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, length int64) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "invalid request for "+c.Target)
	}
	if length >= 0 {
		req.ContentLength = length
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Decorate != nil {
		c.Decorate(req)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, bridgeerrors.FromTransport(ctx, err, c.Target)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, bridgeerrors.FromTransport(ctx, err, c.Target)
	}
	if len(data) > maxResponseBody {
		return nil, bridgeerrors.Newf(bridgeerrors.KindProtocol, "response from %s is too large (over %d bytes, HTTP %d)",
			c.Target, maxResponseBody, resp.StatusCode).WithDetail(string(data[:512]))
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Get is a convenience wrapper.
func (c *HTTPClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, "")
}

// PostJSON sends payload as a JSON body. A nil payload sends no body.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload any) (*Response, error) {
	if payload == nil {
		return c.Do(ctx, http.MethodPost, path, nil, "")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot encode request body")
	}
	return c.Do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

// PostFile streams a local file as the raw request body.
func (c *HTTPClient) PostFile(ctx context.Context, path, localPath string) (*Response, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.do(ctx, http.MethodPost, path, f, "application/octet-stream", size)
}

// PostMultipart streams a local file as a multipart form field together with extra fields.
// Only the form framing is buffered; the file is read while the request is sent.
func (c *HTTPClient) PostMultipart(ctx context.Context, path, field, localPath, remoteName string, fields map[string]string) (*Response, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	var frame bytes.Buffer
	w := multipart.NewWriter(&frame)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot build upload form")
		}
	}
	if _, err := w.CreateFormFile(field, remoteName); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot build upload form")
	}
	headLen := frame.Len()
	if err := w.Close(); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot build upload form")
	}
	head, tail := frame.Bytes()[:headLen], frame.Bytes()[headLen:]

	body := io.MultiReader(bytes.NewReader(head), f, bytes.NewReader(tail))
	length := int64(len(head)) + size + int64(len(tail))
	return c.do(ctx, http.MethodPost, path, body, w.FormDataContentType(), length)
}

// openUpload opens a regular local file for sending.
func openUpload(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot open upload file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, bridgeerrors.Wrap(bridgeerrors.KindConfiguration, err, "cannot read upload file")
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, bridgeerrors.Newf(bridgeerrors.KindConfiguration, "upload path %s is a directory", localPath)
	}
	return f, info.Size(), nil
}

// Ack turns an HTTP answer into an acknowledgement: 2xx is success, 401/403 an AuthError,
// anything else a ProtocolError.
func (c *HTTPClient) Ack(resp *Response, message string) (*CommandResult, error) {
	if !resp.OK() {
		return nil, bridgeerrors.FromHTTPStatus(resp.StatusCode, resp.Body, c.Target)
	}
	var data json.RawMessage
	if body := bytes.TrimSpace(resp.Body); len(body) > 0 && json.Valid(body) {
		data = body
	}
	return Succeeded(message, data), nil
}

// DecodeJSON parses a response body into v, reporting failures as ProtocolError.
func (c *HTTPClient) DecodeJSON(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return bridgeerrors.Wrap(bridgeerrors.KindProtocol, err,
			fmt.Sprintf("unparseable response from %s", c.Target)).WithDetail(string(resp.Body))
	}
	return nil
}
