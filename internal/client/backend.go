package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/docforge/toolkit-client/internal/staging"
	"github.com/docforge/toolkit-client/pkg/requestid"
	"go.uber.org/zap"
)

// SocketIDHeader carries the push channel id so the backend can route
// progress events for the job to this client.
const SocketIDHeader = "X-Socket-ID"

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// SubmitResponse is the synchronous answer to a job submission. Either the
// JSON fields are set, or Content holds an artifact returned inline.
type SubmitResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`

	Content            []byte `json:"-"`
	ContentDisposition string `json:"-"`
	RequestID          string `json:"-"`
}

// IsInline reports whether the artifact came back in the response body.
func (r *SubmitResponse) IsInline() bool {
	return r.Content != nil
}

// Client talks to the document processing backend's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit uploads the snapshot to {base}/{tool}. socketID may be empty when the
// push channel is not connected; the job is still sent.
func (c *Client) Submit(ctx context.Context, snap staging.Snapshot, socketID string) (*SubmitResponse, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(snap.Tool.ID))
	ctx, reqID := requestid.Ensure(ctx)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		_ = pw.CloseWithError(writeForm(mw, snap))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(requestid.Header, reqID)
	if socketID != "" {
		req.Header.Set(SocketIDHeader, socketID)
	}

	zap.S().Named("client").Debugw("submitting job", "tool", snap.Tool.ID, "files", len(snap.Files), "request_id", reqID, "socket_id", socketID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("failed to call backend: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readStatusError(resp)
	}

	result := &SubmitResponse{RequestID: reqID}
	if isJSON(resp.Header.Get("Content-Type")) {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return result, nil
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	result.Success = true
	result.Content = content
	result.ContentDisposition = resp.Header.Get("Content-Disposition")
	return result, nil
}

// Download fetches rawURL and returns the body along with its
// Content-Disposition header. The caller closes the body.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	ctx, reqID := requestid.Ensure(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(requestid.Header, reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to call backend: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		return nil, "", readStatusError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Disposition"), nil
}

func writeForm(mw *multipart.Writer, snap staging.Snapshot) error {
	field := snap.Tool.UploadField()
	for _, f := range snap.Files {
		if err := writeFile(mw, field, f); err != nil {
			return err
		}
	}
	for _, fd := range snap.Tool.Fields {
		v, ok := snap.Params[fd.ID]
		if !ok {
			continue
		}
		if err := mw.WriteField(fd.ID, v); err != nil {
			return fmt.Errorf("writing field %s: %w", fd.ID, err)
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, field string, f staging.StagedFile) error {
	part, err := mw.CreateFormFile(field, f.Name)
	if err != nil {
		return fmt.Errorf("creating part for %s: %w", f.Name, err)
	}
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() {
		_ = r.Close()
	}()
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("uploading %s: %w", f.Name, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
