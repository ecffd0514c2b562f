// Package client provides an HTTP client for the clashcheck server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/server"
	"github.com/raphaelgruber/clashcheck/internal/service"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Kind    string // failure kind, when the server reports one
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the clashcheck HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
// If baseURL is empty, uses CLASHCHECK_SERVER_URL or defaults to localhost:8585.
// Timeout can be configured via CLASHCHECK_CLIENT_TIMEOUT (default 2m; large imports take a while).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("CLASHCHECK_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("CLASHCHECK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes a JSON response into result (if non-nil).
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message, apiErr.Kind = body.Error, body.Kind
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, result)
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: %s", resp.Status)
	}
	return nil
}

// ImportElements uploads an element manifest. YAML manifests are sent as
// application/yaml, everything else as JSON.
func (c *Client) ImportElements(ctx context.Context, manifest []byte, yaml bool) (*server.ImportResult, error) {
	contentType := "application/json"
	if yaml {
		contentType = "application/yaml"
	}
	var result server.ImportResult
	if err := c.do(ctx, http.MethodPost, "/api/elements", contentType, bytes.NewReader(manifest), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitJob starts a detection job. Jobs with invalid parameters come back
// already failed.
func (c *Client) SubmitJob(ctx context.Context, req service.SubmitRequest) (*models.ClashDetectionJob, error) {
	var job models.ClashDetectionJob
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (*models.ClashDetectionJob, error) {
	var job models.ClashDetectionJob
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, newest first. Empty project means all projects.
func (c *Client) ListJobs(ctx context.Context, project string, limit int) ([]models.ClashDetectionJob, error) {
	q := url.Values{}
	if project != "" {
		q.Set("project", project)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var jobs []models.ClashDetectionJob
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/jobs", q), nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob asks the server to cancel a running job.
func (c *Client) CancelJob(ctx context.Context, id string) (*models.ClashDetectionJob, error) {
	var job models.ClashDetectionJob
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListClashes returns the clashes of a job, most severe first.
func (c *Client) ListClashes(ctx context.Context, jobID string, filter models.ClashFilter) ([]models.Clash, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.MinSeverity > 0 {
		q.Set("min_severity", strconv.Itoa(filter.MinSeverity))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var clashes []models.Clash
	path := withQuery("/api/jobs/"+url.PathEscape(jobID)+"/clashes", q)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &clashes); err != nil {
		return nil, err
	}
	return clashes, nil
}

// UpdateClash applies a review change to a clash.
func (c *Client) UpdateClash(ctx context.Context, id string, update service.ClashUpdate) (*models.Clash, error) {
	var clash models.Clash
	if err := c.doJSON(ctx, http.MethodPatch, "/api/clashes/"+url.PathEscape(id), update, &clash); err != nil {
		return nil, err
	}
	return &clash, nil
}

// ListFiles returns the imported files of a project with element counts.
func (c *Client) ListFiles(ctx context.Context, project string) ([]db.FileCount, error) {
	var files []db.FileCount
	if err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(project)+"/files", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteFile removes the elements imported from file.
func (c *Client) DeleteFile(ctx context.Context, project, file string) (*db.FileCount, error) {
	var deleted db.FileCount
	path := "/api/projects/" + url.PathEscape(project) + "/files/" + url.PathEscape(file)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &deleted); err != nil {
		return nil, err
	}
	return &deleted, nil
}

// WatchJob streams job snapshots until the job reaches a terminal state.
// onUpdate is invoked for each snapshot; return an error from it to stop
// watching. Returns the last snapshot received.
func (c *Client) WatchJob(ctx context.Context, id string, onUpdate func(models.ClashDetectionJob) error) (*models.ClashDetectionJob, error) {
	// Convert HTTP endpoint to WebSocket endpoint
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	u, err := url.Parse(wsURL + "/api/jobs/" + url.PathEscape(id) + "/watch")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &APIError{Status: resp.StatusCode, Message: "job " + id + " not found"}
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *models.ClashDetectionJob
	for {
		var event server.WatchEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last != nil {
				return last, nil
			}
			return last, fmt.Errorf("read message: %w", err)
		}
		if event.Error != "" {
			return last, fmt.Errorf("watch: %s", event.Error)
		}
		if event.Job == nil {
			continue
		}
		last = event.Job
		if onUpdate != nil {
			if err := onUpdate(*event.Job); err != nil {
				return last, err
			}
		}
		if event.Job.Status.IsTerminal() {
			return last, nil
		}
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
