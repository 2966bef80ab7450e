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
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:5000"

// Client provides typed access to the pagesmith API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// DeploymentRequest is the body accepted by POST /.
type DeploymentRequest struct {
	Task          string `json:"task"`
	Round         int    `json:"round"`
	Brief         string `json:"brief"`
	Email         string `json:"email,omitempty"`
	EvaluationURL string `json:"evaluation_url,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	Secret        string `json:"secret"`
}

// Acknowledgement is returned once a request is queued.
type Acknowledgement struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Timestamp string `json:"timestamp"`
}

// PublishResult describes the published repository.
type PublishResult struct {
	RepoURL   string `json:"repo_url"`
	PagesURL  string `json:"pages_url"`
	CommitSHA string `json:"commit_sha"`
}

// Status is the latest recorded outcome for a task.
type Status struct {
	Status    string         `json:"status"`
	Round     int            `json:"round"`
	Timestamp time.Time      `json:"timestamp"`
	Result    *PublishResult `json:"github_result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Health mirrors GET /health.
type Health struct {
	Status           string         `json:"status"`
	Timestamp        string         `json:"timestamp"`
	GitHubConfigured bool           `json:"github_configured"`
	Components       map[string]any `json:"components"`
}

// Submit queues a deployment request.
func (c *Client) Submit(ctx context.Context, req DeploymentRequest) (Acknowledgement, error) {
	var ack Acknowledgement
	if err := c.do(ctx, http.MethodPost, "/", req, &ack); err != nil {
		return Acknowledgement{}, err
	}
	return ack, nil
}

// Status fetches the latest record for task. A task that is unknown or still
// running yields an error satisfying IsNotFound.
func (c *Client) Status(ctx context.Context, task string) (Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(task), nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// WaitStatus polls until task has a record for round or a later one, or ctx
// ends. A round below 1 accepts any record.
func (c *Client) WaitStatus(ctx context.Context, task string, round int, interval time.Duration) (Status, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, task)
		switch {
		case err == nil && st.Round >= round:
			return st, nil
		case err != nil && !IsNotFound(err):
			return Status{}, err
		}
		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health fetches service health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}
