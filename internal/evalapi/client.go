// Package evalapi is the HTTP client for the external evaluation service.
// Scoring, AI-model orchestration and persistence all live behind this
// API; the portal only drives it.
package evalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Sentinel errors surfaced from upstream responses.
var (
	ErrNotFound = errors.New("resource not found")
)

// APIError is a non-2xx response from the evaluation service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evaluation api: status %d: %s", e.StatusCode, e.Detail)
}

// Client talks to the evaluation service. It is constructed with a base
// URL only; the bearer credential is passed explicitly per call so the
// client holds no ambient authentication state.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a Client for the given base URL. The underlying http.Client
// carries no overall timeout — every call is bounded by its context, which
// is how the submission bound aborts an in-flight request.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
	}
}

// do issues one request and decodes a JSON response into out (when out is
// non-nil). 404 maps to ErrNotFound; other non-2xx statuses map to APIError.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readDetail(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readDetail extracts the {"detail": "..."} body the upstream uses for
// errors, falling back to the raw text.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}

// ─── Auth ───────────────────────────────────────────────────────────

// GuestLogin registers an anonymous participant by email and full name.
func (c *Client) GuestLogin(ctx context.Context, email, fullName string) (*TokenResponse, error) {
	req := map[string]string{"email": email, "full_name": fullName}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/guest", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates a registered participant.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	req := map[string]string{"email": email, "password": password}
	var resp TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup creates a new account upstream. It does not log the account in.
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.do(ctx, http.MethodPost, "/api/auth/signup", "", req, nil)
}

// ─── Demo flow ──────────────────────────────────────────────────────

// ListSeries fetches the demo series catalog. The catalog is public
// upstream, so no credential is required.
func (c *Client) ListSeries(ctx context.Context) ([]SeriesEntry, error) {
	var resp struct {
		Series []SeriesEntry `json:"series"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/demo/series", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Series, nil
}

// StartDemo creates a demo session from a series and returns its
// question set inline.
func (c *Client) StartDemo(ctx context.Context, token, seriesID string) (*TestPayload, error) {
	var resp TestPayload
	if err := c.do(ctx, http.MethodPost, "/api/demo/start/"+seriesID, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDemoTest resolves a demo session by ID.
func (c *Client) GetDemoTest(ctx context.Context, token string, testID int) (*TestPayload, error) {
	var resp TestPayload
	if err := c.do(ctx, http.MethodGet, "/api/demo/test/"+strconv.Itoa(testID), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitDemo posts the answers of a demo session. The upstream runs its
// multi-model analysis inside this call, so it can take minutes.
func (c *Client) SubmitDemo(ctx context.Context, token string, req SubmissionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/demo/submit", token, req, nil)
}

// ─── Standard flow ──────────────────────────────────────────────────

// StartTest creates a standard session for a category/level pair.
func (c *Client) StartTest(ctx context.Context, token, category, level string) (*TestPayload, error) {
	req := map[string]string{"category": category, "level": level}
	var resp TestPayload
	if err := c.do(ctx, http.MethodPost, "/api/test/start", token, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitTest posts the answers of a standard session.
func (c *Client) SubmitTest(ctx context.Context, token string, req SubmissionRequest) error {
	return c.do(ctx, http.MethodPost, "/api/test/submit", token, req, nil)
}

// ─── Shared ─────────────────────────────────────────────────────────

// DeleteTest tears a session down upstream. Callers treat failures as
// best-effort.
func (c *Client) DeleteTest(ctx context.Context, token string, testID int) error {
	return c.do(ctx, http.MethodDelete, "/api/test/delete/"+strconv.Itoa(testID), token, nil, nil)
}

// GetResult fetches the analysis result for a test. The payload shape is
// owned by the upstream and passed through opaque.
func (c *Client) GetResult(ctx context.Context, token string, testID int) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/result/"+strconv.Itoa(testID), token, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
