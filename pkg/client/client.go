// Package client is the Go client for a running flightrec chunk server.
//
// # Quick start
//
//	c := client.New("http://localhost:7070")
//
//	// Force the chunk being recorded out to the repository
//	id, err := c.Dump(ctx)
//
//	// Download it, or the whole recording
//	chunk, err := c.Chunk(ctx, id)
//	n, err := c.Recording(ctx, f)
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flightrec: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether the server has no recording in progress.
func IsUnavailable(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusServiceUnavailable
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client talks to one chunk server. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// ChunkInfo describes one stored chunk.
type ChunkInfo struct {
	ID       string
	Offset   int64
	Size     int64
	Start    time.Time
	Duration time.Duration
	Events   int64
}

// HealthInfo is the server's /health response.
type HealthInfo struct {
	Status      string `json:"status"`
	RecordingID string `json:"recording_id"`
	Chunks      int    `json:"chunks"`
	Uptime      string `json:"uptime"`
	UptimeMs    int64  `json:"uptime_ms"`
}

// ─── Operations ───────────────────────────────────────────────────────────────

func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var h HealthInfo
	if err := c.doJSON(ctx, http.MethodGet, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Chunks lists the stored chunks, oldest first.
func (c *Client) Chunks(ctx context.Context) ([]ChunkInfo, error) {
	var resp struct {
		Chunks []wireChunk `json:"chunks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/chunks", &resp); err != nil {
		return nil, err
	}
	out := make([]ChunkInfo, len(resp.Chunks))
	for i, w := range resp.Chunks {
		out[i] = ChunkInfo{
			ID:       w.ID,
			Offset:   w.Offset,
			Size:     w.Size,
			Start:    time.Unix(0, w.StartNanos).UTC(),
			Duration: time.Duration(w.DurationNanos),
			Events:   w.Events,
		}
	}
	return out, nil
}

// Chunk downloads one chunk.
func (c *Client) Chunk(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/chunks/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("flightrec: read chunk %s: %w", id, err)
	}
	return data, nil
}

// Recording streams every stored chunk, concatenated, into w.
func (c *Client) Recording(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/recording")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("flightrec: read recording: %w", err)
	}
	return n, nil
}

// Dump asks the recorder to store its current chunk now. It returns "" when
// the chunk held no events.
func (c *Client) Dump(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/dump", &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do sends a request and returns the response when its status is 2xx. The
// caller closes the body.
func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("flightrec: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flightrec: request %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("flightrec: decode response: %w", err)
	}
	return nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type wireChunk struct {
	ID            string `json:"id"`
	Offset        int64  `json:"offset"`
	Size          int64  `json:"size"`
	StartNanos    int64  `json:"start_ns"`
	DurationNanos int64  `json:"duration_ns"`
	Events        int64  `json:"events"`
}
