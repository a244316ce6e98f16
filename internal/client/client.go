// Package client talks to an activewatcher server over HTTP.
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
	"strconv"
	"strings"
	"time"

	"activewatcher/internal/ingest"
	"activewatcher/internal/reports"
	"activewatcher/internal/timefmt"
)

// DefaultTimeout bounds each request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrConflict is returned when the server rejects a snapshot whose
// timestamp would move an interval backwards.
var ErrConflict = errors.New("state conflict")

// Error is a non-2xx response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is matches ErrConflict for 409 responses.
func (e *Error) Is(target error) bool {
	return target == ErrConflict && e.StatusCode == http.StatusConflict
}

// Client is an activewatcher API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A non-positive timeout uses
// DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// State is a snapshot to post.
type State struct {
	Bucket string
	Source string
	TS     time.Time
	Data   map[string]any
}

func (s State) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(struct {
		Bucket string         `json:"bucket"`
		Source string         `json:"source"`
		TS     string         `json:"ts"`
		Data   map[string]any `json:"data"`
	}{s.Bucket, s.Source, timefmt.Format(s.TS), data})
}

// StateResult is the server's answer to PostState.
type StateResult struct {
	Status string `json:"status"`
	ingest.Result
}

// PostState sends one snapshot.
func (c *Client) PostState(ctx context.Context, st State) (*StateResult, error) {
	var out StateResult
	if err := c.do(ctx, http.MethodPost, "/v1/state", nil, st, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Range returns the extent of stored data for an optional bucket and source.
func (c *Client) Range(ctx context.Context, bucket, source string) (*reports.RangeResult, error) {
	q := url.Values{}
	setString(q, "bucket", bucket)
	setString(q, "source", source)

	var out reports.RangeResult
	if err := c.do(ctx, http.MethodGet, "/v1/range", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Window is an optional time range. Zero values let the server choose.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) values() url.Values {
	q := url.Values{}
	if !w.From.IsZero() {
		q.Set("from", timefmt.Format(w.From))
	}
	if !w.To.IsZero() {
		q.Set("to", timefmt.Format(w.To))
	}
	return q
}

// Events lists clipped intervals.
func (c *Client) Events(ctx context.Context, bucket, source string, w Window) (*reports.EventsResult, error) {
	q := w.values()
	setString(q, "bucket", bucket)
	setString(q, "source", source)

	var out reports.EventsResult
	if err := c.do(ctx, http.MethodGet, "/v1/events", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary fetches the dashboard summary. chunkSeconds of 0 uses the
// server default.
func (c *Client) Summary(ctx context.Context, w Window, chunkSeconds int) (*reports.SummaryResult, error) {
	q := w.values()
	if chunkSeconds > 0 {
		q.Set("chunk_seconds", strconv.Itoa(chunkSeconds))
	}

	var out reports.SummaryResult
	if err := c.do(ctx, http.MethodGet, "/v1/summary", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Apps lists distinct apps. limit of 0 uses the server default.
func (c *Client) Apps(ctx context.Context, w Window, limit int) (*reports.AppsResult, error) {
	q := w.values()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out reports.AppsResult
	if err := c.do(ctx, http.MethodGet, "/v1/apps", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HeatmapParams selects a heatmap.
type HeatmapParams struct {
	Window
	TZ   string
	Mode string
	Apps []string
}

// Heatmap fetches per-day totals.
func (c *Client) Heatmap(ctx context.Context, p HeatmapParams) (*reports.HeatmapResult, error) {
	q := p.values()
	setString(q, "tz", p.TZ)
	setString(q, "mode", p.Mode)
	for _, app := range p.Apps {
		q.Add("app", app)
	}

	var out reports.HeatmapResult
	if err := c.do(ctx, http.MethodGet, "/v1/heatmap", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the liveness status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func setString(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
