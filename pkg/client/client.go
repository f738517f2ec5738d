// Package client provides the Go SDK for the Aegis governance daemon:
// appending events, driving kernel ticks, and inspecting the ledger,
// violation feed, and watchdog state over the daemon's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Event mirrors the ledger event record returned by the daemon.
type Event struct {
	Sequence  uint64         `json:"sequence_number"`
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// AppendRequest is the payload for Append.
type AppendRequest struct {
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	EventType string         `json:"event_type"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// LedgerOverview holds the chain length and root hash.
type LedgerOverview struct {
	Events uint64 `json:"events"`
	Root   string `json:"root"`
}

// IntegrityReport mirrors the daemon's chain verification result.
type IntegrityReport struct {
	Valid       bool   `json:"valid"`
	FirstBroken uint64 `json:"first_broken,omitempty"`
	Checked     uint64 `json:"checked"`
}

// Violation is one entry of a tick result's violation list.
type Violation struct {
	Rule       string `json:"rule_name"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	EventIndex int    `json:"event_index"`
}

// TickResult is the kernel contract response: a kernel observing
// ShouldHalt=true must stop dispatching tasks.
type TickResult struct {
	ShouldHalt bool        `json:"should_halt"`
	Violations []Violation `json:"violations"`
}

// ViolationRecord is one entry of the violation feed.
type ViolationRecord struct {
	ID         string    `json:"id"`
	Sequence   uint64    `json:"sequence_number"`
	TaskID     string    `json:"task_id"`
	AgentID    string    `json:"agent_id"`
	Severity   string    `json:"severity"`
	Invariant  string    `json:"violated_invariant"`
	Message    string    `json:"message"`
	EventIndex int       `json:"event_index"`
	DetectedAt time.Time `json:"detected_at"`
}

// WatchdogState mirrors GET /v1/watchdog.
type WatchdogState struct {
	LastChecked   uint64 `json:"last_checked_index"`
	HaltRequested bool   `json:"halt_requested"`
	CheckInterval uint64 `json:"check_interval_ticks"`
}

// Client talks to an Aegis daemon.
type Client struct {
	base       string
	httpClient *http.Client
	adminToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAdminToken attaches a pre-obtained admin token to admin requests.
func WithAdminToken(token string) Option {
	return func(c *Client) { c.adminToken = token }
}

// New creates a Client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append writes one event to the ledger.
func (c *Client) Append(ctx context.Context, req *AppendRequest) (*Event, error) {
	var out Event
	if err := c.do(ctx, http.MethodPost, "/v1/events", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Overview returns the chain length and root hash.
func (c *Client) Overview(ctx context.Context) (*LedgerOverview, error) {
	var out LedgerOverview
	if err := c.do(ctx, http.MethodGet, "/v1/ledger", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify runs a full chain verification.
func (c *Client) Verify(ctx context.Context) (*IntegrityReport, error) {
	var out IntegrityReport
	if err := c.do(ctx, http.MethodGet, "/v1/ledger/verify", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns a window of events starting at the 1-based sequence from.
func (c *Client) Events(ctx context.Context, from uint64, limit int) ([]*Event, error) {
	var out struct {
		Events []*Event `json:"events"`
	}
	path := fmt.Sprintf("/v1/ledger/events?from=%d&limit=%d", from, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Violations returns the most recent violation feed records.
func (c *Client) Violations(ctx context.Context, limit int) ([]*ViolationRecord, error) {
	var out struct {
		Violations []*ViolationRecord `json:"violations"`
	}
	path := fmt.Sprintf("/v1/violations?limit=%d", limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, err
	}
	return out.Violations, nil
}

// Watchdog returns the watchdog state.
func (c *Client) Watchdog(ctx context.Context) (*WatchdogState, error) {
	var out WatchdogState
	if err := c.do(ctx, http.MethodGet, "/v1/watchdog", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// KernelTick drives the kernel contract for out-of-process kernels.
func (c *Client) KernelTick(ctx context.Context, tick uint64) (*TickResult, error) {
	var out TickResult
	body := map[string]uint64{"tick_count": tick}
	if err := c.do(ctx, http.MethodPost, "/v1/kernel/tick", body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges the admin secret for a bearer token and stores it on the
// client for subsequent admin calls.
func (c *Client) Login(ctx context.Context, secret string) error {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"secret": secret}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/token", body, &out, false); err != nil {
		return err
	}
	c.adminToken = out.Token
	return nil
}

// Audit runs an explicit full-chain integrity audit. Requires Login or
// WithAdminToken first.
func (c *Client) Audit(ctx context.Context) (*IntegrityReport, error) {
	var out IntegrityReport
	if err := c.do(ctx, http.MethodPost, "/v1/admin/audit", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one JSON request against the daemon.
func (c *Client) do(ctx context.Context, method, path string, body, out any, admin bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
