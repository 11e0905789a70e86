// Package client is the HTTP client for the hostd control API, used by the
// CLI and by embedding programs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/hostd/internal/manager"
	"github.com/loykin/hostd/internal/process"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8555",
		Timeout: 10 * time.Second,
	}
}

// Client talks to a running hostd daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// IsReachable reports whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

type startResp struct {
	OK bool      `json:"ok"`
	ID uuid.UUID `json:"id"`
}

// Start submits a spec and returns the assigned process ID.
func (c *Client) Start(ctx context.Context, spec process.Spec) (uuid.UUID, error) {
	var out startResp
	if err := c.post(ctx, "/start", nil, spec, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

// Stop stops a process by name. wait of zero uses the spec's stop timeout.
func (c *Client) Stop(ctx context.Context, name string, wait time.Duration) error {
	q := url.Values{"name": {name}}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	return c.post(ctx, "/stop", q, nil, nil)
}

// Restart restarts a process by name.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.post(ctx, "/restart", url.Values{"name": {name}}, nil, nil)
}

// ResetRestarts clears a capped process's restart counter.
func (c *Client) ResetRestarts(ctx context.Context, name string) error {
	return c.post(ctx, "/reset-restarts", url.Values{"name": {name}}, nil, nil)
}

// Status fetches the status of one process by name.
func (c *Client) Status(ctx context.Context, name string) (process.Status, error) {
	var st process.Status
	err := c.get(ctx, "/status", url.Values{"name": {name}}, &st)
	return st, err
}

// Statuses fetches all process statuses.
func (c *Client) Statuses(ctx context.Context) ([]process.Status, error) {
	var sts []process.Status
	err := c.get(ctx, "/status", nil, &sts)
	return sts, err
}

// Stats fetches the fleet summary.
func (c *Client) Stats(ctx context.Context) (manager.Stats, error) {
	var s manager.Stats
	err := c.get(ctx, "/stats", nil, &s)
	return s, err
}

type rconResp struct {
	Output string `json:"output"`
}

// Rcon runs a remote-console command against a process by name.
func (c *Client) Rcon(ctx context.Context, name, command string) (string, error) {
	var out rconResp
	err := c.post(ctx, "/rcon", url.Values{"name": {name}}, map[string]string{"command": command}, &out)
	return out.Output, err
}

// Heartbeat reports liveness for a process by name. Compute workers without
// an in-band liveness channel call this periodically.
func (c *Client) Heartbeat(ctx context.Context, name string) error {
	return c.post(ctx, "/heartbeat", url.Values{"name": {name}}, nil, nil)
}

// Shutdown asks the daemon to begin its shutdown sequence.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", nil, nil, nil)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) post(ctx context.Context, path string, q url.Values, body, out any) error {
	return c.do(ctx, http.MethodPost, path, q, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
