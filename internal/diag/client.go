package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/grovetools/memory/pkg/cache"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/pkg/process"
)

// baseURL is the dummy host used for unix socket requests.
const baseURL = "http://unix"

// Client reads a diagnostics socket.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// NewClient creates a Client for socketPath. No connection is made until a
// request is sent.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    2,
		IdleConnTimeout: 30 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 5 * time.Second},
		socketPath: socketPath,
	}
}

// SocketPath returns the socket the client talks to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// get decodes the JSON body of path into v. okStatus lists the statuses
// that carry a body worth decoding.
func (c *Client) get(ctx context.Context, path string, v any, okStatus ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach memory server at %s: %w", c.socketPath, err)
	}
	defer resp.Body.Close()

	accepted := resp.StatusCode == http.StatusOK
	for _, s := range okStatus {
		accepted = accepted || resp.StatusCode == s
	}
	if !accepted {
		return fmt.Errorf("memory server returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Health returns the server's health report. An unhealthy report is not an error.
func (c *Client) Health(ctx context.Context, limit int) (*memory.HealthReport, error) {
	var report memory.HealthReport
	path := fmt.Sprintf("/health?limit=%d", limit)
	if err := c.get(ctx, path, &report, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &report, nil
}

// Info returns what the server says about itself.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.get(ctx, "/api/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Effects returns the effect report and recent history.
func (c *Client) Effects(ctx context.Context, limit int) (*EffectsResponse, error) {
	var resp EffectsResponse
	if err := c.get(ctx, fmt.Sprintf("/api/effects?limit=%d", limit), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cache returns the cache health of the server's project.
func (c *Client) Cache(ctx context.Context) (*cache.Health, error) {
	var h cache.Health
	if err := c.get(ctx, "/api/cache", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Sessions returns the registry as the server sees it.
func (c *Client) Sessions(ctx context.Context) (*SessionsResponse, error) {
	var resp SessionsResponse
	if err := c.get(ctx, "/api/sessions", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Endpoint is a discovered diagnostics socket.
type Endpoint struct {
	PID    int    `json:"pid"`
	Socket string `json:"socket"`
}

// Discover lists the sockets in dir whose owning process is alive. Sockets
// left behind by dead processes are removed.
func Discover(dir string) ([]Endpoint, error) {
	if dir == "" {
		dir = paths.SocketDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read socket directory: %w", err)
	}

	var found []Endpoint
	for _, e := range entries {
		pid, ok := paths.SocketPID(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !process.IsProcessAlive(pid) {
			_ = os.Remove(path)
			continue
		}
		found = append(found, Endpoint{PID: pid, Socket: path})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	return found, nil
}
