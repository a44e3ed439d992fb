package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
)

// Client reads health and breaker state from a running daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// Health mirrors the daemon's GET /health body.
type Health struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Sessions int            `json:"sessions"`
	Breakers breaker.Health `json:"breakers"`
}

// Snapshot is one poll of the daemon.
type Snapshot struct {
	Health   Health
	Breakers []breaker.Stats
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Fetch polls /health and /api/v1/breakers.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := c.get(ctx, "/health", &snap.Health); err != nil {
		return Snapshot{}, err
	}
	if err := c.get(ctx, "/api/v1/breakers", &snap.Breakers); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status code %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
