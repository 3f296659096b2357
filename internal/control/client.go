package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a minimal HTTP client for the one-shot CLI actions that talk
// to an already-running daemon instead of starting one.
type Client struct {
	addr string
	http *http.Client
}

// NewClient returns a Client that talks to the Control Interface bound at
// addr.
func NewClient(addr string) (c *Client) {
	return &Client{
		addr: addr,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the status endpoint.
func (c *Client) Status(ctx context.Context) (s StatusResponse, err error) {
	err = c.get(ctx, "/status", &s)

	return s, err
}

// Toggle posts to the toggle endpoint and returns the resulting blocking
// state.
//
// The Control Interface's toggle always flips the current state rather
// than accepting a target state; callers that need an idempotent
// "set to X" must first read Status and only call Toggle if it disagrees.
func (c *Client) Toggle(ctx context.Context) (r ToggleResponse, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.addr+"/toggle", nil)
	if err != nil {
		return r, fmt.Errorf("building toggle request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return r, fmt.Errorf("requesting toggle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return r, fmt.Errorf("toggle returned status %d", resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return r, fmt.Errorf("decoding toggle response: %w", err)
	}

	return r, nil
}

// get fetches path and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.addr+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}

	return nil
}
