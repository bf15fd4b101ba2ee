// Package network provides clients for talking to a running d4macro service.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"d4macro/internal/protocol"
)

// ErrUnauthorized is returned when the service rejects the API token
var ErrUnauthorized = errors.New("unauthorized: check api_token")

// ProfileInfo is one entry of GET /api/profiles
type ProfileInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	StartStopKey string `json:"start_stop_key"`
	State        string `json:"state"`
}

// Client issues lifecycle calls against the local HTTP API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a control client for the service at addr (host:port)
func NewClient(addr, token string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("service not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Health checks that the service is up
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil)
}

// Status returns the aggregate status
func (c *Client) Status(ctx context.Context) (protocol.StatusPayload, error) {
	var status protocol.StatusPayload
	err := c.do(ctx, http.MethodGet, "/api/status", &status)
	return status, err
}

// Profiles returns the configured profiles with their run state
func (c *Client) Profiles(ctx context.Context) ([]ProfileInfo, error) {
	var profiles []ProfileInfo
	err := c.do(ctx, http.MethodGet, "/api/profiles", &profiles)
	return profiles, err
}

// ProfileAction runs start, stop, pause or resume on one profile
func (c *Client) ProfileAction(ctx context.Context, id, action string) error {
	return c.do(ctx, http.MethodPost, "/api/profiles/"+url.PathEscape(id)+"/"+action, nil)
}

// StopAll stops every profile
func (c *Client) StopAll(ctx context.Context) (protocol.StatusPayload, error) {
	var status protocol.StatusPayload
	err := c.do(ctx, http.MethodPost, "/api/stop-all", &status)
	return status, err
}

// PauseAll pauses every running profile
func (c *Client) PauseAll(ctx context.Context) (protocol.StatusPayload, error) {
	var status protocol.StatusPayload
	err := c.do(ctx, http.MethodPost, "/api/pause-all", &status)
	return status, err
}

// ResumeAll resumes every paused profile
func (c *Client) ResumeAll(ctx context.Context) (protocol.StatusPayload, error) {
	var status protocol.StatusPayload
	err := c.do(ctx, http.MethodPost, "/api/resume-all", &status)
	return status, err
}
