package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigildev/vigil/internal/history"
	"github.com/vigildev/vigil/internal/instance"
)

// apiClient talks to a running monitor's loopback control API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(port int) *apiClient {
	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type statusResponse struct {
	Instances []instance.Snapshot `json:"instances"`
	Count     int                 `json:"count"`
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func (c *apiClient) status(ctx context.Context) (*statusResponse, error) {
	var out statusResponse
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) history(ctx context.Context, pid, limit int) (*historyResponse, error) {
	path := fmt.Sprintf("/api/history?limit=%d", limit)
	if pid > 0 {
		path += fmt.Sprintf("&pid=%d", pid)
	}
	var out historyResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) pause(ctx context.Context, pid int) error {
	return c.post(ctx, fmt.Sprintf("/api/pause/%d", pid))
}

func (c *apiClient) resume(ctx context.Context, pid int) error {
	return c.post(ctx, fmt.Sprintf("/api/resume/%d", pid))
}

func (c *apiClient) reset(ctx context.Context, pid int) error {
	return c.post(ctx, fmt.Sprintf("/api/reset/%d", pid))
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is 'vigil monitor' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is 'vigil monitor' running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("control api: %s", payload.Error)
	}
	return fmt.Errorf("control api: HTTP %d", resp.StatusCode)
}
