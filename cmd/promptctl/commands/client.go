package commands

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

	"github.com/ent0n29/promptqueue/internal/queue"
)

type submitRequest struct {
	ID          string `json:"id,omitempty"`
	Prompt      string `json:"prompt"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Position  int    `json:"position"`
	Ahead     int    `json:"ahead"`
}

type queueSnapshot struct {
	ConcurrencyLimit int           `json:"concurrency_limit"`
	SchedulerRunning bool          `json:"scheduler_running"`
	Processing       int           `json:"processing"`
	Entries          []queue.Entry `json:"entries"`
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(base string) (*apiClient, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("base-url is required")
	}
	return &apiClient{baseURL: base, http: &http.Client{Timeout: 45 * time.Second}}, nil
}

func (c *apiClient) submit(ctx context.Context, req submitRequest) (submitResponse, error) {
	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/prompts", req, http.StatusAccepted, &out); err != nil {
		return submitResponse{}, err
	}
	if strings.TrimSpace(out.RequestID) == "" {
		return submitResponse{}, fmt.Errorf("missing request_id in response")
	}
	return out, nil
}

func (c *apiClient) queue(ctx context.Context) (queueSnapshot, error) {
	var out queueSnapshot
	err := c.do(ctx, http.MethodGet, "/v1/queue", nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) setLimit(ctx context.Context, n int) (int, error) {
	var out struct {
		ConcurrencyLimit int `json:"concurrency_limit"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/queue/limit", map[string]int{"limit": n}, http.StatusOK, &out)
	return out.ConcurrencyLimit, err
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != want {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func wsURLForRequest(base, requestID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events/ws"
	q := u.Query()
	q.Set("request_id", requestID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
