package rounds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Response represents a response from the rounds service.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client is a thin HTTP wrapper around the scoring backend's rounds API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a new client with the provided baseURL and timeout.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("baseURL must include scheme (http/https)")
	}

	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// GetLeaderboard fetches the current standings of a round. The body is
// passed to live observers as is.
func (c *Client) GetLeaderboard(ctx context.Context, roundID string) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+"/rounds/"+url.PathEscape(roundID)+"/leaderboard")
}

func (c *Client) do(ctx context.Context, method, endpoint string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rounds service request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read rounds service response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header.Clone()}, nil
}
