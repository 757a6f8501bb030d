package addrverify

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
)

// HTTPClient calls the verification service over HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient returns a client for baseURL. timeout bounds each request.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Country    string           `json:"country"`
	Components searchComponents `json:"components"`
}

type searchComponents struct {
	Unspecified []string `json:"unspecified"`
}

type searchResponse struct {
	Result *SearchResult `json:"result"`
}

type formatResponse struct {
	Result *struct {
		Address *FormattedAddress `json:"address"`
	} `json:"result"`
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, lines []string) (*SearchResult, error) {
	body, err := json.Marshal(searchRequest{Country: "USA", Components: searchComponents{Unspecified: lines}})
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body), &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if resp.Result == nil || resp.Result.Confidence == "" {
		return nil, fmt.Errorf("search: %w: response has no result", ErrIntegration)
	}
	return resp.Result, nil
}

// Format implements Client.
func (c *HTTPClient) Format(ctx context.Context, key string) (*FormattedAddress, error) {
	u := c.baseURL + "/format?key=" + url.QueryEscape(key)
	var resp formatResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}
	if resp.Result == nil || resp.Result.Address == nil {
		return nil, fmt.Errorf("format: %w: response has no address", ErrIntegration)
	}
	return resp.Result.Address, nil
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Auth-Token", c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegration, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrIntegration, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrIntegration, res.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrIntegration, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
