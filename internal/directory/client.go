package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// ClientConfig configures a directory REST client.
type ClientConfig struct {
	BaseURL           string
	APIToken          string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client calls the directory REST API. Calls are throttled so a large batch
// does not exceed the directory's request quota.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a directory client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("directory base URL is required")
	}

	httpClient := &http.Client{}
	if cfg.APIToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Validate asks the directory whether req can be applied.
func (c *Client) Validate(ctx context.Context, req domain.Request) (Outcome, error) {
	return c.call(ctx, "/v1/requests/validate", req)
}

// Apply asks the directory to carry out req.
func (c *Client) Apply(ctx context.Context, req domain.Request) (Outcome, error) {
	return c.call(ctx, "/v1/requests/apply", req)
}

func (c *Client) call(ctx context.Context, path string, req domain.Request) (Outcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, fmt.Errorf("directory rate limit: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode request %d: %w", req.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("build directory request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Outcome{}, domain.Upstream("directory "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, domain.Upstream("directory "+path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out Outcome
		if err := json.Unmarshal(data, &out); err != nil {
			return Outcome{}, domain.Upstream("directory "+path, fmt.Errorf("decode response: %w", err))
		}
		return out, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The directory rejected the request itself; this is a verdict, not an outage.
		return Outcome{Success: false, Message: rejectionMessage(req.ID, resp.StatusCode, data)}, nil
	default:
		return Outcome{}, domain.Upstream("directory "+path, fmt.Errorf("status %d", resp.StatusCode))
	}
}

func rejectionMessage(id, status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("Request %d rejected by directory (status %d)", id, status)
}
