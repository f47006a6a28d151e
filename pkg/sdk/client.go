// Package sdk is a Go client for the reva review API, for tools that want
// to list, accept or reject pending actions without a browser.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL:  "http://localhost:8080",
//	    Token:    os.Getenv("REVA_REVIEW_TOKEN"),
//	    Reviewer: "alice",
//	})
//
//	pending, err := client.ListPending(ctx)
//	for _, a := range pending {
//	    if strings.HasPrefix(a.Description, "Comment: TODO") {
//	        client.Reject(ctx, a.ID, "no TODO comments in the shared database")
//	    }
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/journal"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the review API endpoint, e.g. "http://localhost:8080".
	BaseURL string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Reviewer is recorded as the person deciding. The server defaults it
	// when empty.
	Reviewer string

	// Timeout per request (default 30s).
	Timeout time.Duration
}

// APIError is a non-2xx answer from the review API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("review api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err means the action is no longer pending.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one review API.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ListPending returns pending actions in submission order.
func (c *Client) ListPending(ctx context.Context) ([]action.Summary, error) {
	var out struct {
		Actions []action.Summary `json:"actions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/actions", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// Get returns one pending action.
func (c *Client) Get(ctx context.Context, id string) (*action.Summary, error) {
	var out action.Summary
	if err := c.do(ctx, http.MethodGet, "/api/v1/actions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Accept approves the action. The mutation runs before the call returns.
func (c *Client) Accept(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(id)+"/accept", nil, nil)
}

// Reject turns the action down; reason is shown to the original caller.
func (c *Client) Reject(ctx context.Context, id, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(id)+"/reject", body, nil)
}

// Decisions returns up to limit journal entries, newest first.
func (c *Client) Decisions(ctx context.Context, limit int) ([]journal.Decision, error) {
	var out struct {
		Decisions []journal.Decision `json:"decisions"`
	}
	path := "/api/v1/decisions?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Decisions, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("review api: failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("review api: failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.Reviewer != "" {
		req.Header.Set("X-Reviewer", c.config.Reviewer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("review api: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("review api: failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("review api: failed to parse response: %w", err)
	}
	return nil
}
