// Package mailpilot is a client for the MailPilot control API.
package mailpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds the configuration for the MailPilot client.
type Config struct {
	// BaseURL is the root URL of the MailPilot server.
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// Token is an operator access token. Login sets it.
	Token string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 2 minute timeout is used, long enough
	// for a preview to be generated.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the MailPilot SDK client. It is safe for concurrent use.
type Client struct {
	cfg Config

	mu    sync.RWMutex
	token string
}

// NewClient creates a new MailPilot client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg, token: cfg.Token}
}

// SetToken replaces the access token used for later calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges the operator password for a token and keeps it.
func (c *Client) Login(ctx context.Context, password string) (*Token, error) {
	var tok Token
	if err := c.do(ctx, http.MethodPost, "/auth/token", map[string]string{"password": password}, &tok); err != nil {
		return nil, err
	}
	c.SetToken(tok.AccessToken)
	return &tok, nil
}

// Start launches a send job.
func (c *Client) Start(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.do(ctx, http.MethodPost, "/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the running job to stop. It reports whether a job was running.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	var resp struct {
		Stopped bool `json:"stopped"`
	}
	if err := c.do(ctx, http.MethodPost, "/stop", nil, &resp); err != nil {
		return false, err
	}
	return resp.Stopped, nil
}

// Status returns the current job state.
func (c *Client) Status(ctx context.Context) (*JobState, error) {
	var st JobState
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Reset forces the job state back to idle without stopping a worker.
func (c *Client) Reset(ctx context.Context) (*JobState, error) {
	var st JobState
	if err := c.do(ctx, http.MethodPost, "/reset", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Log returns every delivery record.
func (c *Client) Log(ctx context.Context) ([]DeliveryRecord, error) {
	var resp struct {
		Entries []DeliveryRecord `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/log", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// ClearLog erases the delivery log. It fails with a conflict while a job runs.
func (c *Client) ClearLog(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/log/clear", nil, nil)
}

// Senders lists the selectable sender accounts.
func (c *Client) Senders(ctx context.Context) ([]Sender, error) {
	var resp struct {
		Senders []Sender `json:"senders"`
	}
	if err := c.do(ctx, http.MethodGet, "/senders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Senders, nil
}

// Preview composes the message for r as sender would send it. A nil r
// previews the first loaded recipient.
func (c *Client) Preview(ctx context.Context, r Recipient, sender string) (*Preview, error) {
	var p Preview
	req := map[string]any{"sender": sender}
	if r != nil {
		req["recipient"] = r
	}
	if err := c.do(ctx, http.MethodPost, "/preview", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// do sends a JSON request to the MailPilot API and decodes the reply into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("mailpilot: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("mailpilot: failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailpilot: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mailpilot: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("mailpilot: failed to parse response: %w", err)
	}
	return nil
}
