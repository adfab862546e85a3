// Package backend is a thin client for the auth endpoints of the service
// under test. The service itself is a black box; only the two calls the
// harness needs are modelled.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the backend API base.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New returns a Client for the given API origin.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Credentials are the password-login inputs.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Authorize starts a login transaction and returns the opaque state that
// correlates the browser-side request with the password-login call.
func (c *Client) Authorize(ctx context.Context, returnTo string) (string, error) {
	return c.authorize(ctx, http.MethodPost, returnTo)
}

// ReauthorizeState re-derives a fresh state when the one embedded in a
// captured URL was lost to truncation.
func (c *Client) ReauthorizeState(ctx context.Context, returnTo string) (string, error) {
	return c.authorize(ctx, http.MethodGet, returnTo)
}

func (c *Client) authorize(ctx context.Context, method, returnTo string) (string, error) {
	u := fmt.Sprintf("%s/api/auth/authorize?return_to=%s", c.baseURL, url.QueryEscape(returnTo))
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return "", fmt.Errorf("authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("authorize: unexpected status %d: %s", resp.StatusCode, snippet(resp.Body))
	}

	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("authorize: decode response: %w", err)
	}
	if body.State == "" {
		return "", fmt.Errorf("authorize: response carries no state")
	}

	c.logger.Debug("authorize succeeded", "method", method, "state_len", len(body.State))
	return body.State, nil
}

// PasswordLogin submits credentials for the given transaction state and
// returns the redirect URL the browser must follow to finish the login.
func (c *Client) PasswordLogin(ctx context.Context, state string, creds Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("password login: encode credentials: %w", err)
	}

	u := fmt.Sprintf("%s/api/auth/login/password/%s", c.baseURL, url.PathEscape(state))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("password login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("password login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("password login: unexpected status %d: %s", resp.StatusCode, snippet(resp.Body))
	}

	var body struct {
		Redirect string `json:"redirect"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("password login: decode response: %w", err)
	}
	if body.Redirect == "" {
		return "", fmt.Errorf("password login: response carries no redirect")
	}

	c.logger.Debug("password login succeeded", "redirect_prefix", prefix(body.Redirect, 60))
	return body.Redirect, nil
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
