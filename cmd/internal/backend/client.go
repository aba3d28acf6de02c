// Package backend is the REST client for the chat server: credential
// exchange, user directory, online snapshot and conversation history.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "pacschat/shared/contracts/chat/v1"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 10 * time.Second

	// MaxResponseBytes bounds every response body.
	MaxResponseBytes = 4 << 20
)

// CredentialSource supplies the bearer credential for each request.
// An empty credential sends no Authorization header.
type CredentialSource interface {
	Credential() string
}

// Client talks to the REST side of the chat server.
type Client struct {
	base  *url.URL
	http  *http.Client
	creds CredentialSource
	log   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCredentials attaches a bearer credential source.
func WithCredentials(src CredentialSource) Option {
	return func(c *Client) { c.creds = src }
}

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a Client for baseURL (scheme and host required).
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("backend: base url missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{
		base: u,
		http: &http.Client{Timeout: DefaultTimeout},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Authenticate exchanges a user id and password for a bearer credential.
func (c *Client) Authenticate(ctx context.Context, userID, password string) (string, error) {
	var out v1.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", v1.LoginRequest{UserID: userID, Password: password}, &out, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty accessToken", ErrMalformedResponse)
	}
	return out.AccessToken, nil
}

// ListPeers returns the full user directory, including the caller.
func (c *Client) ListPeers(ctx context.Context) ([]v1.User, error) {
	var out []v1.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOnlinePeers returns the current online snapshot.
func (c *Client) ListOnlinePeers(ctx context.Context) (v1.PresenceSnapshot, error) {
	var out v1.PresenceSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/chat/online-users", nil, &out, true); err != nil {
		return nil, err
	}
	if out == nil {
		out = v1.PresenceSnapshot{}
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// GetHistory returns the conversation between selfID and peerID, oldest first.
func (c *Client) GetHistory(ctx context.Context, selfID, peerID string) ([]v1.PrivateMessage, error) {
	p := "/api/chat/history/" + url.PathEscape(selfID) + "/" + url.PathEscape(peerID)
	var out []v1.PrivateMessage
	if err := c.do(ctx, http.MethodGet, p, nil, &out, true); err != nil {
		return nil, err
	}
	for i := range out {
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: history[%d]: %v", ErrMalformedResponse, i, err)
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	target := c.base.String() + path

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && c.creds != nil {
		if cred := c.creds.Credential(); cred != "" {
			req.Header.Set("Authorization", "Bearer "+cred)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("backend.request.fail", "method", method, "path", path, "err", err)
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("backend.request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"dur_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBytes))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("backend: read body: %w", err)
	}
	if len(raw) > MaxResponseBytes {
		return ErrResponseTooLarge
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformedResponse)
	}
	return nil
}
