// Package api is a client for the Incentiv testnet REST API.
package api

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

	"github.com/tidwall/gjson"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAlreadyRegistered = errors.New("account already registered")
)

// HTTPError is a non-2xx response that was not retried away.
type HTTPError struct {
	Status  int
	Message string
	Body    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// Authenticator supplies the bearer token for authorised calls and renews it after a 401.
type Authenticator interface {
	Token() string
	Refresh(ctx context.Context) error
}

// Config configures a per-account client.
type Config struct {
	BaseURL    string
	PageURL    string
	HTTP       *http.Client
	UserAgent  string
	Attempts   int
	RetryDelay time.Duration
	// NextDelay, when set, is drawn before every retry instead of RetryDelay.
	NextDelay  func() time.Duration
	Logf       func(string, ...any)
}

// Client holds one wallet's view of the API: its headers, proxy-bound HTTP client and token source.
type Client struct {
	cfg  Config
	auth Authenticator
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.PageURL = strings.TrimRight(cfg.PageURL, "/")
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = userAgents[0]
	}
	return &Client{cfg: cfg}
}

// SetAuthenticator wires the token source used by authorised endpoints.
func (c *Client) SetAuthenticator(a Authenticator) { c.auth = a }

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Logf != nil {
		c.cfg.Logf(format, args...)
	}
}

type request struct {
	method      string
	path        string
	body        any
	authed      bool
	attempts    int
	// retryClient keeps retrying 4xx responses instead of returning them.
	retryClient bool
}

func (c *Client) setHeaders(h http.Header, authed bool) {
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", c.cfg.PageURL)
	h.Set("Referer", c.cfg.PageURL+"/")
	h.Set("User-Agent", c.cfg.UserAgent)
	if authed && c.auth != nil {
		tok := c.auth.Token()
		h.Set("Authorization", "Bearer "+tok)
		h.Set("Token", tok)
	}
}

func (c *Client) once(ctx context.Context, r request) ([]byte, int, error) {
	var body io.Reader
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.cfg.BaseURL+r.path, body)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req.Header, r.authed)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cfg.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}

// do runs the request with retries. A 401 on an authorised call refreshes the token before the next attempt.
// 4xx responses other than 401/408/429 are returned immediately as *HTTPError unless retryClient is set.
func (c *Client) do(ctx context.Context, r request) (gjson.Result, error) {
	attempts := r.attempts
	if attempts < 1 {
		attempts = c.cfg.Attempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		b, status, err := c.once(ctx, r)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusUnauthorized && r.authed:
			lastErr = ErrUnauthorized
			if c.auth == nil || attempt == attempts {
				return gjson.Result{}, ErrUnauthorized
			}
			c.logf("%s %s: 401, refreshing token", r.method, r.path)
			if rerr := c.auth.Refresh(ctx); rerr != nil {
				return gjson.Result{}, fmt.Errorf("%w: refresh: %v", ErrUnauthorized, rerr)
			}
			continue
		case status >= 200 && status < 300:
			return gjson.ParseBytes(b), nil
		default:
			herr := &HTTPError{Status: status, Body: string(b), Message: errorMessage(b)}
			if !r.retryClient && status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
				return gjson.Result{}, herr
			}
			lastErr = herr
		}
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		c.logf("%s %s attempt %d/%d failed: %v", r.method, r.path, attempt, attempts, lastErr)
		if attempt < attempts {
			if err := sleepCtx(ctx, c.retryDelay()); err != nil {
				return gjson.Result{}, err
			}
		}
	}
	return gjson.Result{}, lastErr
}

func (c *Client) retryDelay() time.Duration {
	if c.cfg.NextDelay != nil {
		return c.cfg.NextDelay()
	}
	return c.cfg.RetryDelay
}

func errorMessage(b []byte) string {
	res := gjson.ParseBytes(b)
	for _, p := range []string{"error.message", "message", "error"} {
		if v := res.Get(p); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
