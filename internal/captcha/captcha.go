// Package captcha solves Cloudflare Turnstile challenges through third-party services.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnsolvable = errors.New("captcha not solved")
	ErrNoKey      = errors.New("captcha api key is not set")
)

// Solver returns a Turnstile token for the given site.
type Solver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// Options tune polling; zero values take the provider defaults.
type Options struct {
	BaseURL      string
	HTTP         *http.Client
	PollInterval time.Duration
	MaxPolls     int
	Retries      int
	Logf         func(string, ...any)
}

func (o Options) withDefaults(base string) Options {
	if o.BaseURL == "" {
		o.BaseURL = base
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.HTTP == nil {
		o.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	if o.PollInterval == 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxPolls == 0 {
		o.MaxPolls = 30
	}
	if o.Retries == 0 {
		o.Retries = 5
	}
	return o
}

func (o Options) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// New selects a provider by name ("2captcha" or "solvium").
func New(provider, key string, opts Options) (Solver, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNoKey
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "2captcha":
		return NewTwoCaptcha(key, opts), nil
	case "solvium":
		return NewSolvium(key, opts), nil
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", provider)
	}
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

func get(ctx context.Context, hc *http.Client, url string, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return b, resp.StatusCode, err
}
