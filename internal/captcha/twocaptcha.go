package captcha

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// TwoCaptcha talks to the classic in.php/res.php API.
type TwoCaptcha struct {
	key  string
	opts Options
}

func NewTwoCaptcha(key string, opts Options) *TwoCaptcha {
	return &TwoCaptcha{key: key, opts: opts.withDefaults("http://2captcha.com")}
}

func (c *TwoCaptcha) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	var lastErr error = ErrUnsolvable
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		token, err := c.solveOnce(ctx, siteKey, pageURL)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.opts.logf("2captcha attempt %d/%d: %v", attempt, c.opts.Retries, err)
		if attempt < c.opts.Retries {
			if err := sleepCtx(ctx, c.opts.PollInterval); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnsolvable, lastErr)
}

func (c *TwoCaptcha) solveOnce(ctx context.Context, siteKey, pageURL string) (string, error) {
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("method", "turnstile")
	q.Set("sitekey", siteKey)
	q.Set("pageurl", pageURL)
	body, status, err := get(ctx, c.opts.HTTP, c.opts.BaseURL+"/in.php?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fmt.Errorf("in.php status %d", status)
	}
	res := strings.TrimSpace(string(body))
	if !strings.HasPrefix(res, "OK|") {
		return "", fmt.Errorf("in.php: %s", res)
	}
	id := strings.TrimPrefix(res, "OK|")
	c.opts.logf("2captcha request id %s", id)

	rq := url.Values{}
	rq.Set("key", c.key)
	rq.Set("action", "get")
	rq.Set("id", id)
	for poll := 0; poll < c.opts.MaxPolls; poll++ {
		if err := sleepCtx(ctx, c.opts.PollInterval); err != nil {
			return "", err
		}
		body, status, err := get(ctx, c.opts.HTTP, c.opts.BaseURL+"/res.php?"+rq.Encode(), nil)
		if err != nil {
			return "", err
		}
		if status >= 400 {
			return "", fmt.Errorf("res.php status %d", status)
		}
		res := strings.TrimSpace(string(body))
		switch {
		case strings.HasPrefix(res, "OK|"):
			return strings.TrimPrefix(res, "OK|"), nil
		case res == "CAPCHA_NOT_READY":
			continue
		default:
			return "", fmt.Errorf("res.php: %s", res)
		}
	}
	return "", fmt.Errorf("no result after %d polls", c.opts.MaxPolls)
}
