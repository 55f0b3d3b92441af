package farm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/bundler"
	"github.com/ligun0805/incentiv-bot/internal/captcha"
)

// ClassifyError reduces a failure to a short reason suitable for logs and action records.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	var rerr *bundler.RPCError
	if errors.As(err, &rerr) {
		return fmt.Sprintf("bundler %d: %s", rerr.Code, truncate(rerr.Message, 120))
	}
	switch {
	case errors.Is(err, captcha.ErrUnsolvable):
		return "captcha not solved"
	case errors.Is(err, captcha.ErrNoKey):
		return "captcha api key missing"
	case errors.Is(err, api.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var herr *api.HTTPError
	if errors.As(err, &herr) {
		return truncate(herr.Error(), 120)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "client.timeout exceeded"), strings.Contains(s, "i/o timeout"), strings.Contains(s, "tls handshake timeout"):
		return "timeout"
	case strings.Contains(s, "too many requests"), strings.Contains(s, "429"), strings.Contains(s, "-32005"):
		return "rate limited"
	case strings.Contains(s, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(s, "proxyconnect"), strings.Contains(s, "socks connect"):
		return "proxy error"
	case strings.Contains(s, "dial tcp"), strings.Contains(s, "lookup "):
		return "network/DNS error"
	case strings.Contains(s, "connection reset"), strings.Contains(s, "broken pipe"), strings.Contains(s, "eof"):
		return "connection dropped"
	case strings.Contains(s, "execution reverted"):
		if r := extractRevertReason(s); r != "" {
			return "reverted: " + truncate(r, 100)
		}
		return "reverted"
	}
	return truncate(err.Error(), 160)
}

// extractRevertReason pulls the reason from a lowercase "execution reverted: <reason>".
func extractRevertReason(lowerErr string) string {
	const p = "execution reverted"
	i := strings.Index(lowerErr, p)
	if i < 0 {
		return ""
	}
	rest := strings.TrimSpace(lowerErr[i+len(p):])
	return strings.TrimSpace(strings.TrimPrefix(rest, ":"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
