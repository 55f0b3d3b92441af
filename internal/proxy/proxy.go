package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

var ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

// Load reads one proxy per line. Blank lines and # comments are skipped.
// Invalid entries are returned in bad instead of failing the whole file.
func Load(path string) (good []string, bad []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		n, err := Normalize(s)
		if err != nil {
			bad = append(bad, s)
			continue
		}
		good = append(good, n)
	}
	return good, bad, sc.Err()
}

// Normalize adds http:// to scheme-less entries and validates the scheme.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty proxy")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks4a", "socks5", "socks5h":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("proxy %q has no host", raw)
	}
	return s, nil
}

// Mask hides the password of a proxy URL for logs.
func Mask(raw string) string {
	if raw == "" {
		return "direct"
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Scheme + "://" + u.User.Username() + ":***@" + u.Host
}

// Rotator hands out proxies round-robin and keeps each account on its proxy until rotated.
type Rotator struct {
	mu         sync.Mutex
	list       []string
	next       int
	assigned   map[string]string
	transports map[string]*http.Transport
}

// NewRotator builds a rotator over already normalised proxies. An empty list means direct connections.
func NewRotator(list []string) *Rotator {
	return &Rotator{
		list:       append([]string(nil), list...),
		assigned:   map[string]string{},
		transports: map[string]*http.Transport{},
	}
}

func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

// Assign returns the account's proxy, picking the next one from the list on first use.
func (r *Rotator) Assign(account string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.assigned[account]; ok {
		return p
	}
	p := r.takeLocked()
	r.assigned[account] = p
	return p
}

// Pin forces an account onto a known proxy, e.g. one restored from the database.
func (r *Rotator) Pin(account, proxy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigned[account] = proxy
}

// Rotate moves the account to the next proxy in the list.
func (r *Rotator) Rotate(account string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.takeLocked()
	r.assigned[account] = p
	return p
}

// Current returns the assigned proxy without assigning one.
func (r *Rotator) Current(account string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assigned[account]
}

func (r *Rotator) takeLocked() string {
	if len(r.list) == 0 {
		return ""
	}
	p := r.list[r.next%len(r.list)]
	r.next = (r.next + 1) % len(r.list)
	return p
}

// Transport returns a RoundTripper that routes through the account's current proxy on every request,
// so rotation takes effect without rebuilding clients.
func (r *Rotator) Transport(account string) http.RoundTripper {
	return &accountTransport{rot: r, account: account}
}

// HTTPClient wraps Transport with a timeout.
func (r *Rotator) HTTPClient(account string, timeout time.Duration) *http.Client {
	return &http.Client{Transport: r.Transport(account), Timeout: timeout}
}

func (r *Rotator) transportFor(p string) (*http.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.transports[p]; ok {
		return t, nil
	}
	t, err := NewTransport(p)
	if err != nil {
		return nil, err
	}
	r.transports[p] = t
	return t, nil
}

type accountTransport struct {
	rot     *Rotator
	account string
}

func (a *accountTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t, err := a.rot.transportFor(a.rot.Current(a.account))
	if err != nil {
		return nil, err
	}
	return t.RoundTrip(req)
}

// NewTransport builds a transport for one proxy URL; "" yields a direct transport.
func NewTransport(p string) (*http.Transport, error) {
	base := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
		DialContext:         base.DialContext,
		ForceAttemptHTTP2:   true,
	}
	if p == "" {
		return t, nil
	}
	u, err := url.Parse(p)
	if err != nil {
		return nil, fmt.Errorf("parse proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		d, err := xproxy.FromURL(u, base)
		if err != nil {
			return nil, fmt.Errorf("socks dialer: %w", err)
		}
		if cd, ok := d.(xproxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	case "socks4", "socks4a":
		dial := socks.Dial(p)
		t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	return t, nil
}

// Check performs a GET against probeURL through client and expects a 2xx.
func Check(ctx context.Context, client *http.Client, probeURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("proxy check: status %d", resp.StatusCode)
	}
	return nil
}
