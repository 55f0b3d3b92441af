package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Challenge fetches the message to sign for login or signup.
func (c *Client) Challenge(ctx context.Context, address common.Address, challengeType string) (string, error) {
	q := url.Values{}
	q.Set("type", challengeType)
	q.Set("address", address.Hex())
	res, err := c.do(ctx, request{method: http.MethodGet, path: "/api/user/challenge?" + q.Encode()})
	if err != nil {
		return "", fmt.Errorf("challenge: %w", err)
	}
	msg := res.Get("result.challenge").String()
	if msg == "" {
		return "", errors.New("challenge: empty message")
	}
	return msg, nil
}

type LoginRequest struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type LoginResult struct {
	Token        string
	SmartAccount common.Address
}

// Login exchanges a signed challenge for a bearer token.
func (c *Client) Login(ctx context.Context, in LoginRequest) (LoginResult, error) {
	res, err := c.do(ctx, request{method: http.MethodPost, path: "/api/user/login", body: in})
	if err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	tok := res.Get("result.token").String()
	if tok == "" {
		return LoginResult{}, errors.New("login: response missing token")
	}
	out := LoginResult{Token: tok}
	if a := res.Get("result.address").String(); common.IsHexAddress(a) {
		out.SmartAccount = common.HexToAddress(a)
	}
	return out, nil
}

type SignupRequest struct {
	Type              string `json:"type"`
	Challenge         string `json:"challenge"`
	Signature         string `json:"signature"`
	Username          string `json:"username"`
	VerificationToken string `json:"verificationToken"`
	RefCode           string `json:"refCode"`
}

var registeredHints = []string{
	"already registered",
	"already exists",
	"duplicate",
}

// Signup registers a wallet and returns its smart account.
func (c *Client) Signup(ctx context.Context, in SignupRequest) (common.Address, error) {
	res, err := c.do(ctx, request{method: http.MethodPost, path: "/api/user/signup", body: in})
	if err != nil {
		var herr *HTTPError
		if errors.As(err, &herr) && (herr.Status == http.StatusBadRequest || herr.Status == http.StatusConflict) {
			msg := strings.ToLower(herr.Message)
			for _, h := range registeredHints {
				if strings.Contains(msg, h) {
					return common.Address{}, fmt.Errorf("%w: %s", ErrAlreadyRegistered, herr.Message)
				}
			}
		}
		return common.Address{}, fmt.Errorf("signup: %w", err)
	}
	a := res.Get("result.address").String()
	if !common.IsHexAddress(a) {
		return common.Address{}, fmt.Errorf("signup: response missing smart account")
	}
	return common.HexToAddress(a), nil
}

type UserInfo struct {
	Points       int64
	NextFaucetAt time.Time
}

// FaucetAvailable reports whether a claim may be attempted at now.
func (u UserInfo) FaucetAvailable(now time.Time) bool {
	return u.NextFaucetAt.IsZero() || !u.NextFaucetAt.After(now)
}

// User returns the profile of the logged-in wallet.
func (c *Client) User(ctx context.Context) (UserInfo, error) {
	res, err := c.do(ctx, request{method: http.MethodGet, path: "/api/user", authed: true, attempts: 2 * c.cfg.Attempts})
	if err != nil {
		return UserInfo{}, fmt.Errorf("user: %w", err)
	}
	out := UserInfo{Points: res.Get("result.xp.points").Int()}
	if ms := res.Get("result.nextFaucetRequestTimestamp").Int(); ms > 0 {
		out.NextFaucetAt = time.UnixMilli(ms)
	}
	return out, nil
}

// ClaimFaucet requests testnet funds with a solved Turnstile token and returns the credited amount.
func (c *Client) ClaimFaucet(ctx context.Context, captchaToken string) (float64, error) {
	body := map[string]string{"verificationToken": captchaToken}
	res, err := c.do(ctx, request{method: http.MethodPost, path: "/api/user/faucet", body: body, authed: true})
	if err != nil {
		return 0, fmt.Errorf("faucet: %w", err)
	}
	return res.Get("result.amount").Float(), nil
}

// AddContact saves an address book entry. The API signals success with code 201 in the body.
func (c *Client) AddContact(ctx context.Context, name string, address common.Address) error {
	body := map[string]string{"name": name, "address": address.Hex()}
	res, err := c.do(ctx, request{method: http.MethodPost, path: "/api/user/contacts", body: body, authed: true})
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	if code := res.Get("code").Int(); code != 201 {
		return fmt.Errorf("add contact: unexpected code %d", code)
	}
	return nil
}

// SwapRoute returns the router path between two tokens.
func (c *Client) SwapRoute(ctx context.Context, from, to common.Address) ([]common.Address, error) {
	q := url.Values{}
	q.Set("from", from.Hex())
	q.Set("to", to.Hex())
	res, err := c.do(ctx, request{method: http.MethodGet, path: "/api/user/swap-route?" + q.Encode(), authed: true, attempts: 2 * c.cfg.Attempts})
	if err != nil {
		return nil, fmt.Errorf("swap route: %w", err)
	}
	var route []common.Address
	for _, v := range res.Get("result.0.route").Array() {
		if !common.IsHexAddress(v.String()) {
			return nil, fmt.Errorf("swap route: bad hop %q", v.String())
		}
		route = append(route, common.HexToAddress(v.String()))
	}
	if len(route) < 2 {
		return nil, errors.New("swap route: no route")
	}
	return route, nil
}

// Badge keys awarded for on-chain activity.
const (
	BadgeFirstTransfer   = "FIRST_TRANSFER"
	BadgeFirstSwap       = "FIRST_SWAP"
	BadgeMultipleActions = "MULTIPLE_ACTIONS"
)

// BadgeAttempts bounds TransactionBadge retries. The backend answers 4xx until it has indexed the hash.
const BadgeAttempts = 50

// TransactionBadge reports a user operation for badge credit.
func (c *Client) TransactionBadge(ctx context.Context, txHash common.Hash, badgeKey string) error {
	body := map[string]string{"txHash": txHash.Hex(), "badgeKey": badgeKey}
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/user/transaction-badge",
		body:        body,
		authed:      true,
		attempts:    BadgeAttempts,
		retryClient: true,
	})
	if err != nil {
		return fmt.Errorf("transaction badge: %w", err)
	}
	return nil
}
