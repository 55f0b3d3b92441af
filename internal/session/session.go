// Package session keeps per-wallet bearer tokens alive across runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// DefaultTTL applies when a token carries no readable exp claim.
const DefaultTTL = 24 * time.Hour

// expirySkew treats tokens about to expire as already expired.
const expirySkew = time.Minute

// TokenStore is the persistence the manager needs.
type TokenStore interface {
	Account(address string) (*store.Account, error)
	SaveToken(address, token string, expiresAt time.Time) error
	ClearToken(address string) error
	UpdateAccount(address string, upd store.Account) error
}

// Remote is the part of the REST API used for login.
type Remote interface {
	Challenge(ctx context.Context, address common.Address, challengeType string) (string, error)
	Login(ctx context.Context, in api.LoginRequest) (api.LoginResult, error)
}

type cached struct {
	token string
	exp   time.Time
	smart common.Address
}

// Manager caches tokens by EOA address in memory, backed by an optional store.
type Manager struct {
	store TokenStore
	Now   func() time.Time
	Logf  func(string, ...any)

	mu     sync.Mutex
	tokens map[common.Address]cached
}

func NewManager(st TokenStore) *Manager {
	return &Manager{store: st, Now: time.Now, tokens: map[common.Address]cached{}}
}

func (m *Manager) logf(format string, args ...any) {
	if m.Logf != nil {
		m.Logf(format, args...)
	}
}

func (m *Manager) get(a common.Address) (cached, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.tokens[a]
	return c, ok && c.token != "" && c.exp.After(m.Now().Add(expirySkew))
}

func (m *Manager) put(a common.Address, c cached) {
	m.mu.Lock()
	m.tokens[a] = c
	m.mu.Unlock()
}

func (m *Manager) drop(a common.Address) {
	m.mu.Lock()
	delete(m.tokens, a)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.ClearToken(a.Hex()); err != nil {
			m.logf("clear token %s: %v", a.Hex(), err)
		}
	}
}

// fromStore loads a still-valid token together with its smart account.
func (m *Manager) fromStore(a common.Address) (cached, bool) {
	if m.store == nil {
		return cached{}, false
	}
	acc, err := m.store.Account(a.Hex())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logf("load token %s: %v", a.Hex(), err)
		}
		return cached{}, false
	}
	if acc.AccessToken == "" || acc.TokenExpiresAt == nil || !common.IsHexAddress(acc.SmartAccount) {
		return cached{}, false
	}
	if !acc.TokenExpiresAt.After(m.Now().Add(expirySkew)) {
		return cached{}, false
	}
	return cached{token: acc.AccessToken, exp: *acc.TokenExpiresAt, smart: common.HexToAddress(acc.SmartAccount)}, true
}

// TokenExpiry reads the exp claim without verifying the signature.
func TokenExpiry(token string, now time.Time) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return now.Add(DefaultTTL)
}

// Session binds one wallet to the API client it authenticates. It implements api.Authenticator.
type Session struct {
	m      *Manager
	w      *wallet.Wallet
	remote Remote

	// Attempts bounds fresh logins; OnRetry runs between them, typically to rotate the proxy.
	Attempts int
	OnRetry  func(attempt int, err error)

	loginMu sync.Mutex
}

func (m *Manager) Session(w *wallet.Wallet, remote Remote) *Session {
	return &Session{m: m, w: w, remote: remote, Attempts: 1}
}

// Token returns the cached bearer token, or "" before login.
func (s *Session) Token() string {
	c, _ := s.m.get(s.w.Address)
	return c.token
}

// SmartAccount returns the smart account learned at login.
func (s *Session) SmartAccount() common.Address {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.tokens[s.w.Address].smart
}

// Login reuses a valid cached token or performs challenge, sign and login.
func (s *Session) Login(ctx context.Context) (common.Address, error) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if c, ok := s.m.get(s.w.Address); ok {
		return c.smart, nil
	}
	if c, ok := s.m.fromStore(s.w.Address); ok {
		s.m.put(s.w.Address, c)
		s.m.logf("reusing stored token for %s", s.w.Address.Hex())
		return c.smart, nil
	}
	return s.fresh(ctx)
}

// Refresh discards the current token and logs in again.
func (s *Session) Refresh(ctx context.Context) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	s.m.drop(s.w.Address)
	_, err := s.fresh(ctx)
	return err
}

func (s *Session) fresh(ctx context.Context) (common.Address, error) {
	attempts := s.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		smart, err := s.loginOnce(ctx)
		if err == nil {
			return smart, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return common.Address{}, ctx.Err()
		}
		if attempt < attempts && s.OnRetry != nil {
			s.OnRetry(attempt, err)
			if ctx.Err() != nil {
				return common.Address{}, ctx.Err()
			}
		}
	}
	return common.Address{}, lastErr
}

func (s *Session) loginOnce(ctx context.Context) (common.Address, error) {
	addr := s.w.Address
	challenge, err := s.remote.Challenge(ctx, addr, s.w.ChallengeType())
	if err != nil {
		return common.Address{}, err
	}
	sig, err := s.w.SignText([]byte(challenge))
	if err != nil {
		return common.Address{}, fmt.Errorf("sign challenge: %w", err)
	}
	res, err := s.remote.Login(ctx, api.LoginRequest{
		Type:      s.w.ChallengeType(),
		Challenge: challenge,
		Signature: hexutil.Encode(sig),
	})
	if err != nil {
		return common.Address{}, err
	}
	if res.SmartAccount == (common.Address{}) {
		return common.Address{}, errors.New("login: no smart account in response")
	}
	c := cached{token: res.Token, exp: TokenExpiry(res.Token, s.m.Now()), smart: res.SmartAccount}
	s.m.put(addr, c)
	if s.m.store != nil {
		if err := s.m.store.SaveToken(addr.Hex(), c.token, c.exp); err != nil {
			s.m.logf("save token %s: %v", addr.Hex(), err)
		}
		if err := s.m.store.UpdateAccount(addr.Hex(), store.Account{SmartAccount: c.smart.Hex()}); err != nil {
			s.m.logf("save smart account %s: %v", addr.Hex(), err)
		}
	}
	return c.smart, nil
}
