package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	token     string
	refreshes int
}

func (s *stubAuth) Token() string { return s.token }

func (s *stubAuth) Refresh(context.Context) error {
	s.refreshes++
	s.token = fmt.Sprintf("tok-%d", s.refreshes)
	return nil
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *stubAuth) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, PageURL: "https://testnet.incentiv.io", Attempts: 3, RetryDelay: time.Millisecond})
	auth := &stubAuth{token: "tok-0"}
	c.SetAuthenticator(auth)
	return c, auth
}

var wallet = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestChallengeAndLogin(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://testnet.incentiv.io", r.Header.Get("Origin"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/api/user/challenge":
			assert.Equal(t, "BROWSER_EXTENSION", r.URL.Query().Get("type"))
			assert.Equal(t, wallet.Hex(), r.URL.Query().Get("address"))
			fmt.Fprint(w, `{"result":{"challenge":"sign me"}}`)
		case "/api/user/login":
			var in LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "sign me", in.Challenge)
			assert.Equal(t, "0xsig", in.Signature)
			fmt.Fprint(w, `{"result":{"token":"jwt","address":"0x1111111111111111111111111111111111111111"}}`)
		}
	}))

	msg, err := c.Challenge(context.Background(), wallet, "BROWSER_EXTENSION")
	require.NoError(t, err)
	assert.Equal(t, "sign me", msg)

	res, err := c.Login(context.Background(), LoginRequest{Type: "BROWSER_EXTENSION", Challenge: msg, Signature: "0xsig"})
	require.NoError(t, err)
	assert.Equal(t, "jwt", res.Token)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), res.SmartAccount)
}

func TestUserRefreshesOn401(t *testing.T) {
	c, auth := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Token") != "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"result":{"xp":{"points":1250},"nextFaucetRequestTimestamp":1700000000000}}`)
	}))

	u, err := c.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.refreshes)
	assert.Equal(t, int64(1250), u.Points)
	assert.Equal(t, time.UnixMilli(1700000000000), u.NextFaucetAt)
	assert.False(t, u.FaucetAvailable(time.UnixMilli(1699999999000)))
	assert.True(t, u.FaucetAvailable(time.UnixMilli(1700000000000)))
	assert.True(t, UserInfo{}.FaucetAvailable(time.Now()))
}

func TestPersistent401(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.ClaimFaucet(context.Background(), "captcha")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "captcha", body["verificationToken"])
		fmt.Fprint(w, `{"result":{"amount":0.25}}`)
	}))

	amt, err := c.ClaimFaucet(context.Background(), "captcha")
	require.NoError(t, err)
	assert.Equal(t, 0.25, amt)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"faucet cooldown"}`)
	}))
	_, err := c.ClaimFaucet(context.Background(), "captcha")
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusBadRequest, herr.Status)
	assert.Equal(t, "faucet cooldown", herr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAddContactCode(t *testing.T) {
	var code atomic.Int32
	code.Store(201)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Contact-1", body["name"])
		fmt.Fprintf(w, `{"code":%d}`, code.Load())
	}))
	require.NoError(t, c.AddContact(context.Background(), "Contact-1", wallet))
	code.Store(200)
	assert.Error(t, c.AddContact(context.Background(), "Contact-1", wallet))
}

func TestSwapRoute(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/swap-route", r.URL.Path)
		if r.URL.Query().Get("to") == "0x0000000000000000000000000000000000000002" {
			fmt.Fprint(w, `{"result":[]}`)
			return
		}
		fmt.Fprint(w, `{"result":[{"route":["0x5FbDB2315678afecb367f032d93F642f64180aa3","0x0165878A594ca255338adfa4d48449f69242Eb8F"]}]}`)
	}))

	route, err := c.SwapRoute(context.Background(), common.Address{}, common.HexToAddress("0x0165878A594ca255338adfa4d48449f69242Eb8F"))
	require.NoError(t, err)
	require.Len(t, route, 2)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), route[0])

	_, err = c.SwapRoute(context.Background(), common.Address{}, common.HexToAddress("0x02"))
	assert.ErrorContains(t, err, "no route")
}

func TestSignupAlreadyRegistered(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in SignupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Username == "taken" {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"error":{"message":"User already exists"}}`)
			return
		}
		assert.Equal(t, "REF1", in.RefCode)
		assert.Equal(t, "turnstile", in.VerificationToken)
		fmt.Fprint(w, `{"result":{"address":"0x2222222222222222222222222222222222222222"}}`)
	}))

	sa, err := c.Signup(context.Background(), SignupRequest{Username: "bokafe", RefCode: "REF1", VerificationToken: "turnstile"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), sa)

	_, err = c.Signup(context.Background(), SignupRequest{Username: "taken"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestTransactionBadge(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, BadgeFirstSwap, body["badgeKey"])
		assert.Equal(t, common.HexToHash("0xabc").Hex(), body["txHash"])
		fmt.Fprint(w, `{"result":true}`)
	}))
	require.NoError(t, c.TransactionBadge(context.Background(), common.HexToHash("0xabc"), BadgeFirstSwap))
}

func TestTransactionBadgeWaitsForIndexing(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 6 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"transaction not found"}`)
			return
		}
		fmt.Fprint(w, `{"result":true}`)
	}))
	require.NoError(t, c.TransactionBadge(context.Background(), common.HexToHash("0xabc"), BadgeFirstTransfer))
	assert.EqualValues(t, 7, calls.Load())
}

func TestTransactionBadgeGivesUp(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"transaction not found"}`)
	}))
	err := c.TransactionBadge(context.Background(), common.HexToHash("0xabc"), BadgeFirstTransfer)
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "transaction not found", herr.Message)
	assert.EqualValues(t, BadgeAttempts, calls.Load())
}

func TestNextDelayIsDrawnPerRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	var draws int
	c := New(Config{
		BaseURL:  srv.URL,
		Attempts: 4,
		NextDelay: func() time.Duration {
			draws++
			return time.Duration(draws) * time.Millisecond
		},
	})
	_, err := c.Challenge(context.Background(), wallet, "BROWSER_EXTENSION")
	require.Error(t, err)
	assert.Equal(t, 3, draws)
}
