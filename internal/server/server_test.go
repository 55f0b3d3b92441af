package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/store"
)

func setup(t *testing.T) (http.Handler, *store.Store, *store.Account) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "srv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	acc, err := st.EnsureAccount(addr)
	require.NoError(t, err)
	require.NoError(t, st.SaveToken(addr, "secret-token", time.Now().Add(time.Hour)))
	for i := 0; i < 3; i++ {
		require.NoError(t, st.RecordAction(&store.ActionRecord{AccountID: acc.ID, Kind: "swap", Status: store.StatusSuccess}))
	}
	require.NoError(t, st.RecordAction(&store.ActionRecord{AccountID: acc.ID, Kind: "transfer", Status: store.StatusFailed}))

	m := metrics.New()
	m.Action("swap", store.StatusSuccess)
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return New(st, m, lg), st, acc
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h, _, _ := setup(t)
	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	h, _, _ := setup(t)
	rec := get(t, h, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum store.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, int64(1), sum.Accounts)
	assert.Equal(t, int64(4), sum.Actions)
	assert.Equal(t, int64(3), sum.ByKind["swap"].Success)
	assert.InDelta(t, 75.0, sum.SuccessRate, 0.01)
}

func TestAccounts(t *testing.T) {
	h, _, acc := setup(t)
	rec := get(t, h, "/accounts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), acc.Address)
	assert.NotContains(t, rec.Body.String(), "secret-token")
}

func TestAccountDetail(t *testing.T) {
	h, _, acc := setup(t)

	rec := get(t, h, "/accounts/"+strings.ToLower(acc.Address))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Account store.Account        `json:"account"`
		Actions []store.ActionRecord `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, acc.Address, body.Account.Address)
	assert.Len(t, body.Actions, 4)

	rec = get(t, h, "/accounts/"+acc.Address+"?kind=swap&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Actions, 2)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/accounts/0x00000000000000000000000000000000000000bb").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/accounts/nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/accounts/"+acc.Address+"?limit=-1").Code)
}

func TestMetrics(t *testing.T) {
	h, _, _ := setup(t)
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `incentiv_actions_total{kind="swap",status="success"} 1`)
}

func TestMetricsNotMountedWithoutCounters(t *testing.T) {
	_, st, _ := setup(t)
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	h := New(st, nil, lg)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/stats").Code)
}

func TestServeStopsOnCancel(t *testing.T) {
	h, _, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", h) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
