package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/incentiv-bot/internal/userop"
)

var sender = common.HexToAddress("0x1111111111111111111111111111111111111111")

type captured struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newServer(t *testing.T, fn func(c captured) string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c captured
		require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		require.Len(t, c.Params, 2)
		var ep common.Address
		require.NoError(t, json.Unmarshal(c.Params[1], &ep))
		assert.Equal(t, userop.EntryPoint, ep)
		fmt.Fprint(w, fn(c))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, userop.EntryPoint, nil)
	c.RetryDelay = time.Millisecond
	c.Attempts = 3
	return c
}

func TestEstimateAcceptsMixedQuantities(t *testing.T) {
	c := newServer(t, func(cp captured) string {
		assert.Equal(t, "eth_estimateUserOperationGas", cp.Method)
		var op map[string]any
		require.NoError(t, json.Unmarshal(cp.Params[0], &op))
		assert.Equal(t, "0x7", op["nonce"])
		assert.NotContains(t, op, "callGasLimit")
		return `{"jsonrpc":"2.0","id":1,"result":{"preVerificationGas":"0xc350","verificationGasLimit":100000,"callGasLimit":"200000"}}`
	})

	g, err := c.EstimateUserOperationGas(context.Background(), userop.NewForEstimate(sender, big.NewInt(7), []byte{1}))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), g.PreVerificationGas.Int64())
	assert.Equal(t, int64(100000), g.VerificationGasLimit.Int64())
	assert.Equal(t, int64(200000), g.CallGasLimit.Int64())
}

func TestSendReturnsHash(t *testing.T) {
	want := common.HexToHash("0x8f3a000000000000000000000000000000000000000000000000000000000001")
	c := newServer(t, func(cp captured) string {
		assert.Equal(t, "eth_sendUserOperation", cp.Method)
		return `{"jsonrpc":"2.0","id":1,"result":"` + want.Hex() + `"}`
	})
	h, err := c.SendUserOperation(context.Background(), userop.NewForEstimate(sender, big.NewInt(1), nil))
	require.NoError(t, err)
	assert.Equal(t, want, h)
}

func TestRPCErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newServer(t, func(captured) string {
		calls.Add(1)
		return `{"jsonrpc":"2.0","id":1,"error":{"code":-32500,"message":"AA21 didn't pay prefund"}}`
	})
	_, err := c.SendUserOperation(context.Background(), userop.NewForEstimate(sender, big.NewInt(1), nil))
	var rerr *RPCError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, -32500, rerr.Code)
	assert.Contains(t, rerr.Message, "AA21")
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransportErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "bad gateway")
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x0000000000000000000000000000000000000000000000000000000000000abc"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, userop.EntryPoint, nil)
	c.RetryDelay = time.Millisecond
	h, err := c.SendUserOperation(context.Background(), userop.NewForEstimate(sender, big.NewInt(1), nil))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), h)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuantity(t *testing.T) {
	var q Quantity
	require.NoError(t, json.Unmarshal([]byte(`"0x10"`), &q))
	assert.Equal(t, int64(16), q.Int64())
	require.NoError(t, json.Unmarshal([]byte(`12`), &q))
	assert.Equal(t, int64(12), q.Int64())
	assert.Error(t, json.Unmarshal([]byte(`"zz"`), &q))
}
