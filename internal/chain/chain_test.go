package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/incentiv-bot/internal/userop"
)

type fakeNode struct {
	code      map[common.Address][]byte
	native    *big.Int
	calls     int
	failFirst int
}

func (f *fakeNode) CodeAt(_ context.Context, a common.Address, _ *big.Int) ([]byte, error) {
	return f.code[a], nil
}

func (f *fakeNode) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.native, nil
}

func (f *fakeNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("429 Too Many Requests")
	}
	sel := msg.Data[:4]
	switch {
	case bytes.Equal(sel, userop.EncodeGetNonce()):
		return common.LeftPadBytes(big.NewInt(5).Bytes(), 32), nil
	case bytes.Equal(sel, userop.EncodeBalanceOf(common.Address{})[:4]):
		return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
	case bytes.Equal(sel, crypto.Keccak256([]byte("getUserOpHash((address,uint256,bytes,bytes,bytes32,uint256,bytes32,bytes,bytes))"))[:4]):
		return crypto.Keccak256(msg.Data), nil
	}
	return nil, errors.New("execution reverted")
}

var sa = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestIsDeployed(t *testing.T) {
	node := &fakeNode{code: map[common.Address][]byte{sa: {0x60, 0x80}}}
	r := NewReader(node, nil)

	ok, err := r.IsDeployed(context.Background(), sa)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsDeployed(context.Background(), common.HexToAddress("0x02"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountNonceRetriesRateLimit(t *testing.T) {
	node := &fakeNode{failFirst: 2}
	r := NewReader(node, NewLimiter(1000))
	n, err := r.AccountNonce(context.Background(), sa)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n.Int64())
	assert.Equal(t, 3, node.calls)
}

func TestBalance(t *testing.T) {
	node := &fakeNode{native: big.NewInt(7)}
	r := NewReader(node, nil)

	b, err := r.Balance(context.Background(), common.Address{}, sa)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Int64())

	b, err = r.Balance(context.Background(), userop.SMPL.Address, sa)
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.Int64())
}

func TestUserOpHash(t *testing.T) {
	op := userop.NewForEstimate(sa, big.NewInt(1), []byte{0x01})
	packed := op.Pack()

	data, err := PackUserOpHashCall(packed)
	require.NoError(t, err)
	want := crypto.Keccak256([]byte("getUserOpHash((address,uint256,bytes,bytes,bytes32,uint256,bytes32,bytes,bytes))"))[:4]
	assert.Equal(t, want, data[:4])

	r := NewReader(&fakeNode{}, nil)
	h, err := r.UserOpHash(context.Background(), userop.EntryPoint, packed)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(crypto.Keccak256(data)), h)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0))
	l := NewLimiter(0.5)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())
}
