package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	smartAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestSelectorsMatchSignatures(t *testing.T) {
	assert.Equal(t, sel("transfer(address,uint256)"), selTransfer)
	assert.Equal(t, sel("approve(address,uint256)"), selApprove)
	assert.Equal(t, sel("balanceOf(address)"), selBalanceOf)
	assert.Equal(t, sel("swapExactETHForTokens(uint256,address[],address,uint256)"), selSwapExactETHForTokens)
	assert.Equal(t, sel("swapExactTokensForETH(uint256,uint256,address[],address,uint256)"), selSwapExactTokensForETH)
	assert.Equal(t, sel("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"), selSwapExactTokensForTokens)
}

func TestEncodeERC20Transfer(t *testing.T) {
	data := EncodeERC20Transfer(recipient, big.NewInt(1000))
	require.Len(t, data, 4+64)
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(data[:4]))
	assert.Equal(t, recipient.Bytes(), data[16:36])
	assert.Equal(t, int64(1000), new(big.Int).SetBytes(data[36:]).Int64())
}

func TestTransferCalls(t *testing.T) {
	amt := big.NewInt(5)
	native := TransferCall(TCENT, recipient, amt)
	assert.Equal(t, recipient, native.To)
	assert.Equal(t, amt, native.Value)
	assert.Empty(t, native.Data)

	erc := TransferCall(SMPL, recipient, amt)
	assert.Equal(t, SMPL.Address, erc.To)
	assert.Equal(t, int64(0), erc.Value.Int64())
	assert.Equal(t, EncodeERC20Transfer(recipient, amt), erc.Data)
}

func TestExecuteBatchRoundTrip(t *testing.T) {
	calls := []Call{
		TransferCall(TCENT, recipient, big.NewInt(7)),
		TransferCall(BULL, recipient, big.NewInt(9)),
	}
	data, err := ExecuteBatch(calls)
	require.NoError(t, err)
	assert.Equal(t, "47e1da2a", common.Bytes2Hex(data[:4]))

	got, err := DecodeExecuteBatch(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recipient, got[0].To)
	assert.Equal(t, int64(7), got[0].Value.Int64())
	assert.Empty(t, got[0].Data)
	assert.Equal(t, BULL.Address, got[1].To)
	assert.Equal(t, calls[1].Data, got[1].Data)

	_, err = ExecuteBatch(nil)
	assert.Error(t, err)
	_, err = DecodeExecuteBatch([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestSwapCalls(t *testing.T) {
	route := []common.Address{WCENT.Address, SMPL.Address}
	amt := big.NewInt(1e15)

	buy, err := SwapCalls(SwapRouter, TCENT, SMPL, route, amt, smartAccount, 1700000600)
	require.NoError(t, err)
	require.Len(t, buy, 1)
	assert.Equal(t, SwapRouter, buy[0].To)
	assert.Equal(t, amt, buy[0].Value)
	assert.Equal(t, selSwapExactETHForTokens, buy[0].Data[:4])
	vals, err := ethForTokensArgs.Unpack(buy[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, route, vals[1])
	assert.Equal(t, smartAccount, vals[2])
	assert.Equal(t, int64(1700000600), vals[3].(*big.Int).Int64())

	back := []common.Address{SMPL.Address, WCENT.Address}
	sell, err := SwapCalls(SwapRouter, SMPL, TCENT, back, amt, smartAccount, 1700000600)
	require.NoError(t, err)
	require.Len(t, sell, 2)
	assert.Equal(t, SMPL.Address, sell[0].To)
	assert.Equal(t, EncodeERC20Approve(SwapRouter, amt), sell[0].Data)
	assert.Equal(t, selSwapExactTokensForETH, sell[1].Data[:4])
	vals, err = tokensForXArgs.Unpack(sell[1].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, amt, vals[0])

	cross, err := SwapCalls(SwapRouter, SMPL, FLIP, []common.Address{SMPL.Address, FLIP.Address}, amt, smartAccount, 1)
	require.NoError(t, err)
	assert.Equal(t, selSwapExactTokensForTokens, cross[1].Data[:4])
	assert.Equal(t, ERC20ToERC20, KindOf(SMPL, FLIP))

	_, err = SwapCalls(SwapRouter, TCENT, SMPL, route[:1], amt, smartAccount, 1)
	assert.Error(t, err)
}

func TestBundleCalls(t *testing.T) {
	routes := [][]common.Address{
		{WCENT.Address, SMPL.Address},
		{WCENT.Address, BULL.Address},
		{WCENT.Address, FLIP.Address},
	}
	calls, err := BundleCalls(SwapRouter, routes, big.NewInt(3), smartAccount, 10)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	for _, c := range calls {
		assert.Equal(t, SwapRouter, c.To)
		assert.Equal(t, int64(3), c.Value.Int64())
		assert.Equal(t, selSwapExactETHForTokens, c.Data[:4])
	}

	_, err = BundleCalls(SwapRouter, [][]common.Address{{}}, big.NewInt(3), smartAccount, 10)
	assert.Error(t, err)
}

func TestPackGasFields(t *testing.T) {
	p := PackAccountGasLimits(big.NewInt(0x0102), big.NewInt(0x0304))
	assert.Equal(t, byte(0x01), p[14])
	assert.Equal(t, byte(0x02), p[15])
	assert.Equal(t, byte(0x03), p[30])
	assert.Equal(t, byte(0x04), p[31])

	f := PackGasFees(DefaultFee, DefaultFee)
	assert.Equal(t, DefaultFee, new(big.Int).SetBytes(f[:16]))
	assert.Equal(t, DefaultFee, new(big.Int).SetBytes(f[16:]))
}

type fixedSigner struct{ sig []byte }

func (f fixedSigner) SignHash(common.Hash) ([]byte, error) { return f.sig, nil }

func TestOperationLifecycle(t *testing.T) {
	op := NewForEstimate(smartAccount, big.NewInt(3), []byte{0xde, 0xad})
	assert.Equal(t, DummySignature, []byte(op.Signature))

	raw, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"0x1111111111111111111111111111111111111111","nonce":"0x3","callData":"0xdead","signature":"`+hexutil.Encode(DummySignature)+`"}`, string(raw))

	require.NoError(t, op.ApplyGas(GasEstimate{
		PreVerificationGas:   big.NewInt(50000),
		VerificationGasLimit: big.NewInt(100000),
		CallGasLimit:         big.NewInt(200000),
	}))
	packed := op.Pack()
	assert.Equal(t, PackAccountGasLimits(big.NewInt(100000), big.NewInt(200000)), packed.AccountGasLimits)
	assert.Equal(t, PackGasFees(DefaultFee, DefaultFee), packed.GasFees)
	assert.Empty(t, packed.PaymasterAndData)
	assert.Equal(t, int64(3), packed.Nonce.Int64())

	op.WithPaymaster(Paymaster)
	assert.Equal(t, int64(65000), op.PreVerificationGas.ToInt().Int64())
	assert.Equal(t, int64(130000), op.VerificationGasLimit.ToInt().Int64())
	assert.Equal(t, int64(260000), op.CallGasLimit.ToInt().Int64())
	assert.Equal(t, Paymaster.Bytes(), op.Pack().PaymasterAndData)

	raw, err = json.Marshal(op)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "0xf4240", m["paymasterVerificationGasLimit"])
	assert.Equal(t, "0xf4240", m["paymasterPostOpGasLimit"])
	assert.Equal(t, "0x", m["paymasterData"])

	require.NoError(t, op.Sign(fixedSigner{sig: []byte{0xaa, 0xbb}}, common.Hash{}))
	assert.Equal(t, []byte{0, 0, 1, 0xaa, 0xbb}, []byte(op.Signature))

	assert.Error(t, (&UserOperation{}).ApplyGas(GasEstimate{}))
}

func TestUnits(t *testing.T) {
	w, err := ToWei(0.001234, 18)
	require.NoError(t, err)
	assert.Equal(t, "1234000000000000", w.String())

	w, err = ToWei(2, 18)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", w.String())

	_, err = ToWei(-1, 18)
	assert.Error(t, err)

	assert.Equal(t, "0.001234", FromWei(big.NewInt(1234000000000000), 18))
	assert.InDelta(t, 0.01, WeiToFloat(big.NewInt(1e16), 18), 1e-12)
}

func TestTokenBySymbol(t *testing.T) {
	tok, err := TokenBySymbol(" smpl ")
	require.NoError(t, err)
	assert.Equal(t, SMPL, tok)
	assert.True(t, TCENT.IsNative())
	_, err = TokenBySymbol("DOGE")
	assert.Error(t, err)
}
