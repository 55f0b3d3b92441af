package userop

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call is one inner call of an executeBatch.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

var (
	tAddress, _      = abi.NewType("address", "", nil)
	tAddressSlice, _ = abi.NewType("address[]", "", nil)
	tUint256, _      = abi.NewType("uint256", "", nil)
	tUint256Slice, _ = abi.NewType("uint256[]", "", nil)
	tBytesSlice, _   = abi.NewType("bytes[]", "", nil)

	executeBatchArgs = abi.Arguments{{Type: tAddressSlice}, {Type: tUint256Slice}, {Type: tBytesSlice}}
	// swapExactETHForTokens(uint256 amountOutMin, address[] path, address to, uint256 deadline)
	ethForTokensArgs = abi.Arguments{{Type: tUint256}, {Type: tAddressSlice}, {Type: tAddress}, {Type: tUint256}}
	// swapExactTokensFor{ETH,Tokens}(uint256 amountIn, uint256 amountOutMin, address[] path, address to, uint256 deadline)
	tokensForXArgs = abi.Arguments{{Type: tUint256}, {Type: tUint256}, {Type: tAddressSlice}, {Type: tAddress}, {Type: tUint256}}
)

// ExecuteBatch encodes executeBatch(address[],uint256[],bytes[]) over calls.
func ExecuteBatch(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, errors.New("execute batch: no calls")
	}
	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, c := range calls {
		dest[i] = c.To
		values[i] = c.Value
		if values[i] == nil {
			values[i] = new(big.Int)
		}
		data[i] = c.Data
		if data[i] == nil {
			data[i] = []byte{}
		}
	}
	packed, err := executeBatchArgs.Pack(dest, values, data)
	if err != nil {
		return nil, fmt.Errorf("execute batch: %w", err)
	}
	return append(append([]byte{}, selExecuteBatch...), packed...), nil
}

// DecodeExecuteBatch reverses ExecuteBatch.
func DecodeExecuteBatch(calldata []byte) ([]Call, error) {
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], selExecuteBatch) {
		return nil, errors.New("not an executeBatch call")
	}
	vals, err := executeBatchArgs.Unpack(calldata[4:])
	if err != nil {
		return nil, err
	}
	dest := vals[0].([]common.Address)
	values := vals[1].([]*big.Int)
	data := vals[2].([][]byte)
	if len(dest) != len(values) || len(dest) != len(data) {
		return nil, errors.New("executeBatch arrays differ in length")
	}
	out := make([]Call, len(dest))
	for i := range dest {
		out[i] = Call{To: dest[i], Value: values[i], Data: data[i]}
	}
	return out, nil
}

// TransferCall moves amount of token to recipient.
func TransferCall(token Token, recipient common.Address, amount *big.Int) Call {
	if token.IsNative() {
		return Call{To: recipient, Value: amount, Data: []byte{}}
	}
	return Call{To: token.Address, Value: new(big.Int), Data: EncodeERC20Transfer(recipient, amount)}
}

// SwapKind is derived from which side of the pair is native.
type SwapKind int

const (
	NativeToERC20 SwapKind = iota
	ERC20ToNative
	ERC20ToERC20
)

func (k SwapKind) String() string {
	switch k {
	case NativeToERC20:
		return "native to erc20"
	case ERC20ToNative:
		return "erc20 to native"
	default:
		return "erc20 to erc20"
	}
}

func KindOf(from, to Token) SwapKind {
	switch {
	case from.IsNative():
		return NativeToERC20
	case to.IsNative():
		return ERC20ToNative
	default:
		return ERC20ToERC20
	}
}

// SwapCalls builds the router calls for swapping amount of from along route, paying out to recipient.
func SwapCalls(router common.Address, from, to Token, route []common.Address, amount *big.Int, recipient common.Address, deadline int64) ([]Call, error) {
	if len(route) < 2 {
		return nil, errors.New("swap: route needs at least two hops")
	}
	dl := big.NewInt(deadline)
	zero := new(big.Int)
	switch KindOf(from, to) {
	case NativeToERC20:
		args, err := ethForTokensArgs.Pack(zero, route, recipient, dl)
		if err != nil {
			return nil, err
		}
		data := append(append([]byte{}, selSwapExactETHForTokens...), args...)
		return []Call{{To: router, Value: amount, Data: data}}, nil
	case ERC20ToNative, ERC20ToERC20:
		args, err := tokensForXArgs.Pack(amount, zero, route, recipient, dl)
		if err != nil {
			return nil, err
		}
		s := selSwapExactTokensForETH
		if !to.IsNative() {
			s = selSwapExactTokensForTokens
		}
		data := append(append([]byte{}, s...), args...)
		return []Call{
			{To: from.Address, Value: new(big.Int), Data: EncodeERC20Approve(router, amount)},
			{To: router, Value: new(big.Int), Data: data},
		}, nil
	}
	return nil, fmt.Errorf("swap: unsupported pair %s/%s", from.Symbol, to.Symbol)
}

// BundleCalls swaps amount of the native coin along each route in one batch.
func BundleCalls(router common.Address, routes [][]common.Address, amount *big.Int, recipient common.Address, deadline int64) ([]Call, error) {
	if len(routes) == 0 {
		return nil, errors.New("bundle: no routes")
	}
	var out []Call
	for _, r := range routes {
		if len(r) < 2 {
			return nil, errors.New("bundle: route needs at least two hops")
		}
		cs, err := SwapCalls(router, TCENT, Token{Symbol: "route", Address: r[len(r)-1]}, r, amount, recipient, deadline)
		if err != nil {
			return nil, fmt.Errorf("bundle: %w", err)
		}
		out = append(out, cs...)
	}
	return out, nil
}
