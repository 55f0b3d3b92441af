package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Selectors used by the account, tokens and router.
var (
	selTransfer                 = common.FromHex("0xa9059cbb")
	selApprove                  = common.FromHex("0x095ea7b3")
	selBalanceOf                = common.FromHex("0x70a08231")
	selExecuteBatch             = common.FromHex("0x47e1da2a")
	selSwapExactETHForTokens    = common.FromHex("0x7ff36ab5")
	selSwapExactTokensForETH    = common.FromHex("0x18cbafe5")
	selSwapExactTokensForTokens = common.FromHex("0x38ed1739")
)

func sel(sig string) []byte {
	h := gethcrypto.Keccak256([]byte(sig))
	return h[:4]
}

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

// EncodeERC20Transfer builds transfer(to, amount) calldata.
func EncodeERC20Transfer(to common.Address, amount *big.Int) []byte {
	out := append([]byte{}, selTransfer...)
	out = append(out, word(to.Bytes())...)
	return append(out, word(amount.Bytes())...)
}

// EncodeERC20Approve builds approve(spender, amount) calldata.
func EncodeERC20Approve(spender common.Address, amount *big.Int) []byte {
	out := append([]byte{}, selApprove...)
	out = append(out, word(spender.Bytes())...)
	return append(out, word(amount.Bytes())...)
}

// EncodeBalanceOf builds balanceOf(owner) calldata.
func EncodeBalanceOf(owner common.Address) []byte {
	return append(append([]byte{}, selBalanceOf...), word(owner.Bytes())...)
}

// EncodeGetNonce builds getNonce() calldata for the smart account.
func EncodeGetNonce() []byte { return sel("getNonce()") }
