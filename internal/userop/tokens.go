package userop

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a testnet asset. Native TCENT uses the zero address.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

func (t Token) IsNative() bool { return t.Address == (common.Address{}) }

var (
	TCENT = Token{Symbol: "TCENT", Decimals: 18}
	WCENT = Token{Symbol: "WCENT", Address: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), Decimals: 18}
	SMPL  = Token{Symbol: "SMPL", Address: common.HexToAddress("0x0165878A594ca255338adfa4d48449f69242Eb8F"), Decimals: 18}
	BULL  = Token{Symbol: "BULL", Address: common.HexToAddress("0x8A791620dd6260079BF849Dc5567aDC3F2FdC318"), Decimals: 18}
	FLIP  = Token{Symbol: "FLIP", Address: common.HexToAddress("0xA51c1fc2f0D1a1b8494Ed1FE312d7C3a78Ed91C0"), Decimals: 18}
)

// Tradable tokens other than the native coin.
var ERC20Tokens = []Token{SMPL, BULL, FLIP}

// Transferable tokens, native first.
var TransferTokens = []Token{TCENT, SMPL, BULL, FLIP}

// Contracts deployed on the testnet.
var (
	SwapRouter  = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	EntryPoint  = common.HexToAddress("0x9b5d240EF1bc8B4930346599cDDFfBD7d7D56db9")
	RecoveryMap = common.HexToAddress("0x01e509511762ea0aa52763657D0b295517Bceb12")
	Paymaster   = common.HexToAddress("0xc11c6C51AAB2d88C38F39069E1B1d9e2BbA3e54b")
)

// TokenBySymbol resolves a ticker, case-insensitively.
func TokenBySymbol(sym string) (Token, error) {
	switch strings.ToUpper(strings.TrimSpace(sym)) {
	case "TCENT":
		return TCENT, nil
	case "WCENT":
		return WCENT, nil
	case "SMPL":
		return SMPL, nil
	case "BULL":
		return BULL, nil
	case "FLIP":
		return FLIP, nil
	}
	return Token{}, fmt.Errorf("unknown token %q", sym)
}
