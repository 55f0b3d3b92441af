package userop

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DummySignature lets the bundler simulate validation during gas estimation.
var DummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// SignatureModePrefix precedes the ECDSA signature in the account's signature field.
var SignatureModePrefix = []byte{0x00, 0x00, 0x01}

var (
	// DefaultFee is used for both maxFeePerGas and maxPriorityFeePerGas (1.5 gwei).
	DefaultFee = big.NewInt(1_500_000_000)

	PaymasterVerificationGas = big.NewInt(1_000_000)
	PaymasterPostOpGas       = big.NewInt(1_000_000)
)

// UserOperation is the unpacked v0.7 envelope sent to the bundler.
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit,omitempty"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit,omitempty"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas,omitempty"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// PackedUserOperation mirrors the EntryPoint v0.7 struct used by getUserOpHash.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// GasEstimate is the bundler's answer to eth_estimateUserOperationGas.
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

// NewForEstimate builds the minimal envelope used for gas estimation.
func NewForEstimate(sender common.Address, nonce *big.Int, callData []byte) *UserOperation {
	return &UserOperation{
		Sender:    sender,
		Nonce:     (*hexutil.Big)(new(big.Int).Set(nonce)),
		CallData:  callData,
		Signature: DummySignature,
	}
}

// ApplyGas fills gas limits and fees from an estimate.
func (op *UserOperation) ApplyGas(g GasEstimate) error {
	if g.PreVerificationGas == nil || g.VerificationGasLimit == nil || g.CallGasLimit == nil {
		return errors.New("incomplete gas estimate")
	}
	op.PreVerificationGas = (*hexutil.Big)(new(big.Int).Set(g.PreVerificationGas))
	op.VerificationGasLimit = (*hexutil.Big)(new(big.Int).Set(g.VerificationGasLimit))
	op.CallGasLimit = (*hexutil.Big)(new(big.Int).Set(g.CallGasLimit))
	op.MaxFeePerGas = (*hexutil.Big)(new(big.Int).Set(DefaultFee))
	op.MaxPriorityFeePerGas = (*hexutil.Big)(new(big.Int).Set(DefaultFee))
	return nil
}

// WithPaymaster routes gas payment through the token paymaster. Gas limits are raised by 30%.
func (op *UserOperation) WithPaymaster(paymaster common.Address) {
	bump := func(x *hexutil.Big) *hexutil.Big {
		if x == nil {
			return nil
		}
		v := new(big.Int).Mul(x.ToInt(), big.NewInt(13))
		return (*hexutil.Big)(v.Div(v, big.NewInt(10)))
	}
	op.PreVerificationGas = bump(op.PreVerificationGas)
	op.VerificationGasLimit = bump(op.VerificationGasLimit)
	op.CallGasLimit = bump(op.CallGasLimit)
	pm := paymaster
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = (*hexutil.Big)(new(big.Int).Set(PaymasterVerificationGas))
	op.PaymasterPostOpGasLimit = (*hexutil.Big)(new(big.Int).Set(PaymasterPostOpGas))
	empty := hexutil.Bytes{}
	op.PaymasterData = &empty
}

// Pack converts the envelope to the on-chain layout. The signature is left empty, as hashed.
func (op *UserOperation) Pack() PackedUserOperation {
	p := PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              bigOf(op.Nonce),
		InitCode:           []byte{},
		CallData:           append([]byte{}, op.CallData...),
		AccountGasLimits:   PackAccountGasLimits(bigOf(op.VerificationGasLimit), bigOf(op.CallGasLimit)),
		PreVerificationGas: bigOf(op.PreVerificationGas),
		GasFees:            PackGasFees(bigOf(op.MaxPriorityFeePerGas), bigOf(op.MaxFeePerGas)),
		PaymasterAndData:   []byte{},
		Signature:          []byte{},
	}
	if op.Paymaster != nil {
		p.PaymasterAndData = append(p.PaymasterAndData, op.Paymaster.Bytes()...)
		if op.PaymasterData != nil {
			p.PaymasterAndData = append(p.PaymasterAndData, *op.PaymasterData...)
		}
	}
	return p
}

func bigOf(x *hexutil.Big) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x.ToInt())
}

// PackAccountGasLimits puts verificationGasLimit in the high 16 bytes and callGasLimit in the low 16.
func PackAccountGasLimits(verification, call *big.Int) [32]byte {
	return pack128(verification, call)
}

// PackGasFees puts maxPriorityFeePerGas in the high 16 bytes and maxFeePerGas in the low 16.
func PackGasFees(priority, max *big.Int) [32]byte {
	return pack128(priority, max)
}

func pack128(hi, lo *big.Int) [32]byte {
	var out [32]byte
	if hi != nil {
		hi.FillBytes(out[:16])
	}
	if lo != nil {
		lo.FillBytes(out[16:])
	}
	return out
}

// Signer signs a 32-byte hash with the EIP-191 personal prefix.
type Signer interface {
	SignHash(h common.Hash) ([]byte, error)
}

// Sign sets op.Signature to the mode prefix followed by the personal signature over hash.
func (op *UserOperation) Sign(s Signer, hash common.Hash) error {
	sig, err := s.SignHash(hash)
	if err != nil {
		return err
	}
	op.Signature = append(append([]byte{}, SignatureModePrefix...), sig...)
	return nil
}
