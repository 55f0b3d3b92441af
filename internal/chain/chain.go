// Package chain reads smart-account state from the testnet node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/ligun0805/incentiv-bot/internal/userop"
)

const entryPointABI = `[{"type":"function","name":"getUserOpHash","stateMutability":"view",
 "inputs":[{"name":"userOp","type":"tuple","components":[
  {"name":"sender","type":"address"},
  {"name":"nonce","type":"uint256"},
  {"name":"initCode","type":"bytes"},
  {"name":"callData","type":"bytes"},
  {"name":"accountGasLimits","type":"bytes32"},
  {"name":"preVerificationGas","type":"uint256"},
  {"name":"gasFees","type":"bytes32"},
  {"name":"paymasterAndData","type":"bytes"},
  {"name":"signature","type":"bytes"}]}],
 "outputs":[{"name":"","type":"bytes32"}]}]`

var entryPoint abi.ABI

func init() {
	var err error
	if entryPoint, err = abi.JSON(strings.NewReader(entryPointABI)); err != nil {
		panic(err)
	}
}

// Caller is the subset of ethclient used here.
type Caller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader wraps a node connection with a shared rate limiter.
type Reader struct {
	ec      Caller
	limiter *rate.Limiter
	Logf    func(string, ...any)
	closeFn func()
}

// Dial connects to rpcURL through hc, typically a proxied client. rps <= 0 disables limiting.
func Dial(rpcURL string, hc *http.Client, limiter *rate.Limiter) (*Reader, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rc, err := rpc.DialHTTPWithClient(rpcURL, hc)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	ec := ethclient.NewClient(rc)
	return &Reader{ec: ec, limiter: limiter, closeFn: ec.Close}, nil
}

// NewReader wraps an existing caller.
func NewReader(ec Caller, limiter *rate.Limiter) *Reader {
	return &Reader{ec: ec, limiter: limiter}
}

// NewLimiter returns a limiter for rps requests per second shared across workers.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (r *Reader) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

func (r *Reader) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

func (r *Reader) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429")
}

// call performs eth_call with small exponential backoff.
func (r *Reader) call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		ret, err := r.ec.CallContract(ctx, msg, nil)
		if err == nil {
			return ret, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			r.logf("eth_call to %s attempt %d: %v", msg.To.Hex(), attempt, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if isRateLimitError(err) {
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

// IsDeployed reports whether addr has contract code.
func (r *Reader) IsDeployed(ctx context.Context, addr common.Address) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	code, err := r.ec.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// AccountNonce calls getNonce() on the smart account.
func (r *Reader) AccountNonce(ctx context.Context, smartAccount common.Address) (*big.Int, error) {
	ret, err := r.call(ctx, ethereum.CallMsg{To: &smartAccount, Data: userop.EncodeGetNonce()})
	if err != nil {
		return nil, fmt.Errorf("getNonce: %w", err)
	}
	if len(ret) < 32 {
		return nil, errors.New("getNonce: short return data")
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// Balance returns owner's balance of token; the zero token address means the native coin.
func (r *Reader) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}
		b, err := r.ec.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		return b, nil
	}
	ret, err := r.call(ctx, ethereum.CallMsg{To: &token, Data: userop.EncodeBalanceOf(owner)})
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	if len(ret) < 32 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

// PackUserOpHashCall encodes getUserOpHash(op).
func PackUserOpHashCall(op userop.PackedUserOperation) ([]byte, error) {
	return entryPoint.Pack("getUserOpHash", op)
}

// UserOpHash asks the EntryPoint for the hash the account must sign.
func (r *Reader) UserOpHash(ctx context.Context, ep common.Address, op userop.PackedUserOperation) (common.Hash, error) {
	data, err := PackUserOpHashCall(op)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack getUserOpHash: %w", err)
	}
	ret, err := r.call(ctx, ethereum.CallMsg{To: &ep, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("getUserOpHash: %w", err)
	}
	if len(ret) < 32 {
		return common.Hash{}, errors.New("getUserOpHash: short return data")
	}
	return common.BytesToHash(ret[:32]), nil
}
