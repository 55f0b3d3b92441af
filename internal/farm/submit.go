package farm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/incentiv-bot/internal/userop"
)

// gasToken picks the first configured token with at least MIN_TOKEN_BALANCE, shuffled when requested.
// ok is false when the native coin should pay.
func (wk *worker) gasToken(ctx context.Context) (userop.Token, bool) {
	ug := wk.f.Settings.UnifiedTokenGas
	if !ug.Enabled || len(ug.GasTokens) == 0 {
		return userop.Token{}, false
	}
	symbols := append([]string(nil), ug.GasTokens...)
	if ug.RandomizeToken {
		wk.rng.Shuffle(len(symbols), func(i, j int) { symbols[i], symbols[j] = symbols[j], symbols[i] })
	}
	for _, sym := range symbols {
		t, err := userop.TokenBySymbol(sym)
		if err != nil || t.IsNative() {
			continue
		}
		bal, err := wk.conn.Chain.Balance(ctx, t.Address, wk.smart)
		if err != nil {
			wk.log.Debugf("gas token %s: %s", sym, ClassifyError(err))
			continue
		}
		if have := userop.WeiToFloat(bal, t.Decimals); have >= ug.MinTokenBalance {
			wk.log.Debugf("paying gas with %s (%.4f)", sym, have)
			return t, true
		}
	}
	wk.log.Debug("no gas token above minimum, paying in TCENT")
	return userop.Token{}, false
}

// submit estimates, signs and sends one user operation wrapping calls, then advances the local nonce.
// gas names the asset that paid for it.
func (wk *worker) submit(ctx context.Context, calls []userop.Call, tokenGas bool) (common.Hash, string, error) {
	start := time.Now()
	callData, err := userop.ExecuteBatch(calls)
	if err != nil {
		return common.Hash{}, "", err
	}
	op := userop.NewForEstimate(wk.smart, wk.nonce, callData)
	est, err := wk.conn.Bundler.EstimateUserOperationGas(ctx, op)
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("estimate: %w", err)
	}
	if err := op.ApplyGas(est); err != nil {
		return common.Hash{}, "", err
	}

	gas := userop.TCENT.Symbol
	if tokenGas {
		if t, ok := wk.gasToken(ctx); ok {
			op.WithPaymaster(userop.Paymaster)
			gas = t.Symbol
		}
	}

	hash, err := wk.conn.Chain.UserOpHash(ctx, userop.EntryPoint, op.Pack())
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("user op hash: %w", err)
	}
	if err := op.Sign(wk.w, hash); err != nil {
		return common.Hash{}, "", fmt.Errorf("sign: %w", err)
	}
	opHash, err := wk.conn.Bundler.SendUserOperation(ctx, op)
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("send: %w", err)
	}
	wk.nonce = new(big.Int).Add(wk.nonce, big.NewInt(1))
	wk.f.Metrics.ObserveSubmit(time.Since(start))
	return opHash, gas, nil
}
