package farm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/userop"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// swapDeadline is added to the current time for router deadlines.
const swapDeadline = 10 * time.Minute

func (wk *worker) run(ctx context.Context, action Action) error {
	counts := wk.f.Settings.ActionsCount
	contacts := counts.AddContacts.Int(wk.rng)
	transfers := counts.Transfers.Int(wk.rng)
	swaps := counts.Swaps.Int(wk.rng)
	bundles := counts.BundleActions.Int(wk.rng)
	between := wk.f.Settings.Settings.RandomPauseBetweenActions

	switch action {
	case ActionFaucet:
		wk.claimFaucet(ctx, false)
	case ActionContacts:
		wk.log.Infof("plan: %d contacts", contacts)
		return wk.addContacts(ctx, contacts)
	case ActionTransfers:
		wk.log.Infof("plan: %d transfers", transfers)
		return wk.transfers(ctx, transfers)
	case ActionSwaps:
		wk.log.Infof("plan: %d swap pairs", swaps)
		return wk.swaps(ctx, swaps)
	case ActionBundles:
		wk.log.Infof("plan: %d bundles", bundles)
		return wk.bundles(ctx, bundles)
	case ActionAll:
		wk.log.Infof("plan: %d contacts, %d transfers, %d swap pairs, %d bundles", contacts, transfers, swaps, bundles)
		if wk.nonce.Cmp(big.NewInt(1)) > 0 {
			wk.claimFaucet(ctx, false)
			if err := wk.pause(ctx, between, "contacts"); err != nil {
				return err
			}
		}
		steps := []struct {
			name string
			fn   func(context.Context, int) error
			n    int
		}{
			{"contacts", wk.addContacts, contacts},
			{"transfers", wk.transfers, transfers},
			{"swaps", wk.swaps, swaps},
			{"bundles", wk.bundles, bundles},
		}
		for i, s := range steps {
			if err := s.fn(ctx, s.n); err != nil {
				return err
			}
			if i < len(steps)-1 {
				if err := wk.pause(ctx, between, steps[i+1].name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (wk *worker) addContacts(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("Contact-%d", wk.f.now().Unix())
		addr := wallet.RandomAddress()
		if err := wk.conn.Remote.AddContact(ctx, name, addr); err != nil {
			wk.log.Errorf("contact %d/%d failed: %s", i+1, count, ClassifyError(err))
			wk.record(KindContact, store.StatusFailed, name+": "+ClassifyError(err), "")
		} else {
			wk.log.Infof("contact %d/%d added: %s", i+1, count, name)
			wk.record(KindContact, store.StatusSuccess, name, "")
		}
		if i < count-1 {
			if err := wk.pause(ctx, wk.f.Settings.Settings.RandomPauseBetweenActions, "next contact"); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// hasBalance reports whether the smart account holds at least amount of token.
func (wk *worker) hasBalance(ctx context.Context, token userop.Token, amount *big.Int) bool {
	bal, err := wk.conn.Chain.Balance(ctx, token.Address, wk.smart)
	if err != nil {
		wk.log.Warnf("%s balance unavailable: %s", token.Symbol, ClassifyError(err))
		return false
	}
	wk.log.Debugf("balance: %s %s", userop.FromWei(bal, token.Decimals), token.Symbol)
	return bal.Cmp(amount) >= 0
}

func (wk *worker) transfers(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		token := userop.TransferTokens[wk.rng.IntN(len(userop.TransferTokens))]
		r, _ := wk.f.Settings.Transfer.Amount(token.Symbol)
		amount := r.Amount(wk.rng)
		recipient := wallet.RandomAddress()
		detail := fmt.Sprintf("%g %s", amount, token.Symbol)

		wei, err := userop.ToWei(amount, token.Decimals)
		if err != nil {
			wk.record(KindTransfer, store.StatusFailed, detail+": "+err.Error(), "")
			continue
		}
		if !wk.hasBalance(ctx, token, wei) {
			wk.log.Warnf("transfer %d/%d: insufficient %s", i+1, count, token.Symbol)
			wk.record(KindTransfer, store.StatusFailed, "insufficient "+token.Symbol+" balance", "")
			continue
		}
		// Token gas is only used for native transfers.
		calls := []userop.Call{userop.TransferCall(token, recipient, wei)}
		wk.execute(ctx, KindTransfer, api.BadgeFirstTransfer, detail, calls, token.IsNative())
		if i < count-1 {
			if err := wk.pause(ctx, wk.f.Settings.Settings.PauseBetweenSwaps, "next transfer"); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// swaps runs count pairs of native to token and back. The reverse leg is skipped when the first fails.
func (wk *worker) swaps(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		to := userop.ERC20Tokens[wk.rng.IntN(len(userop.ERC20Tokens))]
		if wk.swap(ctx, userop.TCENT, to, wk.f.Settings.Swap.TCENT.Amount(wk.rng)) {
			if err := wk.pause(ctx, wk.f.Settings.Settings.RandomPauseBetweenActions, "reverse swap"); err != nil {
				return err
			}
			r, _ := wk.f.Settings.Swap.Amount(to.Symbol)
			wk.swap(ctx, to, userop.TCENT, r.Amount(wk.rng))
		}
		if i < count-1 {
			if err := wk.pause(ctx, wk.f.Settings.Settings.PauseBetweenSwaps, "next swap pair"); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (wk *worker) swap(ctx context.Context, from, to userop.Token, amount float64) bool {
	detail := fmt.Sprintf("%g %s -> %s", amount, from.Symbol, to.Symbol)
	wei, err := userop.ToWei(amount, from.Decimals)
	if err != nil {
		wk.record(KindSwap, store.StatusFailed, detail+": "+err.Error(), "")
		return false
	}
	if !wk.hasBalance(ctx, from, wei) {
		wk.log.Warnf("swap %s: insufficient %s", detail, from.Symbol)
		wk.record(KindSwap, store.StatusFailed, "insufficient "+from.Symbol+" balance", "")
		return false
	}
	route, err := wk.conn.Remote.SwapRoute(ctx, from.Address, to.Address)
	if err != nil {
		wk.log.Errorf("swap route %s: %s", detail, ClassifyError(err))
		wk.record(KindSwap, store.StatusFailed, "route: "+ClassifyError(err), "")
		return false
	}
	deadline := wk.f.now().Add(swapDeadline).Unix()
	calls, err := userop.SwapCalls(userop.SwapRouter, from, to, route, wei, wk.smart, deadline)
	if err != nil {
		wk.record(KindSwap, store.StatusFailed, detail+": "+err.Error(), "")
		return false
	}
	return wk.execute(ctx, KindSwap, api.BadgeFirstSwap, detail, calls, true)
}

// bundles swaps native into every tradable token in a single user operation.
func (wk *worker) bundles(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		wk.bundle(ctx)
		if i < count-1 {
			if err := wk.pause(ctx, wk.f.Settings.Settings.PauseBetweenSwaps, "next bundle"); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (wk *worker) bundle(ctx context.Context) bool {
	amount := wk.f.Settings.Bundle.ActionAmount.Amount(wk.rng)
	wei, err := userop.ToWei(amount, userop.TCENT.Decimals)
	if err != nil {
		wk.record(KindBundle, store.StatusFailed, err.Error(), "")
		return false
	}
	total := new(big.Int).Mul(wei, big.NewInt(int64(len(userop.ERC20Tokens))))
	if !wk.hasBalance(ctx, userop.TCENT, total) {
		wk.log.Warn("bundle: insufficient TCENT")
		wk.record(KindBundle, store.StatusFailed, "insufficient TCENT balance", "")
		return false
	}
	routes := make([][]common.Address, 0, len(userop.ERC20Tokens))
	for _, t := range userop.ERC20Tokens {
		route, err := wk.conn.Remote.SwapRoute(ctx, userop.TCENT.Address, t.Address)
		if err != nil {
			wk.log.Errorf("bundle route to %s: %s", t.Symbol, ClassifyError(err))
			wk.record(KindBundle, store.StatusFailed, "route: "+ClassifyError(err), "")
			return false
		}
		routes = append(routes, route)
	}
	deadline := wk.f.now().Add(swapDeadline).Unix()
	calls, err := userop.BundleCalls(userop.SwapRouter, routes, wei, wk.smart, deadline)
	if err != nil {
		wk.record(KindBundle, store.StatusFailed, err.Error(), "")
		return false
	}
	detail := fmt.Sprintf("%d swaps of %g TCENT", len(calls), amount)
	return wk.execute(ctx, KindBundle, api.BadgeMultipleActions, detail, calls, true)
}

// execute submits calls, records the outcome and claims the badge.
func (wk *worker) execute(ctx context.Context, kind, badge, detail string, calls []userop.Call, tokenGas bool) bool {
	hash, gas, err := wk.submit(ctx, calls, tokenGas)
	if err != nil {
		wk.log.Errorf("%s %s failed: %s", kind, detail, ClassifyError(err))
		wk.record(kind, store.StatusFailed, detail+": "+ClassifyError(err), "")
		return false
	}
	wk.log.Infof("%s ok: %s (gas: %s) %s%s", kind, detail, gas, wk.f.Settings.Network.ExplorerURL, hash.Hex())
	wk.record(kind, store.StatusSuccess, fmt.Sprintf("%s (gas: %s)", detail, gas), hash.Hex())
	if err := wk.conn.Remote.TransactionBadge(ctx, hash, badge); err != nil {
		wk.log.Debugf("badge %s: %s", badge, ClassifyError(err))
	}
	return true
}
