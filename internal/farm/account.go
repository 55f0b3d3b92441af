package farm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/userop"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

var (
	errLoginFailed  = errors.New("login failed")
	errNotDeployed  = errors.New("smart account could not be deployed")
	lowNativeWei, _ = userop.ToWei(0.01, 18)
)

// worker holds the state of one account for the duration of a run.
type worker struct {
	f     *Farmer
	runID string
	log   *logrus.Entry
	rng   *rand.Rand
	w     *wallet.Wallet
	acc   *store.Account
	conn  *Conn
	smart common.Address
	nonce *big.Int

	nextFaucet time.Time
}

func (f *Farmer) processAccount(ctx context.Context, runID string, action Action, idx, total int, e wallet.Entry) error {
	w, err := e.Wallet()
	if err != nil {
		return fmt.Errorf("line %d: %w", e.Line, err)
	}
	rng := newRand()
	log := logging.ForAccount(f.Log, idx, total, w.Address.Hex())

	if err := sleepCtx(ctx, f.Settings.Settings.RandomInitializationPause.Duration(rng)); err != nil {
		return err
	}
	acc, err := f.Store.EnsureAccount(w.Address.Hex())
	if err != nil {
		return err
	}
	conn, err := f.Connect.Connect(ctx, w)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if conn.Close != nil {
		defer conn.Close()
	}
	if conn.Proxy != "" {
		log.Infof("using proxy %s", proxy.Mask(conn.Proxy))
		if err := f.Store.SetProxy(acc.Address, conn.Proxy); err != nil {
			log.Warnf("save proxy: %v", err)
		}
	}

	wk := &worker{f: f, runID: runID, log: log, rng: rng, w: w, acc: acc, conn: conn}
	if err := wk.login(ctx); err != nil {
		return err
	}
	wk.refreshUser(ctx)
	if err := wk.prepare(ctx); err != nil {
		return err
	}
	return wk.run(ctx, action)
}

// login tries once more on a fresh proxy before giving up on the account.
func (wk *worker) login(ctx context.Context) error {
	wk.log.Info("logging in")
	smart, err := wk.conn.Session.Login(ctx)
	if err != nil {
		wk.log.Warnf("login failed: %s; retrying once", ClassifyError(err))
		if err := sleepCtx(ctx, wk.f.Settings.Settings.PauseBetweenAttempts.Duration(wk.rng)); err != nil {
			return err
		}
		if wk.conn.Rotate != nil {
			if p := wk.conn.Rotate(); p != "" {
				wk.log.Infof("rotated proxy to %s", proxy.Mask(p))
				_ = wk.f.Store.SetProxy(wk.acc.Address, p)
			}
		}
		if smart, err = wk.conn.Session.Login(ctx); err != nil {
			wk.record(KindLogin, store.StatusFailed, ClassifyError(err), "")
			return fmt.Errorf("%w: %w", errLoginFailed, err)
		}
	}
	wk.smart = smart
	wk.log = wk.log.WithField("sa", logging.ShortAddr(smart.Hex()))
	wk.log.Info("logged in")
	return nil
}

func (wk *worker) refreshUser(ctx context.Context) {
	u, err := wk.conn.Remote.User(ctx)
	if err != nil {
		wk.log.Warnf("user data unavailable: %s", ClassifyError(err))
		return
	}
	wk.nextFaucet = u.NextFaucetAt
	wk.log.Infof("points: %d XP", u.Points)
}

// prepare makes sure the smart account is deployed and loads its nonce.
func (wk *worker) prepare(ctx context.Context) error {
	deployed, err := wk.conn.Chain.IsDeployed(ctx, wk.smart)
	if err != nil {
		wk.log.Debugf("deployment check failed: %v", err)
	}
	if !deployed {
		wk.log.Warn("smart account not deployed, activating through the faucet")
		if !wk.claimFaucet(ctx, true) {
			return errNotDeployed
		}
		wait := time.Duration(wk.f.Settings.Settings.NonceCheckInitialWait * float64(time.Second))
		wk.log.Infof("waiting %s for deployment", wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		wk.nonce = wk.awaitDeployment(ctx)
		wk.log.Infof("ready with nonce %s", wk.nonce)
		return nil
	}

	if n, err := wk.conn.Chain.AccountNonce(ctx, wk.smart); err == nil {
		wk.nonce = n
	} else {
		wk.log.Debugf("nonce unreadable, starting at 1: %v", err)
		wk.nonce = big.NewInt(1)
	}
	wk.log.Infof("deployed, nonce %s", wk.nonce)

	bal, err := wk.conn.Chain.Balance(ctx, common.Address{}, wk.smart)
	if err != nil || bal.Cmp(lowNativeWei) < 0 {
		wk.log.Warn("low TCENT balance, claiming faucet")
		wk.claimFaucet(ctx, false)
	} else {
		wk.log.Infof("balance: %s TCENT", userop.FromWei(bal, 18))
	}
	return nil
}

// awaitDeployment polls with a growing delay and falls back to nonce 1.
func (wk *worker) awaitDeployment(ctx context.Context) *big.Int {
	rt := wk.f.Settings.Settings
	for attempt := 0; attempt < rt.NonceCheckAttemptsAfter; attempt++ {
		ok, err := wk.checkDeployed(ctx)
		if err == nil && ok {
			if n, err := wk.readNonce(ctx); err == nil {
				return n
			}
			wk.log.Debug("deployed but nonce unreadable, using 1")
			return big.NewInt(1)
		}
		if err != nil {
			wk.log.Debugf("deployment check %d failed: %v", attempt+1, err)
		}
		if attempt < rt.NonceCheckAttemptsAfter-1 {
			d := time.Duration(rt.NonceCheckProgressiveDelay * float64(attempt+1) * float64(time.Second))
			if sleepCtx(ctx, d) != nil {
				break
			}
		}
	}
	wk.log.Warn("deployment not confirmed, starting with nonce 1")
	return big.NewInt(1)
}

// checkTimeout is the per-read budget after deployment, doubled behind a proxy. Zero disables it.
func (wk *worker) checkTimeout() time.Duration {
	d := time.Duration(wk.f.Settings.Settings.NonceCheckTimeout * float64(time.Second))
	if wk.conn.Proxy != "" {
		d *= 2
	}
	return d
}

func (wk *worker) checkDeployed(ctx context.Context) (bool, error) {
	if d := wk.checkTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return wk.conn.Chain.IsDeployed(ctx, wk.smart)
}

func (wk *worker) readNonce(ctx context.Context) (*big.Int, error) {
	if d := wk.checkTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return wk.conn.Chain.AccountNonce(ctx, wk.smart)
}

// claimFaucet solves the captcha and requests funds. The first claim of an account also deploys it.
func (wk *worker) claimFaucet(ctx context.Context, first bool) bool {
	now := wk.f.now()
	if !first && wk.nextFaucet.After(now) {
		left := wk.nextFaucet.Sub(now).Round(time.Minute)
		wk.log.Warnf("faucet not ready, next claim in %s", left)
		wk.record(KindFaucet, store.StatusSkipped, "next claim at "+wk.nextFaucet.UTC().Format(time.RFC3339), "")
		return false
	}
	net := wk.f.Settings.Network
	token, err := wk.f.Solver.Solve(ctx, net.SiteKey, net.PageURL)
	if err != nil {
		wk.log.Errorf("captcha failed: %s", ClassifyError(err))
		wk.record(KindFaucet, store.StatusFailed, "captcha: "+ClassifyError(err), "")
		return false
	}
	amount, err := wk.conn.Remote.ClaimFaucet(ctx, token)
	if err != nil {
		wk.log.Errorf("faucet claim failed: %s", ClassifyError(err))
		wk.record(KindFaucet, store.StatusFailed, ClassifyError(err), "")
		return false
	}
	if first {
		wk.nonce = big.NewInt(1)
	}
	wk.log.Infof("claimed %g TCENT from faucet", amount)
	wk.record(KindFaucet, store.StatusSuccess, fmt.Sprintf("claimed %g TCENT", amount), "")

	wk.refreshUser(ctx)
	var next *time.Time
	if !wk.nextFaucet.IsZero() {
		t := wk.nextFaucet.UTC()
		next = &t
		wk.log.Infof("next faucet claim at %s", t.Format(time.RFC3339))
	}
	if err := wk.f.Store.RecordFaucetClaim(wk.acc.ID, amount, next); err != nil {
		wk.log.Warnf("save faucet claim: %v", err)
	}
	return true
}

func (wk *worker) record(kind, status, detail, txHash string) {
	wk.f.Metrics.Action(kind, status)
	rec := &store.ActionRecord{
		AccountID: wk.acc.ID,
		RunID:     wk.runID,
		Kind:      kind,
		Status:    status,
		Detail:    detail,
		TxHash:    txHash,
	}
	if err := wk.f.Store.RecordAction(rec); err != nil {
		wk.log.Warnf("save %s record: %v", kind, err)
	}
}

func (wk *worker) pause(ctx context.Context, r config.Range, what string) error {
	d := r.Duration(wk.rng)
	if d > 0 {
		wk.log.Debugf("waiting %s before %s", d.Round(time.Millisecond), what)
	}
	return sleepCtx(ctx, d)
}
