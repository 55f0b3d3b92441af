// Package farm drives testnet activity across many wallets.
package farm

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/captcha"
	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/userop"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

type Action int

const (
	ActionFaucet Action = iota + 1
	ActionContacts
	ActionTransfers
	ActionSwaps
	ActionBundles
	ActionAll
)

var actionNames = map[Action]string{
	ActionFaucet:    "faucet",
	ActionContacts:  "contacts",
	ActionTransfers: "transfers",
	ActionSwaps:     "swaps",
	ActionBundles:   "bundles",
	ActionAll:       "all",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

// ParseAction accepts a menu number (1-6) or a name.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := actionNames[Action(n)]; ok {
			return Action(n), nil
		}
	}
	for a, name := range actionNames {
		if s == name || s == strings.TrimSuffix(name, "s") {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Record kinds.
const (
	KindLogin        = "login"
	KindFaucet       = "faucet_claim"
	KindContact      = "add_contact"
	KindTransfer     = "transfer"
	KindSwap         = "swap"
	KindBundle       = "bundle_action"
	KindRegistration = "registration"
)

// Remote is the per-account REST surface.
type Remote interface {
	User(ctx context.Context) (api.UserInfo, error)
	ClaimFaucet(ctx context.Context, captchaToken string) (float64, error)
	AddContact(ctx context.Context, name string, address common.Address) error
	SwapRoute(ctx context.Context, from, to common.Address) ([]common.Address, error)
	TransactionBadge(ctx context.Context, txHash common.Hash, badgeKey string) error
}

// Chain reads smart-account state.
type Chain interface {
	IsDeployed(ctx context.Context, addr common.Address) (bool, error)
	AccountNonce(ctx context.Context, smartAccount common.Address) (*big.Int, error)
	Balance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	UserOpHash(ctx context.Context, entryPoint common.Address, op userop.PackedUserOperation) (common.Hash, error)
}

// Bundler estimates and submits user operations.
type Bundler interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation) (userop.GasEstimate, error)
	SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
}

// Session logs the wallet in and returns its smart account.
type Session interface {
	Login(ctx context.Context) (common.Address, error)
}

// Conn bundles everything one account talks to.
type Conn struct {
	Remote  Remote
	Chain   Chain
	Bundler Bundler
	Session Session
	// Proxy is the proxy in use, "" for direct.
	Proxy string
	// Rotate switches to the next proxy and returns it. May be nil.
	Rotate func() string
	Close  func()
}

// Connector opens per-account connections.
type Connector interface {
	Connect(ctx context.Context, w *wallet.Wallet) (*Conn, error)
}

// Store is the persistence the farmer writes to.
type Store interface {
	EnsureAccount(address string) (*store.Account, error)
	SetProxy(address, proxy string) error
	RecordAction(rec *store.ActionRecord) error
	RecordFaucetClaim(accountID uint, amount float64, nextClaimAt *time.Time) error
}

// Report summarises one run over all selected wallets.
type Report struct {
	RunID   string
	Total   int
	Success int
	Failed  int
}

// Farmer runs actions for a list of wallets.
type Farmer struct {
	Settings config.Settings
	Store    Store
	Solver   captcha.Solver
	Connect  Connector
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func (f *Farmer) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Run processes entries with action. THREADS bounds concurrency; a single thread runs accounts in
// order with a random pause between them. Per-account failures are counted, not returned.
func (f *Farmer) Run(ctx context.Context, action Action, entries []wallet.Entry) (Report, error) {
	if _, ok := actionNames[action]; !ok {
		return Report{}, fmt.Errorf("unknown action %d", action)
	}
	rep := Report{RunID: uuid.NewString(), Total: len(entries)}
	log := f.Log.WithField("run", rep.RunID[:8])
	log.Infof("starting %s for %d account(s) with %d thread(s)", action, len(entries), f.Settings.Settings.Threads)

	var ok, failed atomic.Int64
	process := func(idx int, e wallet.Entry) {
		done := f.Metrics.WorkerStarted()
		defer done()
		if err := f.processAccount(ctx, rep.RunID, action, idx, len(entries), e); err != nil {
			failed.Add(1)
			f.Metrics.Account("failed")
			log.WithField("account", fmt.Sprintf("%d/%d", idx, len(entries))).Errorf("account skipped: %s", ClassifyError(err))
			return
		}
		ok.Add(1)
		f.Metrics.Account("success")
	}

	threads := f.Settings.Settings.Threads
	if threads <= 1 {
		rng := newRand()
		for i, e := range entries {
			if ctx.Err() != nil {
				break
			}
			process(i+1, e)
			if i < len(entries)-1 {
				d := f.Settings.Settings.RandomPauseBetweenAccounts.Duration(rng)
				log.Infof("waiting %s before next account", d.Round(time.Second))
				if err := sleepCtx(ctx, d); err != nil {
					break
				}
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(threads)
		for i, e := range entries {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				process(i+1, e)
				return nil
			})
		}
		_ = g.Wait()
	}

	rep.Success, rep.Failed = int(ok.Load()), int(failed.Load())
	log.Infof("run finished: %d ok, %d failed", rep.Success, rep.Failed)
	return rep, ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
