// Package register signs wallets up on the testnet.
package register

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/incentiv-bot/internal/api"
	"github.com/ligun0805/incentiv-bot/internal/captcha"
	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/farm"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// Remote is the unauthenticated part of the API used for signup.
type Remote interface {
	Challenge(ctx context.Context, address common.Address, challengeType string) (string, error)
	Signup(ctx context.Context, in api.SignupRequest) (common.Address, error)
}

// Connector returns a Remote for w and the proxy it goes through ("" for direct).
type Connector interface {
	Connect(ctx context.Context, w *wallet.Wallet) (Remote, string, error)
}

type Store interface {
	EnsureAccount(address string) (*store.Account, error)
	UpdateAccount(address string, upd store.Account) error
	SetProxy(address, proxy string) error
	RecordAction(rec *store.ActionRecord) error
}

type outcome int

const (
	registered outcome = iota
	alreadyRegistered
	failed
)

// Report counts the outcome of one registration batch.
type Report struct {
	Total      int
	Registered int
	Already    int
	Failed     int
}

// Registrar runs signups with bounded concurrency.
type Registrar struct {
	Settings config.Settings
	Store    Store
	Solver   captcha.Solver
	Connect  Connector
	Metrics  *metrics.Metrics
	Log      logrus.FieldLogger

	fileMu sync.Mutex
}

const (
	vowels     = "aiueo"
	consonants = "bcdfghjklmnpqrstvwxyz"
)

// Username returns an 8 to 12 letter name alternating vowels and consonants.
func Username(rng *rand.Rand) string {
	n := 8 + rng.IntN(5)
	vowel := rng.IntN(2) == 0
	var b strings.Builder
	for i := 0; i < n; i++ {
		set := consonants
		if vowel {
			set = vowels
		}
		b.WriteByte(set[rng.IntN(len(set))])
		vowel = !vowel
	}
	return b.String()
}

// RegisterNew generates count wallets and signs each one up. Keys of successful signups are
// appended to the new accounts file and the rest to the failed file.
func (r *Registrar) RegisterNew(ctx context.Context, count int, ref string) (Report, error) {
	wallets := make([]*wallet.Wallet, 0, count)
	for i := 0; i < count; i++ {
		w, err := wallet.Generate()
		if err != nil {
			return Report{}, fmt.Errorf("generate wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	r.Log.Infof("registering %d new wallet(s) with ref %q", count, ref)
	files := r.Settings.Files
	return r.run(ctx, wallets, ref, func(w *wallet.Wallet, o outcome) {
		switch o {
		case registered:
			r.appendLine(files.NewAccounts, w.PrivateKeyHex())
		case failed:
			r.appendLine(files.Failed, w.PrivateKeyHex())
		}
	})
}

// RegisterExisting signs up loaded wallets. Wallets whose smart account is already known are skipped.
func (r *Registrar) RegisterExisting(ctx context.Context, entries []wallet.Entry, ref string) (Report, error) {
	wallets := make([]*wallet.Wallet, 0, len(entries))
	lines := make(map[common.Address]string, len(entries))
	for _, e := range entries {
		w, err := e.Wallet()
		if err != nil {
			r.Log.Warnf("line %d: %v", e.Line, err)
			continue
		}
		wallets = append(wallets, w)
		lines[w.Address] = e.PrivateKey
		if e.Mnemonic != "" {
			lines[w.Address] = e.Mnemonic
		}
	}
	r.Log.Infof("registering %d existing wallet(s) with ref %q", len(wallets), ref)
	return r.run(ctx, wallets, ref, func(w *wallet.Wallet, o outcome) {
		if o == failed {
			r.appendLine(r.Settings.Files.Failed, lines[w.Address])
		}
	})
}

func (r *Registrar) appendLine(path, line string) {
	if path == "" || line == "" {
		return
	}
	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if err := wallet.AppendLines(path, []string{line}); err != nil {
		r.Log.Errorf("write %s: %v", path, err)
	}
}

func (r *Registrar) run(ctx context.Context, wallets []*wallet.Wallet, ref string, done func(*wallet.Wallet, outcome)) (Report, error) {
	rep := Report{Total: len(wallets)}
	var ok, already, bad atomic.Int64

	var g errgroup.Group
	g.SetLimit(max(1, r.Settings.Settings.Threads))
	for i, w := range wallets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			finish := r.Metrics.WorkerStarted()
			defer finish()
			o := r.one(ctx, i+1, len(wallets), w, ref)
			switch o {
			case registered:
				ok.Add(1)
				r.Metrics.Account("success")
			case alreadyRegistered:
				already.Add(1)
				r.Metrics.Account("skipped")
			default:
				bad.Add(1)
				r.Metrics.Account("failed")
			}
			done(w, o)
			return nil
		})
	}
	_ = g.Wait()

	rep.Registered, rep.Already, rep.Failed = int(ok.Load()), int(already.Load()), int(bad.Load())
	r.Log.Infof("registration finished: %d registered, %d already registered, %d failed", rep.Registered, rep.Already, rep.Failed)
	return rep, ctx.Err()
}

func (r *Registrar) one(ctx context.Context, idx, total int, w *wallet.Wallet, ref string) outcome {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	addr := w.Address.Hex()
	log := logging.ForAccount(r.Log, idx, total, addr)

	acc, err := r.Store.EnsureAccount(addr)
	if err != nil {
		log.Errorf("store: %v", err)
		return failed
	}
	if acc.SmartAccount != "" {
		log.Warnf("already registered, smart account %s", acc.SmartAccount)
		return alreadyRegistered
	}
	rec := func(status, detail string) {
		r.Metrics.Action(farm.KindRegistration, status)
		if err := r.Store.RecordAction(&store.ActionRecord{AccountID: acc.ID, Kind: farm.KindRegistration, Status: status, Detail: detail}); err != nil {
			log.Warnf("save registration record: %v", err)
		}
	}

	d := r.Settings.Settings.RandomInitializationPause.Duration(rng)
	log.Debugf("waiting %s", d.Round(time.Second))
	if err := sleepCtx(ctx, d); err != nil {
		return failed
	}

	remote, p, err := r.Connect.Connect(ctx, w)
	if err != nil {
		log.Errorf("connect: %s", farm.ClassifyError(err))
		rec(store.StatusFailed, "connect: "+farm.ClassifyError(err))
		return failed
	}
	if p != "" {
		log.Infof("using proxy %s", proxy.Mask(p))
		if err := r.Store.SetProxy(addr, p); err != nil {
			log.Warnf("save proxy: %v", err)
		}
	}

	smart, username, err := r.signup(ctx, remote, w, ref, rng)
	switch {
	case errors.Is(err, api.ErrAlreadyRegistered):
		log.Warn("already registered according to the API")
		rec(store.StatusSkipped, "already registered")
		return alreadyRegistered
	case err != nil:
		log.Errorf("signup failed: %s", farm.ClassifyError(err))
		rec(store.StatusFailed, farm.ClassifyError(err))
		return failed
	}

	if err := r.Store.UpdateAccount(addr, store.Account{SmartAccount: smart.Hex(), Username: username}); err != nil {
		log.Warnf("save account: %v", err)
	}
	log.Infof("registered as %s, smart account %s", username, smart.Hex())
	rec(store.StatusSuccess, fmt.Sprintf("username %s, smart account %s", username, smart.Hex()))
	return registered
}

func (r *Registrar) signup(ctx context.Context, remote Remote, w *wallet.Wallet, ref string, rng *rand.Rand) (common.Address, string, error) {
	msg, err := remote.Challenge(ctx, w.Address, wallet.ChallengeBrowserExtension)
	if err != nil {
		return common.Address{}, "", err
	}
	net := r.Settings.Network
	token, err := r.Solver.Solve(ctx, net.SiteKey, net.PageURL)
	if err != nil {
		return common.Address{}, "", fmt.Errorf("captcha: %w", err)
	}
	sig, err := w.SignText([]byte(msg))
	if err != nil {
		return common.Address{}, "", err
	}
	username := Username(rng)
	smart, err := remote.Signup(ctx, api.SignupRequest{
		Type:              wallet.ChallengeBrowserExtension,
		Challenge:         msg,
		Signature:         hexutil.Encode(sig),
		Username:          username,
		VerificationToken: token,
		RefCode:           ref,
	})
	if err != nil {
		return common.Address{}, "", err
	}
	return smart, username, nil
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
