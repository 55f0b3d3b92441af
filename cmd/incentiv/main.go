package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ligun0805/incentiv-bot/internal/captcha"
	"github.com/ligun0805/incentiv-bot/internal/config"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
	"github.com/ligun0805/incentiv-bot/internal/store"
	"github.com/ligun0805/incentiv-bot/internal/wallet"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfgPath  string
	logLevel string

	st  config.Settings
	log *logrus.Logger
}

func main() { os.Exit(run(os.Args[1:], os.Stderr)) }

// run executes the command line and returns the exit code, so deferred cleanup finishes before exit.
func run(args []string, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "interrupted")
			return 130
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "incentiv",
		Short:         "Incentiv testnet activity bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			st, err := config.Load(a.cfgPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			a.st = st
			a.log = logging.New(a.logLevel, os.Stdout)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", config.DefaultPath(), "settings file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	root.AddCommand(
		a.runCmd(),
		a.registerCmd(),
		a.statsCmd(),
		a.proxiesCmd(),
		a.dbCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.st.Files.Database)
	if err != nil {
		return nil, err
	}
	a.log.Debugf("database: %s", st.Backend())
	return st, nil
}

// entries loads the accounts file and applies the range, exact and shuffle settings.
func (a *app) entries() ([]wallet.Entry, error) {
	all, err := wallet.LoadEntries(a.st.Files.Accounts)
	if err != nil {
		return nil, err
	}
	rt := a.st.Settings
	sel := wallet.Select(all, wallet.Selection{
		Exact:   rt.ExactAccountsToUse,
		Start:   int(rt.AccountsRange.Min),
		End:     int(rt.AccountsRange.Max),
		Shuffle: rt.ShuffleWallets,
	})
	if len(sel) == 0 {
		return nil, fmt.Errorf("no accounts selected from %s", a.st.Files.Accounts)
	}
	a.log.Infof("loaded %d of %d account(s)", len(sel), len(all))
	return sel, nil
}

// proxies loads the proxy file and pins accounts to the proxy they used last time.
func (a *app) proxies(use bool, st *store.Store) *proxy.Rotator {
	if !use {
		return proxy.NewRotator(nil)
	}
	good, bad, err := proxy.Load(a.st.Files.Proxies)
	if err != nil {
		a.log.Warnf("proxies unavailable, connecting directly: %v", err)
		return proxy.NewRotator(nil)
	}
	for _, b := range bad {
		a.log.Warnf("skipping invalid proxy %s", proxy.Mask(b))
	}
	rot := proxy.NewRotator(good)
	a.log.Infof("loaded %d proxies", rot.Len())
	if st != nil {
		if accs, err := st.Accounts(); err == nil {
			for _, acc := range accs {
				if acc.Proxy != "" {
					rot.Pin(acc.Address, acc.Proxy)
				}
			}
		}
	}
	return rot
}

// solver falls back to one that always fails when no key is configured, so runs that never need
// the faucet still work.
func (a *app) solver() captcha.Solver {
	c := a.st.Captcha
	s, err := captcha.New(c.Provider, c.Key(), captcha.Options{Logf: logging.Logf(a.log)})
	if err != nil {
		a.log.Warnf("captcha disabled: %v", err)
		return noSolver{err: err}
	}
	a.log.Infof("captcha provider: %s", c.Provider)
	return s
}

type noSolver struct{ err error }

func (n noSolver) Solve(context.Context, string, string) (string, error) { return "", n.err }

// refCode prefers the flag, then the first line of the configured ref code file.
func (a *app) refCode(flag string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	path := a.st.Files.RefCode
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		a.log.Warnf("ref code: %v", err)
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			return s
		}
	}
	return ""
}
