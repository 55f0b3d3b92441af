package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ligun0805/incentiv-bot/internal/chain"
	"github.com/ligun0805/incentiv-bot/internal/farm"
	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/server"
	"github.com/ligun0805/incentiv-bot/internal/session"
)

func (a *app) runCmd() *cobra.Command {
	var (
		useProxy    bool
		rotate      bool
		schedule    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run [faucet|contacts|transfers|swaps|bundles|all]",
		Short: "Run an action for every selected account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var action farm.Action
			var err error
			if len(args) == 1 {
				action, err = farm.ParseAction(args[0])
			} else {
				action, err = promptAction()
			}
			if err != nil {
				return err
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			m := metrics.New()
			if metricsAddr != "" {
				go func() {
					a.log.Infof("serving stats on %s", metricsAddr)
					if err := server.Serve(ctx, metricsAddr, server.New(st, m, a.log)); err != nil {
						a.log.Errorf("stats server: %v", err)
					}
				}()
			}

			sessions := session.NewManager(st)
			sessions.Logf = logging.Logf(a.log)
			f := &farm.Farmer{
				Settings: a.st,
				Store:    st,
				Solver:   a.solver(),
				Metrics:  m,
				Log:      a.log,
				Connect: &farm.NetConnector{
					Settings:        a.st,
					Proxies:         a.proxies(useProxy, st),
					Sessions:        sessions,
					Limiter:         chain.NewLimiter(a.st.Network.RPCRateLimit),
					Log:             a.log,
					RotateOnFailure: rotate,
				},
			}

			if schedule != "" {
				return f.Schedule(ctx, schedule, action, a.entries)
			}
			entries, err := a.entries()
			if err != nil {
				return err
			}
			rep, err := f.Run(ctx, action, entries)
			fmt.Printf("\nrun %s: %d/%d succeeded, %d failed\n", rep.RunID, rep.Success, rep.Total, rep.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&useProxy, "proxy", false, "route accounts through the proxy file")
	cmd.Flags().BoolVar(&rotate, "rotate", false, "switch to the next proxy after a failed login")
	cmd.Flags().StringVar(&schedule, "schedule", "", `repeat on a cron spec, e.g. "@every 6h" or "0 */4 * * *"`)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /stats on this address while running")
	return cmd
}

// promptAction shows the action menu when stdin is a terminal.
func promptAction() (farm.Action, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return 0, errors.New("action required (faucet|contacts|transfers|swaps|bundles|all)")
	}
	fmt.Println("1) Claim faucet")
	fmt.Println("2) Add contacts")
	fmt.Println("3) Transfers")
	fmt.Println("4) Swaps")
	fmt.Println("5) Bundle actions")
	fmt.Println("6) All of the above")
	in := bufio.NewReader(os.Stdin)
	for {
		s, err := readLine(in, "Choose [1-6]: ")
		if err != nil {
			return 0, err
		}
		if a, err := farm.ParseAction(s); err == nil {
			return a, nil
		}
		fmt.Println("invalid choice")
	}
}

func readLine(r *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	s, err := r.ReadString('\n')
	s = strings.TrimSpace(s)
	if err != nil && s == "" {
		return "", err
	}
	return s, nil
}
