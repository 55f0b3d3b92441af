package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligun0805/incentiv-bot/internal/metrics"
	"github.com/ligun0805/incentiv-bot/internal/register"
	"github.com/ligun0805/incentiv-bot/internal/store"
)

type registerFlags struct {
	ref    string
	proxy  bool
	rotate bool
}

func (a *app) registerCmd() *cobra.Command {
	var rf registerFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Sign wallets up on the testnet",
	}
	cmd.PersistentFlags().StringVar(&rf.ref, "ref", "", "referral code (defaults to files.ref_code)")
	cmd.PersistentFlags().BoolVar(&rf.proxy, "proxy", false, "route signups through the proxy file")
	cmd.PersistentFlags().BoolVar(&rf.rotate, "rotate", false, "replace proxies that fail the connectivity check")

	var count int
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate fresh wallets and register them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			rep, err := a.registrar(st, rf).RegisterNew(cmd.Context(), count, a.refCode(rf.ref))
			printRegistration(rep)
			if rep.Registered > 0 {
				fmt.Printf("keys saved to %s\n", a.st.Files.NewAccounts)
			}
			return err
		},
	}
	newCmd.Flags().IntVar(&count, "count", 1, "number of wallets to create")

	existingCmd := &cobra.Command{
		Use:   "existing",
		Short: "Register the wallets in the accounts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.entries()
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			rep, err := a.registrar(st, rf).RegisterExisting(cmd.Context(), entries, a.refCode(rf.ref))
			printRegistration(rep)
			return err
		},
	}

	cmd.AddCommand(newCmd, existingCmd)
	return cmd
}

func (a *app) registrar(st *store.Store, rf registerFlags) *register.Registrar {
	return &register.Registrar{
		Settings: a.st,
		Store:    st,
		Solver:   a.solver(),
		Metrics:  metrics.New(),
		Log:      a.log,
		Connect: &register.NetConnector{
			Settings:        a.st,
			Proxies:         a.proxies(rf.proxy, st),
			Log:             a.log,
			RotateOnFailure: rf.rotate,
		},
	}
}

func printRegistration(rep register.Report) {
	fmt.Printf("\nregistered %d/%d, already registered %d, failed %d\n", rep.Registered, rep.Total, rep.Already, rep.Failed)
}
