package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ligun0805/incentiv-bot/internal/logging"
	"github.com/ligun0805/incentiv-bot/internal/store"
)

func (a *app) statsCmd() *cobra.Command {
	var (
		account string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show totals, or one account's recent actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if account != "" {
				return printAccount(cmd.OutOrStdout(), st, account, limit)
			}
			sum, err := st.Summary()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "EOA address to inspect")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of actions to list")

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export accounts and actions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if out == "" || out == "-" {
				return st.Export(cmd.OutOrStdout())
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := st.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			a.log.Infof("exported to %s", out)
			return nil
		},
	}
	export.Flags().StringVar(&out, "out", "", "output file (stdout when empty)")
	cmd.AddCommand(export)
	return cmd
}

func printSummary(w io.Writer, sum store.Summary) {
	fmt.Fprintf(w, "backend       : %s\n", sum.Backend)
	fmt.Fprintf(w, "accounts      : %d\n", sum.Accounts)
	fmt.Fprintf(w, "faucet claims : %d\n", sum.FaucetClaims)
	fmt.Fprintf(w, "actions       : %d (%.1f%% success)\n\n", sum.Actions, sum.SuccessRate)

	kinds := make([]string, 0, len(sum.ByKind))
	for k := range sum.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSUCCESS\tFAILED\tSKIPPED")
	for _, k := range kinds {
		s := sum.ByKind[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", k, s.Success, s.Failed, s.Skipped)
	}
	_ = tw.Flush()
}

func printAccount(w io.Writer, st *store.Store, address string, limit int) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	acc, err := st.Account(common.HexToAddress(address).Hex())
	if err != nil {
		return fmt.Errorf("%s: %w", address, err)
	}
	fmt.Fprintf(w, "address       : %s\n", acc.Address)
	fmt.Fprintf(w, "smart account : %s\n", acc.SmartAccount)
	fmt.Fprintf(w, "username      : %s\n", acc.Username)
	fmt.Fprintf(w, "first seen    : %s\n", acc.CreatedAt.Local().Format(time.DateTime))
	if last, err := st.LastFaucetClaim(acc.ID); err == nil && last.NextClaimAt != nil {
		fmt.Fprintf(w, "next faucet   : %s\n", last.NextClaimAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w)

	actions, err := st.Actions(store.ActionFilter{AccountID: acc.ID, Limit: limit})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tSTATUS\tDETAIL\tTX")
	for _, r := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Kind, r.Status, r.Detail, logging.ShortAddr(r.TxHash))
	}
	return tw.Flush()
}
