package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show database backend and row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			sum, err := st.Summary()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "dsn           : %s\n", a.st.Files.Database)
			fmt.Fprintf(w, "backend       : %s\n", sum.Backend)
			fmt.Fprintf(w, "accounts      : %d\n", sum.Accounts)
			fmt.Fprintf(w, "actions       : %d\n", sum.Actions)
			fmt.Fprintf(w, "faucet claims : %d\n", sum.FaucetClaims)
			return nil
		},
	}

	var days int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete action records older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.Cleanup(time.Duration(days) * 24 * time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d record(s) older than %d day(s)\n", n, days)
			return nil
		},
	}
	cleanup.Flags().IntVar(&days, "days", 30, "keep records newer than this many days")

	vacuum := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim free space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Vacuum(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vacuum done")
			return nil
		},
	}

	cmd.AddCommand(info, cleanup, vacuum)
	return cmd
}
