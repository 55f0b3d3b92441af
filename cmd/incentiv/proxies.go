package main

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ligun0805/incentiv-bot/internal/farm"
	"github.com/ligun0805/incentiv-bot/internal/proxy"
)

func (a *app) proxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Manage account proxies",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget the proxy saved for every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.ClearProxies()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared proxies of %d account(s)\n", n)
			return nil
		},
	}

	var probe string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every proxy in the proxy file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			good, bad, err := proxy.Load(a.st.Files.Proxies)
			if err != nil {
				return err
			}
			for _, b := range bad {
				fmt.Fprintf(cmd.OutOrStdout(), "INVALID  %s\n", proxy.Mask(b))
			}
			if probe == "" {
				probe = a.st.Network.PageURL
			}
			timeout := time.Duration(a.st.Network.HTTPTimeout) * time.Second

			var alive atomic.Int64
			var g errgroup.Group
			g.SetLimit(max(4, a.st.Settings.Threads))
			for _, p := range good {
				g.Go(func() error {
					tr, err := proxy.NewTransport(p)
					if err == nil {
						err = proxy.Check(cmd.Context(), &http.Client{Transport: tr, Timeout: timeout}, probe)
					}
					if err != nil {
						a.log.Warnf("FAIL  %s: %s", proxy.Mask(p), farm.ClassifyError(err))
						return nil
					}
					alive.Add(1)
					a.log.Infof("OK    %s", proxy.Mask(p))
					return nil
				})
			}
			_ = g.Wait()
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d proxies reachable, %d invalid\n", alive.Load(), len(good), len(bad))
			return cmd.Context().Err()
		},
	}
	checkCmd.Flags().StringVar(&probe, "url", "", "URL to request through each proxy (defaults to network.page_url)")

	cmd.AddCommand(clearCmd, checkCmd)
	return cmd
}
