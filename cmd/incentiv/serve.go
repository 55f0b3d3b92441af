package main

import (
	"github.com/spf13/cobra"

	"github.com/ligun0805/incentiv-bot/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored stats over HTTP",
		Long:  "Serve stored stats over HTTP. Prometheus counters live in a running farm: use run --metrics-addr for /metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			a.log.Infof("listening on %s", addr)
			return server.Serve(cmd.Context(), addr, server.New(st, nil, a.log))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
