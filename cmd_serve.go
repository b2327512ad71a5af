package main

import (
	"github.com/spf13/cobra"

	"github.com/whisper-darkly/sticky-fetch/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metadata and downloads over HTTP",
		Long: `Routes:
  GET /healthz
  GET /info/:id      ranked renditions as JSON
  GET /stream/:id    the selected rendition; ?quality= ?filter= ?begin= ?range=`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv := server.New(server.Config{
				Client:   a.client,
				Resolver: a.resolver,
				Policy:   a.cfg.Policy(),
				Log:      a.log,
			})
			return srv.ListenAndServe(cmd.Context(), a.cfg.Server.Addr)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	return cmd
}
