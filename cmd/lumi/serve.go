// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/yaotutu/lumi-assistant-cli/internal/app/bootstrap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant daemon (HTTP, gRPC, metrics and relay)",
		Long: `Run the assistant daemon. The HTTP task API, the gRPC service and the
Prometheus endpoint listen on the addresses in the api section; the Redis
event relay runs when relay.enabled is set. SIGHUP or editing the config file
reloads the log level and the dialogue settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := bootstrap.WireServices(cmd.Context(), opts.bootstrap())
			if err != nil {
				return err
			}
			return c.Run(cmd.Context())
		},
	}
}
