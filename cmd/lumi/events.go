// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	grpcapi "github.com/yaotutu/lumi-assistant-cli/internal/api/grpc"
	"github.com/yaotutu/lumi-assistant-cli/internal/app/bootstrap"
	"github.com/yaotutu/lumi-assistant-cli/internal/cli"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
	"github.com/yaotutu/lumi-assistant-cli/internal/relay"
)

type eventsOptions struct {
	remote  string
	redis   bool
	topics  []string
	session string
	channel string
	verbose bool
}

func newEventsCmd(root *rootOptions) *cobra.Command {
	opts := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the event stream of a running daemon",
		Long: `Print pipeline events as they happen. By default the daemon's gRPC
stream is used; --redis reads the relay channel instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bo := root.bootstrap()
			bo.LogOutput = io.Discard
			cfg, _, err := bootstrap.LoadConfig(bo)
			if err != nil {
				return err
			}
			filter := bus.Filter{Topics: opts.topics, SessionID: opts.session, Channel: opts.channel}
			ctx := cmd.Context()

			var events <-chan model.Event
			if opts.redis {
				client := relay.NewClient(relay.Config{
					Addr:     cfg.Relay.Addr,
					Password: cfg.Relay.Password,
					DB:       cfg.Relay.DB,
				})
				defer func() { _ = client.Close() }()
				raw, err := relay.Listen(ctx, client, cfg.Relay.Channel)
				if err != nil {
					return err
				}
				events = filtered(ctx, raw, filter)
			} else {
				target := opts.remote
				if target == "" {
					target = cfg.API.GRPCListen
				}
				client, err := grpcapi.Dial(dialTarget(target))
				if err != nil {
					return fmt.Errorf("dial %s: %w", target, err)
				}
				defer func() { _ = client.Close() }()
				if events, err = client.Events(ctx, filter); err != nil {
					return err
				}
			}
			cli.Tail(ctx, cmd.OutOrStdout(), events, opts.verbose)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.remote, "remote", "", "gRPC address of the daemon (default api.grpcListen)")
	cmd.Flags().BoolVar(&opts.redis, "redis", false, "read the Redis relay channel instead of gRPC")
	cmd.Flags().StringSliceVar(&opts.topics, "topic", nil, "only these topics (repeatable)")
	cmd.Flags().StringVar(&opts.session, "session", "", "only this session")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "only this channel")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "render every event, not just results")
	return cmd
}

// filtered applies f to a feed that cannot filter server side.
func filtered(ctx context.Context, in <-chan model.Event, f bus.Filter) <-chan model.Event {
	out := make(chan model.Event)
	go func() {
		defer close(out)
		for ev := range in {
			if !f.Match(ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
