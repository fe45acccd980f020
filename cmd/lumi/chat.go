// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	grpcapi "github.com/yaotutu/lumi-assistant-cli/internal/api/grpc"
	"github.com/yaotutu/lumi-assistant-cli/internal/app/bootstrap"
	"github.com/yaotutu/lumi-assistant-cli/internal/cli"
)

type chatOptions struct {
	channel     string
	remote      string
	historyFile string
	logFile     string
	verbose     bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: `Start the interactive console. Without --remote the assistant runs in
this process with the configured providers; with --remote the console drives
a running daemon over gRPC.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.remote != "" {
				return runRemoteChat(cmd, opts)
			}
			return runLocalChat(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.channel, "channel", cli.DefaultChannel, "channel the console owns")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "gRPC address of a running daemon")
	cmd.Flags().StringVar(&opts.historyFile, "history-file", defaultHistoryFile(), "readline history file (empty disables)")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of discarding them")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "show every pipeline event")
	return cmd
}

func runLocalChat(cmd *cobra.Command, root *rootOptions, opts *chatOptions) error {
	logOut := io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logOut = f
	}

	bo := root.bootstrap()
	bo.LogOutput = logOut
	cfg, _, err := bootstrap.LoadConfig(bo)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rt, err := bootstrap.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	console, err := cli.New(cli.Options{
		Backend:       rt.Controller,
		Events:        cli.BusEvents(rt.Bus),
		Conversations: rt.Dialogue,
		Channel:       opts.channel,
		Stdin:         stdin(cmd),
		Stdout:        cmd.OutOrStdout(),
		HistoryFile:   opts.historyFile,
		Verbose:       opts.verbose,
	})
	if err != nil {
		return err
	}
	return console.Run(ctx)
}

func runRemoteChat(cmd *cobra.Command, opts *chatOptions) error {
	client, err := grpcapi.Dial(dialTarget(opts.remote))
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.remote, err)
	}
	defer func() { _ = client.Close() }()

	console, err := cli.New(cli.Options{
		Backend:     client,
		Events:      client.Events,
		Channel:     opts.channel,
		Stdin:       stdin(cmd),
		Stdout:      cmd.OutOrStdout(),
		HistoryFile: opts.historyFile,
		Verbose:     opts.verbose,
	})
	if err != nil {
		return err
	}
	return console.Run(cmd.Context())
}

func stdin(cmd *cobra.Command) io.ReadCloser {
	in := cmd.InOrStdin()
	if rc, ok := in.(io.ReadCloser); ok {
		return rc
	}
	return io.NopCloser(in)
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return dir + string(os.PathSeparator) + "lumi_history"
}

// dialTarget turns a listen address such as ":8421" into a dialable one.
func dialTarget(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
