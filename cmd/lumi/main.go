// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command lumi runs the voice assistant daemon and its front-ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yaotutu/lumi-assistant-cli/internal/app/bootstrap"
	"github.com/yaotutu/lumi-assistant-cli/internal/version"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	// environ replaces the process environment (tests).
	environ map[string]string
}

func (o *rootOptions) bootstrap() bootstrap.Options {
	return bootstrap.Options{
		ConfigPath: o.configPath,
		DotEnvPath: o.envFile,
		Environ:    o.environ,
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "lumi",
		Short:         "Lumi voice assistant",
		Long:          "Lumi turns speech into spoken replies: speech recognition, a language model and speech synthesis behind one task API.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("LUMI_CONFIG"), "path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newEventsCmd(opts),
		newConfigCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&rootOptions{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lumi: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return 1
}
