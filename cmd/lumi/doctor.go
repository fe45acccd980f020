// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yaotutu/lumi-assistant-cli/internal/app/bootstrap"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/factory"
	"github.com/yaotutu/lumi-assistant-cli/internal/config"
	"github.com/yaotutu/lumi-assistant-cli/internal/persistence/sqlite"
	"github.com/yaotutu/lumi-assistant-cli/internal/relay"
)

var errDoctorFailed = errors.New("one or more checks failed")

// check is one row of the doctor report.
type check struct {
	name   string
	target string
	err    error
}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check providers, storage and relay connectivity",
		Long: `Probe every configured provider, verify the SQLite conversation store
and ping the Redis relay when it is enabled. Exits non-zero when any check
fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bo := root.bootstrap()
			bo.LogOutput = io.Discard
			cfg, _, err := bootstrap.LoadConfig(bo)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			checks := runChecks(ctx, cfg, mode)
			failed := printChecks(cmd.OutOrStdout(), checks)
			if failed > 0 {
				return &exitError{code: 2, err: fmt.Errorf("%w (%d)", errDoctorFailed, failed)}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall probe timeout")
	cmd.Flags().StringVar(&mode, "sqlite-check", "quick", "sqlite integrity check: quick or full")
	return cmd
}

func runChecks(ctx context.Context, cfg config.AppConfig, mode string) []check {
	var checks []check

	caps, _, err := factory.Build(cfg)
	if err != nil {
		checks = append(checks, check{name: "providers", err: err})
	} else {
		for _, h := range caps.Check(ctx) {
			c := check{name: string(h.Kind), target: h.Provider}
			if !h.Ready {
				c.err = errors.New(h.Error)
			}
			checks = append(checks, c)
		}
	}
	if caps.Audio != nil {
		_ = caps.Audio.Close()
	}

	if cfg.Dialogue.Store == "sqlite" {
		c := check{name: "dialogue store", target: cfg.Dialogue.SQLitePath}
		if _, statErr := os.Stat(cfg.Dialogue.SQLitePath); statErr != nil {
			if !os.IsNotExist(statErr) {
				c.err = statErr
			}
			// A missing database is created on first start.
		} else if issues, verr := sqlite.VerifyIntegrity(ctx, cfg.Dialogue.SQLitePath, mode); verr != nil {
			c.err = verr
		} else if len(issues) > 0 {
			c.err = errors.New(strings.Join(issues, "; "))
		}
		checks = append(checks, c)
	}

	if cfg.Relay.Enabled {
		c := check{name: "relay", target: cfg.Relay.Addr}
		r, rerr := relay.New(ctx, relay.Config{
			Addr:     cfg.Relay.Addr,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
			Channel:  cfg.Relay.Channel,
		}, nil)
		if rerr != nil {
			c.err = rerr
		} else {
			c.err = r.HealthCheck(ctx)
			_ = r.Close()
		}
		checks = append(checks, c)
	}
	return checks
}

func printChecks(w io.Writer, checks []check) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	failed := 0
	for _, c := range checks {
		status, detail := "ok", ""
		if c.err != nil {
			status, detail = "FAIL", c.err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", status, c.name, c.target, detail)
	}
	_ = tw.Flush()
	return failed
}
