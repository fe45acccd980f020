// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bootstrap is the composition root: it loads configuration and
// wires the runtime, the front-ends and the daemon manager.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	grpcapi "github.com/yaotutu/lumi-assistant-cli/internal/api/grpc"
	httpapi "github.com/yaotutu/lumi-assistant-cli/internal/api/http"
	"github.com/yaotutu/lumi-assistant-cli/internal/config"
	"github.com/yaotutu/lumi-assistant-cli/internal/daemon"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/relay"
	"github.com/yaotutu/lumi-assistant-cli/internal/version"
)

// Options locate the configuration sources.
type Options struct {
	ConfigPath string
	DotEnvPath string
	// Environ replaces the process environment (tests).
	Environ map[string]string
	// LogOutput overrides the log destination.
	LogOutput io.Writer
}

// LoadConfig loads cfg from the configured sources and installs the process
// logger for it.
func LoadConfig(opts Options) (config.AppConfig, *config.Loader, error) {
	loader := config.NewLoader(opts.ConfigPath)
	if opts.DotEnvPath != "" {
		loader = loader.WithDotEnv(opts.DotEnvPath)
	}
	if opts.Environ != nil {
		loader = loader.WithEnvironment(opts.Environ)
	}
	cfg, err := loader.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  opts.LogOutput,
		Service: "lumi",
		Version: version.Version,
	})
	logger := log.WithComponent("bootstrap")

	source := "env+defaults"
	if opts.ConfigPath != "" {
		source = "file"
	}
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str("source", source).
		Str(log.FieldPath, opts.ConfigPath).
		Msg("loaded configuration")

	if configBytes, marshalErr := json.Marshal(cfg.Redacted()); marshalErr == nil {
		hash := sha256.Sum256(configBytes)
		logger.Debug().
			Str(log.FieldEvent, "config.snapshot").
			Str("sha256", fmt.Sprintf("%x", hash)).
			Msg("configuration snapshot fingerprint")
	}
	return cfg, loader, nil
}

// Container is the production composition root output.
type Container struct {
	Config  config.AppConfig
	Holder  *config.Holder
	Logger  zerolog.Logger
	Runtime *Runtime
	HTTP    *httpapi.Server
	GRPC    *grpc.Server
	Relay   *relay.Relay
	Manager daemon.Manager
	App     *daemon.App
}

// WireServices builds the daemon dependency graph for `lumi serve`.
func WireServices(ctx context.Context, opts Options) (*Container, error) {
	if ctx == nil {
		return nil, fmt.Errorf("wire services context is nil")
	}

	cfg, loader, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("bootstrap")
	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Msg("starting lumi")

	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c := &Container{
		Config:  cfg,
		Holder:  config.NewHolder(cfg, loader),
		Logger:  logger,
		Runtime: rt,
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = "lumi-api"
	}
	c.HTTP = httpapi.New(httpapi.Config{
		Token:              cfg.API.Token,
		RateLimitPerMinute: cfg.API.RateLimit,
		TracingService:     tracingService,
	}, httpapi.Deps{
		Controller: rt.Controller,
		Bus:        rt.Bus,
		Registry:   rt.Registry,
		Dialogue:   rt.Dialogue,
		Caps:       rt.Caps,
	})

	deps := daemon.Deps{
		Logger:     logger,
		APIHandler: c.HTTP.Handler(),
		Drain:      rt.Drain,
	}
	if cfg.API.GRPCListen != "" {
		c.GRPC = grpcapi.NewServer(grpcapi.NewService(rt.Controller, rt.Bus, nil))
		deps.GRPCServer = c.GRPC
	}
	if cfg.API.MetricsListen != "" {
		deps.MetricsHandler = promhttp.Handler()
	}
	if cfg.Relay.Enabled {
		c.Relay, err = relay.New(ctx, relay.Config{
			Addr:     cfg.Relay.Addr,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
			Channel:  cfg.Relay.Channel,
		}, nil)
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("init event relay: %w", err)
		}
		r := c.Relay
		deps.Workers = append(deps.Workers, daemon.Worker{
			Name: "relay",
			Run:  func(ctx context.Context) error { return r.Run(ctx, rt.Bus) },
		})
	}

	mgr, err := daemon.NewManager(daemon.ServerConfig{
		HTTPListen:      cfg.API.HTTPListen,
		GRPCListen:      cfg.API.GRPCListen,
		MetricsListen:   cfg.API.MetricsListen,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, deps)
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("create daemon manager: %w", err)
	}

	// LIFO: the relay closes first, telemetry flushes last.
	mgr.RegisterShutdownHook("telemetry", rt.Telemetry.Shutdown)
	mgr.RegisterShutdownHook("audio", rt.CloseAudio)
	mgr.RegisterShutdownHook("dialogue", rt.CloseDialogue)
	if c.Relay != nil {
		mgr.RegisterShutdownHook("relay", func(context.Context) error { return c.Relay.Close() })
	}

	c.Manager = mgr
	c.App = daemon.NewApp(logger, mgr, c.Holder, rt.Apply)
	return c, nil
}

// Run blocks until ctx is cancelled or a server fails.
func (c *Container) Run(ctx context.Context) error {
	if c == nil || c.App == nil {
		return fmt.Errorf("container is not fully initialized")
	}
	return c.App.Run(ctx)
}
