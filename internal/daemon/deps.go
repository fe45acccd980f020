// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// DefaultShutdownTimeout bounds Shutdown when the config leaves it unset.
const DefaultShutdownTimeout = 10 * time.Second

// ServerConfig holds the listen addresses. An empty address disables that
// server.
type ServerConfig struct {
	HTTPListen      string
	GRPCListen      string
	MetricsListen   string
	ShutdownTimeout time.Duration
}

// Worker is a background loop owned by the manager. Run must return once
// ctx is done.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the task and event API
	APIHandler http.Handler

	// GRPCServer serves the assistant service (optional)
	GRPCServer *grpc.Server

	// MetricsHandler is the HTTP handler for Prometheus metrics (optional)
	MetricsHandler http.Handler

	// Drain stops new work and ends open event streams. It runs before the
	// servers are stopped so streaming handlers can return.
	Drain func(ctx context.Context) error

	// Workers run alongside the servers until shutdown.
	Workers []Worker
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
