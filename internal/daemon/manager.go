// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon runs the network front-ends and background workers and
// tears them down in a fixed order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
)

// Server names accepted by Manager.Addr.
const (
	ServerHTTP    = "http"
	ServerGRPC    = "grpc"
	ServerMetrics = "metrics"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: starting servers, handling shutdown.
type Manager interface {
	// Start starts all configured servers and blocks until shutdown
	Start(ctx context.Context) error

	// Shutdown gracefully shuts down all servers
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)

	// Addr returns the bound address of a started server, or "".
	Addr(server string) string
}

// manager implements the Manager interface.
type manager struct {
	serverCfg ServerConfig
	deps      Deps

	apiServer     *http.Server
	metricsServer *http.Server
	grpcServer    *grpc.Server
	addrs         map[string]string

	shutdownHooks []namedHook

	// serving tracks server and worker goroutines
	serving     sync.WaitGroup
	stopWorkers context.CancelFunc
	stopped     chan struct{}
	started     bool
	stopping    bool
	mu          sync.Mutex

	logger zerolog.Logger
}

// namedHook represents a shutdown hook with a name for logging
type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given configuration and dependencies.
func NewManager(serverCfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if serverCfg.ShutdownTimeout <= 0 {
		serverCfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	return &manager{
		serverCfg:     serverCfg,
		deps:          deps,
		logger:        deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
		addrs:         make(map[string]string),
		stopped:       make(chan struct{}),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start binds every configured listener, serves until ctx is cancelled or a
// server fails, then shuts down.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	// Setup runs under the lock so a concurrent Shutdown sees every server.
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true

	m.logger.Info().
		Str(log.FieldEvent, "manager.start").
		Str("http", m.serverCfg.HTTPListen).
		Str("grpc", m.serverCfg.GRPCListen).
		Str("metrics", m.serverCfg.MetricsListen).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	listeners, err := m.bind()
	if err != nil {
		// Hooks still run on the caller's Shutdown.
		m.mu.Unlock()
		return err
	}

	// One slot per goroutine so a failing server never blocks.
	errChan := make(chan error, len(listeners)+len(m.deps.Workers))

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	m.stopWorkers = stopWorkers

	if ln, ok := listeners[ServerMetrics]; ok {
		m.metricsServer = &http.Server{
			Handler:           m.deps.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		m.serveHTTP(ServerMetrics, m.metricsServer, ln, errChan)
	}
	if ln, ok := listeners[ServerGRPC]; ok {
		m.grpcServer = m.deps.GRPCServer
		m.serveGRPC(ln, errChan)
	}
	for _, w := range m.deps.Workers {
		m.runWorker(workerCtx, w, errChan)
	}
	if ln, ok := listeners[ServerHTTP]; ok {
		m.apiServer = &http.Server{
			Handler:           m.deps.APIHandler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
		m.serveHTTP(ServerHTTP, m.apiServer, ln, errChan)
	}
	m.mu.Unlock()

	// Wait for shutdown signal, server error or an external Shutdown
	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str(log.FieldEvent, "manager.server_error").Msg("server error, initiating shutdown")
		if shutdownErr := m.Shutdown(ctx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str(log.FieldEvent, "manager.signal").Msg("shutdown signal received")
		return m.Shutdown(ctx)
	case <-m.stopped:
		return nil
	}
}

// bind opens every configured listener up front so address conflicts fail
// Start synchronously. Callers hold m.mu.
func (m *manager) bind() (map[string]net.Listener, error) {
	want := []struct {
		name string
		addr string
		on   bool
	}{
		{ServerHTTP, m.serverCfg.HTTPListen, true},
		{ServerGRPC, m.serverCfg.GRPCListen, m.deps.GRPCServer != nil},
		{ServerMetrics, m.serverCfg.MetricsListen, m.deps.MetricsHandler != nil},
	}

	listeners := make(map[string]net.Listener, len(want))
	for _, w := range want {
		if !w.on || w.addr == "" {
			continue
		}
		ln, err := net.Listen("tcp", w.addr)
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return nil, fmt.Errorf("%w: %s on %s: %v", ErrServerStartFailed, w.name, w.addr, err)
		}
		listeners[w.name] = ln
		m.addrs[w.name] = ln.Addr().String()
		m.logger.Info().
			Str(log.FieldEvent, "manager.listening").
			Str("server", w.name).
			Str(log.FieldAddr, ln.Addr().String()).
			Msg("server listening")
	}
	return listeners, nil
}

func (m *manager) serveHTTP(name string, srv *http.Server, ln net.Listener, errChan chan<- error) {
	m.serving.Add(1)
	go func() {
		defer m.serving.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str(log.FieldEvent, name+".server.failed").
				Msg("server failed")
			errChan <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

func (m *manager) serveGRPC(ln net.Listener, errChan chan<- error) {
	m.serving.Add(1)
	go func() {
		defer m.serving.Done()
		if err := m.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			m.logger.Error().
				Err(err).
				Str(log.FieldEvent, "grpc.server.failed").
				Msg("gRPC server failed")
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
}

func (m *manager) runWorker(ctx context.Context, w Worker, errChan chan<- error) {
	m.serving.Add(1)
	go func() {
		defer m.serving.Done()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error().
				Err(err).
				Str(log.FieldEvent, "worker.failed").
				Str("worker", w.Name).
				Msg("background worker failed")
			errChan <- fmt.Errorf("worker %s: %w", w.Name, err)
		}
	}()
}

// Shutdown drains work, stops the servers and workers, then runs the hooks.
// It is bounded by the configured shutdown timeout regardless of ctx
// cancellation, and only the first call does any work.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	stopWorkers := m.stopWorkers
	m.mu.Unlock()
	defer close(m.stopped)

	m.logger.Info().Str(log.FieldEvent, "manager.stopping").Msg("shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.serverCfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	if m.deps.Drain != nil {
		if err := m.deps.Drain(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain: %w", err))
		}
	}

	if m.apiServer != nil {
		m.logger.Debug().Msg("shutting down API server")
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}

	if m.grpcServer != nil {
		m.logger.Debug().Msg("shutting down gRPC server")
		stopped := make(chan struct{})
		go func() {
			m.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			m.grpcServer.Stop()
			<-stopped
			errs = append(errs, fmt.Errorf("gRPC server shutdown: %w", shutdownCtx.Err()))
		}
	}

	if m.metricsServer != nil {
		m.logger.Debug().Msg("shutting down metrics server")
		if err := m.metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if stopWorkers != nil {
		stopWorkers()
	}
	done := make(chan struct{})
	go func() {
		m.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("waiting for servers: %w", shutdownCtx.Err()))
	}

	// Execute shutdown hooks in reverse order (LIFO)
	m.mu.Lock()
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()
	m.logger.Debug().Int("hooks", len(hooks)).Msg("executing shutdown hooks")
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str(log.FieldEvent, "manager.hook_failed").
				Str("hook", hook.name).
				Int64(log.FieldDuration, time.Since(hookStart).Milliseconds()).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Int64(log.FieldDuration, time.Since(hookStart).Milliseconds()).
				Msg("shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Str(log.FieldEvent, "manager.stopped").
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Str(log.FieldEvent, "manager.stopped").Msg("daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

func (m *manager) Addr(server string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addrs[server]
}
