// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package http exposes the operation controller and the event bus over
// HTTP: JSON task operations, server-sent events and a WebSocket stream.
package http

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/api/middleware"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/controller"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
)

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPISpec returns the embedded API description.
func OpenAPISpec() []byte { return openAPISpec }

const (
	// DefaultChannel owns sessions started without an explicit channel.
	DefaultChannel = "http"

	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderIdempotentReplay = "Idempotent-Replay"
	defaultIdempotencyTTL  = 10 * time.Minute
	defaultHeartbeat       = 15 * time.Second
	maxBodyBytes           = 64 << 10
	wsWriteTimeout         = 5 * time.Second
)

// Config tunes the HTTP surface.
type Config struct {
	Token              string
	RateLimitPerMinute int
	// TracingService names the otelhttp spans. Empty disables HTTP tracing.
	TracingService    string
	IdempotencyTTL    time.Duration
	HeartbeatInterval time.Duration
	Logger            *zerolog.Logger
}

// Deps are the collaborators behind the routes. Dialogue may be nil.
type Deps struct {
	Controller *controller.Controller
	Bus        *bus.Bus
	Registry   *registry.Registry
	Dialogue   *dialogue.Manager
	Caps       capability.Set
}

// Server serves the task and event API.
type Server struct {
	cfg      Config
	deps     Deps
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New constructs a server.
func New(cfg Config, deps Deps) *Server {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	logger := log.WithComponent("api")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the routed handler with the ingress middleware stack.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		EnableSecurityHeaders: true,
		RateLimitPerMinute:    s.cfg.RateLimitPerMinute,
		Token:                 s.cfg.Token,
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", s.handleOpenAPI)
		r.Get("/status", s.handleStatus)
		r.Post("/listen/start", s.handleStartListening)
		r.Post("/listen/stop", s.handleStopListening)
		r.Post("/text", s.handleSubmitText)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancel)
		r.Get("/history", s.handleHistory)
		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleNewConversation)
		r.Get("/conversations/{id}", s.handleExportConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Post("/conversations/{id}/resume", s.handleResumeConversation)
		r.Get("/events", s.handleSSE)
		r.Get("/events/ws", s.handleWebSocket)
	})
	return r
}
