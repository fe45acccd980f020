// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yaotutu/lumi-assistant-cli/internal/api/problem"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/controller"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// ChannelRequest selects the channel for listen operations.
type ChannelRequest struct {
	Channel string `json:"channel,omitempty"`
}

// TextRequest submits typed input.
type TextRequest struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string              `json:"status"`
	Running   bool                `json:"running"`
	Providers []capability.Health `json:"providers"`
}

// StatusResponse is the /api/v1/status body.
type StatusResponse struct {
	Controller controller.Status `json:"controller"`
	Bus        bus.Stats         `json:"bus"`
}

// HistoryResponse is the /api/v1/history body.
type HistoryResponse struct {
	ConversationID string               `json:"conversationId"`
	Title          string               `json:"title,omitempty"`
	Messages       []capability.Message `json:"messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Providers: s.deps.Caps.Check(r.Context())}
	if resp.Providers == nil {
		resp.Providers = []capability.Health{}
	}
	if s.deps.Controller != nil {
		resp.Running = s.deps.Controller.Status().Running
	}
	status := http.StatusOK
	for _, h := range resp.Providers {
		if !h.Ready {
			resp.Status = "degraded"
		}
	}
	if !resp.Running {
		resp.Status = "stopping"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openAPISpec)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Controller: s.deps.Controller.Status(),
		Bus:        s.deps.Bus.Stats(),
	})
}

func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	channel := channelOrDefault(req.Channel)
	s.idempotent(w, r, "listen.start:"+channel, func(ctx context.Context) (model.Task, error) {
		return s.deps.Controller.StartListening(ctx, channel)
	})
}

func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if !s.decode(w, r, &req) {
		return
	}
	channel := channelOrDefault(req.Channel)
	s.idempotent(w, r, "text:"+channel, func(ctx context.Context) (model.Task, error) {
		return s.deps.Controller.SubmitText(ctx, channel, req.Text)
	})
}

func (s *Server) handleStopListening(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	task, err := s.deps.Controller.StopListening(r.Context(), channelOrDefault(req.Channel))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Controller.GetTaskStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Controller.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	channel := channelOrDefault(r.URL.Query().Get("channel"))
	conv, msgs, err := s.deps.Dialogue.History(r.Context(), channel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []capability.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ConversationID: conv.ID, Title: conv.Title, Messages: msgs})
}

// idempotent runs op once per Idempotency-Key. A repeated key returns the
// task the first call produced instead of starting another session.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, scope string, op func(context.Context) (model.Task, error)) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" {
		key = scope + ":" + key
		if id, ok := s.deps.Registry.GetIdempotency(key); ok {
			if task, err := s.deps.Controller.GetTaskStatus(r.Context(), id); err == nil {
				w.Header().Set(HeaderIdempotentReplay, "true")
				writeJSON(w, http.StatusOK, task)
				return
			}
		}
	}
	task, err := op(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" {
		s.deps.Registry.PutIdempotency(key, task.ID, s.cfg.IdempotencyTTL)
	}
	writeJSON(w, http.StatusAccepted, task)
}

// decode reads an optional JSON body into dst. Unknown fields are rejected.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		problem.Write(w, r, http.StatusBadRequest, string(model.KindInvalidInput), fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func channelOrDefault(channel string) string {
	if c := strings.TrimSpace(channel); c != "" {
		return c
	}
	return DefaultChannel
}

// StatusFor maps a controller error to its HTTP status.
func StatusFor(err error) int {
	switch model.KindOf(err) {
	case model.KindConflict, model.KindNoActiveSession:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldEvent, "api.internal_error").Str(log.FieldPath, r.URL.Path).Msg("request failed")
		detail = "internal error"
	}
	problem.Write(w, r, status, string(model.KindOf(err)), detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
