// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

const maxReplay = 100

// filterFromQuery reads ?topic= (repeatable or comma separated), ?session=,
// ?channel= and ?history=.
func filterFromQuery(r *http.Request) (bus.Filter, int, error) {
	q := r.URL.Query()
	var f bus.Filter
	for _, v := range q["topic"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Topics = append(f.Topics, t)
			}
		}
	}
	f.SessionID = q.Get("session")
	f.Channel = q.Get("channel")

	replay := 0
	if v := q.Get("history"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxReplay {
			return f, 0, fmt.Errorf("%w: history must be between 0 and %d", model.ErrInvalidInput, maxReplay)
		}
		replay = n
	}
	return f, replay, nil
}

// handleSSE streams matching events as text/event-stream until the client
// goes away. Each event id is "<session>:<sequence>".
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	f, replay, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc := http.NewResponseController(w)

	sub := s.deps.Bus.Subscribe(f)
	defer sub.Close()
	metrics.AddStreamClients("sse", 1)
	defer metrics.AddStreamClients("sse", -1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "api.sse_unsupported").Msg("response writer cannot flush")
		return
	}

	logger := log.WithContext(r.Context(), s.logger)
	logger.Debug().
		Str(log.FieldEvent, "api.stream_opened").
		Str("transport", "sse").
		Uint64(log.FieldSubscriberID, sub.ID()).
		Msg("event stream opened")

	var sent *bus.Replayed
	if replay > 0 {
		past := s.deps.Bus.History(f, replay)
		for _, ev := range past {
			if err := writeSSE(w, ev); err != nil {
				return
			}
		}
		_ = rc.Flush()
		sent = bus.NewReplayed(past)
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if sent.Delivered(ev) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.SessionID != "" {
		if _, err := fmt.Fprintf(w, "id: %s:%d\n", ev.SessionID, ev.Sequence); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data)
	return err
}

// handleWebSocket streams matching events as JSON text frames. Client
// frames are ignored except for close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	f, replay, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Debug().Err(err).Str(log.FieldEvent, "api.ws_upgrade_failed").Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	sub := s.deps.Bus.Subscribe(f)
	defer sub.Close()
	metrics.AddStreamClients("websocket", 1)
	defer metrics.AddStreamClients("websocket", -1)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev model.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}
	var sent *bus.Replayed
	if replay > 0 {
		past := s.deps.Bus.History(f, replay)
		for _, ev := range past {
			if err := send(ev); err != nil {
				return
			}
		}
		sent = bus.NewReplayed(past)
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if sent.Delivered(ev) {
				continue
			}
			if err := send(ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
