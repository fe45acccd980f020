// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yaotutu/lumi-assistant-cli/internal/api/problem"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

const maxConversationList = 200

// ConversationInfo describes one stored conversation.
type ConversationInfo struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Title     string    `json:"title,omitempty"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationList is the GET /api/v1/conversations body.
type ConversationList struct {
	Conversations []ConversationInfo `json:"conversations"`
}

// ConversationExport is a conversation with its full message log.
type ConversationExport struct {
	Conversation ConversationInfo     `json:"conversation"`
	Messages     []capability.Message `json:"messages"`
}

func conversationInfo(c dialogue.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:        c.ID,
		Channel:   c.Channel,
		Title:     c.Title,
		Messages:  c.Messages,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// dialogueEnabled writes a 404 problem when history is switched off.
func (s *Server) dialogueEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Dialogue == nil {
		problem.Write(w, r, http.StatusNotFound, "not_found", "conversation history is disabled")
		return false
	}
	return true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxConversationList {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", model.ErrInvalidInput, maxConversationList))
			return
		}
		limit = n
	}
	convs, err := s.deps.Dialogue.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("channel")), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := ConversationList{Conversations: make([]ConversationInfo, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationInfo(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	var req ChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.deps.Dialogue.Reset(r.Context(), channelOrDefault(req.Channel))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationInfo(conv))
}

func (s *Server) handleResumeConversation(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	var req ChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	conv, err := s.deps.Dialogue.Resume(r.Context(), channelOrDefault(req.Channel), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationInfo(conv))
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	tr, err := s.deps.Dialogue.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationExport{Conversation: conversationInfo(tr.Conversation), Messages: tr.Messages})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if !s.dialogueEnabled(w, r) {
		return
	}
	if err := s.deps.Dialogue.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
