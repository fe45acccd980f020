// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
)

type memConversation struct {
	meta     Conversation
	messages []capability.Message
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	titleLen int
	now      func() time.Time

	mu    sync.RWMutex
	convs map[string]*memConversation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore(titleLen int) *MemoryStore {
	return &MemoryStore{titleLen: titleLen, now: time.Now, convs: make(map[string]*memConversation)}
}

func (s *MemoryStore) New(_ context.Context, channel string) (Conversation, error) {
	now := s.now()
	c := &memConversation{meta: Conversation{
		ID:        uuid.NewString(),
		Channel:   channel,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.mu.Lock()
	s.convs[c.meta.ID] = c
	s.mu.Unlock()
	return c.meta, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, notFound(id)
	}
	return c.meta, nil
}

func (s *MemoryStore) List(_ context.Context, channel string, limit int) ([]Conversation, error) {
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if channel == "" || c.meta.Channel == channel {
			out = append(out, c.meta)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, id string, msgs ...capability.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return notFound(id)
	}
	for _, m := range msgs {
		if c.meta.Title == "" && m.Role == capability.RoleUser {
			c.meta.Title = Title(m.Content, s.titleLen)
		}
		c.messages = append(c.messages, m)
	}
	c.meta.Messages = len(c.messages)
	c.meta.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, id string, limit int) ([]capability.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, notFound(id)
	}
	msgs := c.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return notFound(id)
	}
	delete(s.convs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
