// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
)

// DefaultHistoryLimit is the number of stored messages sent with each prompt.
const DefaultHistoryLimit = 20

// Options tunes prompt assembly. It can be swapped at runtime with Apply.
type Options struct {
	HistoryLimit int
	Personality  Personality
}

// Manager maps channels to their current conversation and assembles prompts.
type Manager struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	opts    Options
	current map[string]string
}

// NewManager wraps store.
func NewManager(store Store, opts Options) *Manager {
	m := &Manager{
		store:   store,
		now:     time.Now,
		logger:  log.WithComponent("dialogue"),
		current: make(map[string]string),
	}
	m.Apply(opts)
	return m
}

// Apply replaces the prompt options; later prompts use the new values.
func (m *Manager) Apply(opts Options) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Personality.Name == "" {
		opts.Personality.Name = "Lumi"
	}
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Current returns the channel's conversation, creating one on first use.
func (m *Manager) Current(ctx context.Context, channel string) (Conversation, error) {
	m.mu.Lock()
	id, ok := m.current[channel]
	m.mu.Unlock()
	if ok {
		return m.store.Load(ctx, id)
	}
	return m.Reset(ctx, channel)
}

// CurrentID returns the channel's conversation id without creating one.
func (m *Manager) CurrentID(channel string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[channel]
}

// Reset starts a fresh conversation for channel.
func (m *Manager) Reset(ctx context.Context, channel string) (Conversation, error) {
	conv, err := m.store.New(ctx, channel)
	if err != nil {
		return Conversation{}, fmt.Errorf("new conversation: %w", err)
	}
	m.mu.Lock()
	m.current[channel] = conv.ID
	m.mu.Unlock()
	m.logger.Info().
		Str(log.FieldEvent, "dialogue.conversation_started").
		Str(log.FieldChannel, channel).
		Str("conversation_id", conv.ID).
		Msg("new conversation")
	return conv, nil
}

// Resume makes an existing conversation current for channel.
func (m *Manager) Resume(ctx context.Context, channel, id string) (Conversation, error) {
	conv, err := m.store.Load(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	m.mu.Lock()
	m.current[channel] = conv.ID
	m.mu.Unlock()
	return conv, nil
}

// List returns stored conversations, most recently updated first. An empty
// channel lists every channel.
func (m *Manager) List(ctx context.Context, channel string, limit int) ([]Conversation, error) {
	return m.store.List(ctx, channel, limit)
}

// Delete removes a conversation. Channels that had it current start a fresh
// one on their next turn.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	for channel, cur := range m.current {
		if cur == id {
			delete(m.current, channel)
		}
	}
	m.mu.Unlock()
	m.logger.Info().
		Str(log.FieldEvent, "dialogue.conversation_deleted").
		Str("conversation_id", id).
		Msg("conversation deleted")
	return nil
}

// Export returns the conversation with its full message log.
func (m *Manager) Export(ctx context.Context, id string) (Transcript, error) {
	conv, err := m.store.Load(ctx, id)
	if err != nil {
		return Transcript{}, err
	}
	msgs, err := m.store.Messages(ctx, id, 0)
	if err != nil {
		return Transcript{}, err
	}
	if msgs == nil {
		msgs = []capability.Message{}
	}
	return Transcript{Conversation: conv, Messages: msgs}, nil
}

// Prompt assembles system prompt, recent history and the new transcript.
func (m *Manager) Prompt(ctx context.Context, sessionID, channel, transcript string) (capability.Prompt, error) {
	m.mu.Lock()
	opts := m.opts
	m.mu.Unlock()

	conv, err := m.Current(ctx, channel)
	if err != nil {
		return capability.Prompt{}, err
	}
	history, err := m.store.Messages(ctx, conv.ID, opts.HistoryLimit)
	if err != nil {
		return capability.Prompt{}, fmt.Errorf("load history: %w", err)
	}

	msgs := make([]capability.Message, 0, len(history)+2)
	msgs = append(msgs, capability.Message{Role: capability.RoleSystem, Content: opts.Personality.Render(m.now())})
	msgs = append(msgs, history...)
	msgs = append(msgs, capability.Message{Role: capability.RoleUser, Content: transcript})
	return capability.Prompt{SessionID: sessionID, Channel: channel, Messages: msgs}, nil
}

// Record stores a finished exchange. An empty reply stores only the user turn.
func (m *Manager) Record(ctx context.Context, channel, transcript, reply string) error {
	conv, err := m.Current(ctx, channel)
	if err != nil {
		return err
	}
	msgs := []capability.Message{{Role: capability.RoleUser, Content: transcript}}
	if reply != "" {
		msgs = append(msgs, capability.Message{Role: capability.RoleAssistant, Content: reply})
	}
	if err := m.store.Append(ctx, conv.ID, msgs...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns every stored message of the channel's current conversation.
func (m *Manager) History(ctx context.Context, channel string) (Conversation, []capability.Message, error) {
	conv, err := m.Current(ctx, channel)
	if err != nil {
		return Conversation{}, nil, err
	}
	msgs, err := m.store.Messages(ctx, conv.ID, 0)
	if err != nil {
		return Conversation{}, nil, err
	}
	return conv, msgs, nil
}

// Close closes the store.
func (m *Manager) Close() error {
	return m.store.Close()
}
