// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dialogue keeps per-channel conversation history and builds the
// prompt the LLM stage sends.
package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// DefaultTitleLength caps conversation titles in runes.
const DefaultTitleLength = 30

// Conversation is the metadata of one stored dialogue.
type Conversation struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists conversations. Implementations are safe for concurrent use.
type Store interface {
	// New creates an empty conversation owned by channel.
	New(ctx context.Context, channel string) (Conversation, error)
	// Load returns the conversation metadata or an error wrapping model.ErrNotFound.
	Load(ctx context.Context, id string) (Conversation, error)
	// List returns conversations, most recently updated first. An empty
	// channel lists all; a non-positive limit returns everything.
	List(ctx context.Context, channel string, limit int) ([]Conversation, error)
	// Append adds messages in order. The first user message sets the title.
	Append(ctx context.Context, id string, msgs ...capability.Message) error
	// Messages returns the last limit messages in chronological order.
	Messages(ctx context.Context, id string, limit int) ([]capability.Message, error)
	// Delete removes a conversation and its messages.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Transcript is an exported conversation with every stored message.
type Transcript struct {
	Conversation Conversation         `json:"conversation"`
	Messages     []capability.Message `json:"messages"`
}

func notFound(id string) error {
	return fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
}
