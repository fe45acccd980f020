// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

func newTestManager(limit int) *Manager {
	m := NewManager(NewMemoryStore(30), Options{
		HistoryLimit: limit,
		Personality:  Personality{Name: "Lumi", Template: "I am {{name}}."},
	})
	m.now = func() time.Time { return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC) }
	return m
}

func TestManager_PromptShape(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)

	p, err := m.Prompt(ctx, "sess-1", "cli", "turn on the lamp")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "cli", p.Channel)
	assert.Equal(t, []capability.Message{
		{Role: capability.RoleSystem, Content: "I am Lumi."},
		{Role: capability.RoleUser, Content: "turn on the lamp"},
	}, p.Messages)
	assert.Equal(t, "turn on the lamp", p.LastUser())
}

func TestManager_HistoryLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(4)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(ctx, "cli", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
	}
	p, err := m.Prompt(ctx, "s", "cli", "q5")
	require.NoError(t, err)
	// system + 4 history + new user turn
	require.Len(t, p.Messages, 6)
	assert.Equal(t, "q3", p.Messages[1].Content)
	assert.Equal(t, "a4", p.Messages[4].Content)
	assert.Equal(t, "q5", p.Messages[5].Content)
}

func TestManager_RecordWithoutReply(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)

	require.NoError(t, m.Record(ctx, "cli", "echo me", ""))
	conv, msgs, err := m.History(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, "echo me", conv.Title)
	assert.Equal(t, []capability.Message{{Role: capability.RoleUser, Content: "echo me"}}, msgs)
}

func TestManager_ChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)

	require.NoError(t, m.Record(ctx, "cli", "from cli", "ok"))
	require.NoError(t, m.Record(ctx, "grpc-1", "from grpc", "ok"))

	_, cli, err := m.History(ctx, "cli")
	require.NoError(t, err)
	_, grpc, err := m.History(ctx, "grpc-1")
	require.NoError(t, err)
	assert.Equal(t, "from cli", cli[0].Content)
	assert.Equal(t, "from grpc", grpc[0].Content)
}

func TestManager_ResetAndResume(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)

	first, err := m.Current(ctx, "cli")
	require.NoError(t, err)
	require.NoError(t, m.Record(ctx, "cli", "old topic", "ok"))

	second, err := m.Reset(ctx, "cli")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	_, msgs, err := m.History(ctx, "cli")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = m.Resume(ctx, "cli", first.ID)
	require.NoError(t, err)
	_, msgs, err = m.History(ctx, "cli")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestManager_ListDeleteExport(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)

	require.NoError(t, m.Record(ctx, "cli", "remember the milk", "Noted."))
	first, err := m.Current(ctx, "cli")
	require.NoError(t, err)
	_, err = m.Current(ctx, "grpc")
	require.NoError(t, err)

	cli, err := m.List(ctx, "cli", 0)
	require.NoError(t, err)
	require.Len(t, cli, 1)
	assert.Equal(t, first.ID, cli[0].ID)
	all, err := m.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tr, err := m.Export(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, tr.Conversation.ID)
	assert.Equal(t, "remember the milk", tr.Conversation.Title)
	assert.Equal(t, []capability.Message{
		{Role: capability.RoleUser, Content: "remember the milk"},
		{Role: capability.RoleAssistant, Content: "Noted."},
	}, tr.Messages)

	require.NoError(t, m.Delete(ctx, first.ID))
	_, err = m.Export(ctx, first.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, first.ID), model.ErrNotFound)

	// the channel moves on to a fresh conversation
	next, msgs, err := m.History(ctx, "cli")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Empty(t, msgs)
}

func TestManager_ExportEmptyConversation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(20)
	conv, err := m.Reset(ctx, "cli")
	require.NoError(t, err)
	tr, err := m.Export(ctx, conv.ID)
	require.NoError(t, err)
	assert.NotNil(t, tr.Messages)
	assert.Empty(t, tr.Messages)
}

func TestManager_ApplyDefaults(t *testing.T) {
	m := NewManager(NewMemoryStore(0), Options{})
	m.now = func() time.Time { return time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC) }
	p, err := m.Prompt(context.Background(), "s", "cli", "hi")
	require.NoError(t, err)
	assert.Contains(t, p.Messages[0].Content, "You are Lumi")
	assert.Contains(t, p.Messages[0].Content, "Good evening")

	m.Apply(Options{Personality: Personality{Name: "Nova", Template: "{{name}}"}})
	p, err = m.Prompt(context.Background(), "s", "cli", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Nova", p.Messages[0].Content)
}
