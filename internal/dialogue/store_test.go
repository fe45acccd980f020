// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	t := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemoryStore(10)
	mem.now = stepClock()

	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "lumi.db"), 10)
	require.NoError(t, err)
	sq.now = stepClock()
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := s.New(ctx, "cli")
			require.NoError(t, err)
			assert.NotEmpty(t, c.ID)
			assert.Equal(t, "cli", c.Channel)
			assert.Empty(t, c.Title)

			require.NoError(t, s.Append(ctx, c.ID,
				capability.Message{Role: capability.RoleUser, Content: "what is the weather like today"},
				capability.Message{Role: capability.RoleAssistant, Content: "Sunny."},
			))
			require.NoError(t, s.Append(ctx, c.ID,
				capability.Message{Role: capability.RoleUser, Content: "and tomorrow?"},
			))

			loaded, err := s.Load(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, "what is th...", loaded.Title)
			assert.Equal(t, 3, loaded.Messages)
			assert.True(t, loaded.UpdatedAt.After(loaded.CreatedAt))

			all, err := s.Messages(ctx, c.ID, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "Sunny.", all[1].Content)

			last, err := s.Messages(ctx, c.ID, 2)
			require.NoError(t, err)
			assert.Equal(t, []capability.Message{
				{Role: capability.RoleAssistant, Content: "Sunny."},
				{Role: capability.RoleUser, Content: "and tomorrow?"},
			}, last)
		})
	}
}

func TestStore_ListOrdering(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := s.New(ctx, "cli")
			require.NoError(t, err)
			b, err := s.New(ctx, "cli")
			require.NoError(t, err)
			other, err := s.New(ctx, "grpc-1")
			require.NoError(t, err)

			// touching a moves it to the front
			require.NoError(t, s.Append(ctx, a.ID, capability.Message{Role: capability.RoleUser, Content: "hi"}))

			cli, err := s.List(ctx, "cli", 0)
			require.NoError(t, err)
			require.Len(t, cli, 2)
			assert.Equal(t, a.ID, cli[0].ID)
			assert.Equal(t, b.ID, cli[1].ID)

			everything, err := s.List(ctx, "", 0)
			require.NoError(t, err)
			assert.Len(t, everything, 3)

			limited, err := s.List(ctx, "", 1)
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, a.ID, limited[0].ID)
			_ = other
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Load(ctx, "missing")
			assert.ErrorIs(t, err, model.ErrNotFound)
			assert.ErrorIs(t, s.Append(ctx, "missing", capability.Message{Role: capability.RoleUser}), model.ErrNotFound)
			_, err = s.Messages(ctx, "missing", 0)
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			gone, err := s.New(ctx, "cli")
			require.NoError(t, err)
			kept, err := s.New(ctx, "cli")
			require.NoError(t, err)
			require.NoError(t, s.Append(ctx, gone.ID, capability.Message{Role: capability.RoleUser, Content: "forget me"}))

			require.NoError(t, s.Delete(ctx, gone.ID))

			_, err = s.Load(ctx, gone.ID)
			assert.ErrorIs(t, err, model.ErrNotFound)
			_, err = s.Messages(ctx, gone.ID, 0)
			assert.ErrorIs(t, err, model.ErrNotFound)
			left, err := s.List(ctx, "", 0)
			require.NoError(t, err)
			require.Len(t, left, 1)
			assert.Equal(t, kept.ID, left[0].ID)

			assert.ErrorIs(t, s.Delete(ctx, gone.ID), model.ErrNotFound)
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lumi.db")

	s, err := OpenSQLite(ctx, path, 30)
	require.NoError(t, err)
	c, err := s.New(ctx, "cli")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, c.ID, capability.Message{Role: capability.RoleUser, Content: "remember me"}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, 30)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	loaded, err := s.Load(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "remember me", loaded.Title)
	msgs, err := s.Messages(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []capability.Message{{Role: capability.RoleUser, Content: "remember me"}}, msgs)
}
