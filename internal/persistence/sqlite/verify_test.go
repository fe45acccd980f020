// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "lumi.db")

	db, err := Open(ctx, path, DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "healthy.db")

	db, err := Open(ctx, path, DefaultConfig())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err = db.ExecContext(ctx, "INSERT INTO t (data) VALUES (?)", strings.Repeat("A", 100))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	for _, mode := range []string{"quick", "full"} {
		issues, err := VerifyIntegrity(ctx, path, mode)
		require.NoError(t, err, mode)
		assert.Nil(t, issues, mode)
	}
}

func TestVerifyIntegrity_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not sqlite ", 512)), 0o600))

	issues, err := VerifyIntegrity(context.Background(), path, "quick")
	if err == nil {
		assert.NotEmpty(t, issues)
	}
}
