// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaotutu/lumi-assistant-cli/internal/config"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

func execute(t *testing.T, environ map[string]string, args ...string) (string, error) {
	t.Helper()
	if environ == nil {
		environ = map[string]string{}
	}
	cmd := newRootCmd(&rootOptions{environ: environ})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lumi v")
}

func TestConfigInitValidateShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumi.yaml")

	out, err := execute(t, nil, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, nil, "config", "init", path)
	require.ErrorIs(t, err, config.ErrConfigExists)

	_, err = execute(t, nil, "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, nil, "-c", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	out, err = execute(t, map[string]string{"LUMI_API_TOKEN": "supersecret"}, "-c", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "httpListen: 127.0.0.1:8420")
	assert.Contains(t, out, "***redacted***")
	assert.NotContains(t, out, "supersecret")
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: nope\n"), 0o600))

	_, err := execute(t, nil, "-c", path, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestDoctorReportsHealthyStack(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	dbPath := filepath.Join(t.TempDir(), "lumi.db")
	store, err := dialogue.OpenSQLite(context.Background(), dbPath, 20)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := execute(t, map[string]string{
		"LUMI_DIALOGUE_STORE":       "sqlite",
		"LUMI_DIALOGUE_SQLITE_PATH": dbPath,
		"LUMI_RELAY_ENABLED":        "true",
		"LUMI_RELAY_ADDR":           mr.Addr(),
	}, "doctor")
	require.NoError(t, err, out)
	assert.Contains(t, out, "mock")
	assert.Contains(t, out, "tone")
	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, mr.Addr())
	assert.NotContains(t, out, "FAIL")
}

func TestDoctorFailsOnUnreachableRelay(t *testing.T) {
	out, err := execute(t, map[string]string{
		"LUMI_RELAY_ENABLED": "true",
		"LUMI_RELAY_ADDR":    "127.0.0.1:1",
	}, "doctor", "--timeout", "3s")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDoctorFailed)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, "FAIL")
}

func TestExitCodeDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("plain")))
	assert.Equal(t, 3, exitCode(fmt.Errorf("wrapped: %w", &exitError{code: 3, err: errors.New("x")})))
}

func TestDialTarget(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8421", dialTarget(":8421"))
	assert.Equal(t, "127.0.0.1:8421", dialTarget("0.0.0.0:8421"))
	assert.Equal(t, "assistant.lan:8421", dialTarget("assistant.lan:8421"))
	assert.Equal(t, "unix:///tmp/lumi.sock", dialTarget("unix:///tmp/lumi.sock"))
}

func TestFilteredDropsOtherChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan model.Event, 2)
	in <- model.Event{Topic: model.TopicResult, Channel: "web"}
	in <- model.Event{Topic: model.TopicResult, Channel: "cli"}
	close(in)

	out := filtered(ctx, in, bus.Filter{Channel: "cli"})
	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-out:
			if !ok {
				assert.Equal(t, []string{"cli"}, got)
				return
			}
			got = append(got, ev.Channel)
		case <-timeout:
			t.Fatal("filtered feed did not close")
		}
	}
}
