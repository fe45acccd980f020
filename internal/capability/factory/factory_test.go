// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/config"
)

func TestBuild_Defaults(t *testing.T) {
	set, pol, err := Build(config.Defaults())
	require.NoError(t, err)
	require.NoError(t, set.Validate())
	t.Cleanup(func() { _ = set.Audio.Close() })

	assert.Equal(t, "mock", set.ASR.Name())
	assert.Equal(t, "echo", set.LLM.Name())
	assert.Equal(t, "tone", set.TTS.Name())
	assert.Equal(t, "null", set.Audio.Name())

	assert.Equal(t, capability.KindASR, pol.ASR.Kind)
	assert.Equal(t, 10*time.Second, pol.ASR.Timeout)
	assert.Equal(t, 1, pol.ASR.Retries)
	assert.Equal(t, 250*time.Millisecond, pol.ASR.Backoff)
	assert.Equal(t, 60*time.Second, pol.LLM.Timeout)
	assert.Zero(t, pol.LLM.Retries)
	assert.Equal(t, 15*time.Second, pol.TTS.Timeout)
	assert.Nil(t, pol.ASR.Limiter)

	for _, h := range set.Check(context.Background()) {
		assert.True(t, h.Ready, "%s not ready: %s", h.Kind, h.Error)
	}
}

func TestBuild_OpenAIAndEdge(t *testing.T) {
	cfg := config.Defaults()
	cfg.ASR.Provider = "openai"
	cfg.ASR.BaseURL = "http://127.0.0.1:1/v1"
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.RatePerSecond = 2
	cfg.TTS.Provider = "edge"

	set, pol, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", set.ASR.Name())
	assert.Equal(t, "openai", set.LLM.Name())
	assert.Equal(t, "edge", set.TTS.Name())
	assert.Equal(t, "openai", pol.LLM.Provider)
	assert.NotNil(t, pol.LLM.Limiter)
}

func TestBuild_OpenAIRequiresCredentials(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.Provider = "openai"
	_, _, err := Build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm")
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.TTS.Provider = "polly"
	_, _, err := Build(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "polly"`)
}

func TestBuild_MockTranscript(t *testing.T) {
	cfg := config.Defaults()
	cfg.ASR.MockTranscript = "hello"
	set, _, err := Build(cfg)
	require.NoError(t, err)
	got, err := set.ASR.Transcribe(context.Background(), audioClip())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func audioClip() audio.Clip {
	return audio.Clip{Encoding: audio.EncodingPCM, Format: audio.DefaultFormat(), Data: make([]byte, 320)}
}
