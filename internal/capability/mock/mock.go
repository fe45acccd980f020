// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mock provides offline capability providers: configurable fakes for
// tests and the echo/tone providers used when no vendor is configured.
package mock

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
)

// ASR returns Transcript for every clip unless Fn is set.
type ASR struct {
	Transcript string
	Fn         func(ctx context.Context, clip audio.Clip) (string, error)
	calls      atomic.Int32
}

var _ capability.ASR = (*ASR)(nil)

func (m *ASR) Name() string                { return "mock" }
func (m *ASR) Ready(context.Context) error { return nil }
func (m *ASR) Calls() int                  { return int(m.calls.Load()) }

func (m *ASR) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	m.calls.Add(1)
	if m.Fn != nil {
		return m.Fn(ctx, clip)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Transcript, nil
}

// LLM echoes the last user message unless Reply or Fn is set.
type LLM struct {
	Reply string
	Fn    func(ctx context.Context, prompt capability.Prompt) (string, error)

	mu      sync.Mutex
	prompts []capability.Prompt
}

var _ capability.LLM = (*LLM)(nil)

func (m *LLM) Name() string {
	if m.Reply == "" && m.Fn == nil {
		return "echo"
	}
	return "mock"
}

func (m *LLM) Ready(context.Context) error { return nil }

// Prompts returns every prompt received so far.
func (m *LLM) Prompts() []capability.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capability.Prompt(nil), m.prompts...)
}

func (m *LLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *LLM) Complete(ctx context.Context, prompt capability.Prompt) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(ctx, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	return prompt.LastUser(), nil
}

// TTS renders a silent PCM clip whose length follows the text, unless Fn is set.
type TTS struct {
	Fn    func(ctx context.Context, text string) (audio.Clip, error)
	calls atomic.Int32
}

var _ capability.TTS = (*TTS)(nil)

func (m *TTS) Name() string                { return "tone" }
func (m *TTS) Ready(context.Context) error { return nil }
func (m *TTS) Calls() int                  { return int(m.calls.Load()) }

func (m *TTS) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	m.calls.Add(1)
	if m.Fn != nil {
		return m.Fn(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return audio.Clip{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, capability.ErrEmptyInput
	}
	f := audio.DefaultFormat()
	// 60ms of silence per rune keeps playback timing plausible.
	n := len([]rune(text)) * f.BytesPerSecond() * 60 / 1000
	return audio.Clip{Encoding: audio.EncodingPCM, Format: f, Data: make([]byte, n)}, nil
}
