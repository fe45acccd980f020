// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capability defines the narrow contracts the pipeline consumes from
// speech recognition, language model and speech synthesis providers.
package capability

import (
	"context"
	"errors"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
)

// Kind names a capability for metrics, logs and traces.
type Kind string

const (
	KindASR   Kind = "asr"
	KindLLM   Kind = "llm"
	KindTTS   Kind = "tts"
	KindAudio Kind = "audio"
)

var (
	ErrTimeout     = errors.New("capability deadline exceeded")
	ErrEmptyInput  = errors.New("capability input is empty")
	ErrUnavailable = errors.New("capability unavailable")
)

// Provider is implemented by every concrete vendor adapter.
type Provider interface {
	Name() string
	// Ready probes the provider without side effects.
	Ready(ctx context.Context) error
}

// ASR turns captured audio into text.
type ASR interface {
	Provider
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
}

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the LLM input: the full message list plus routing context.
type Prompt struct {
	SessionID string
	Channel   string
	Messages  []Message
}

// LastUser returns the content of the final user message.
func (p Prompt) LastUser() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == RoleUser {
			return p.Messages[i].Content
		}
	}
	return ""
}

// LLM produces a reply for a prompt.
type LLM interface {
	Provider
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// TTS renders text as audio.
type TTS interface {
	Provider
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Set bundles the collaborators a pipeline session needs.
type Set struct {
	ASR   ASR
	LLM   LLM
	TTS   TTS
	Audio audio.Engine
}

// Validate reports missing collaborators.
func (s Set) Validate() error {
	var errs []error
	if s.ASR == nil {
		errs = append(errs, errors.New("asr provider is required"))
	}
	if s.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if s.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if s.Audio == nil {
		errs = append(errs, errors.New("audio engine is required"))
	}
	return errors.Join(errs...)
}

// Health is the readiness of one provider.
type Health struct {
	Kind     Kind   `json:"kind"`
	Provider string `json:"provider"`
	Ready    bool   `json:"ready"`
	Error    string `json:"error,omitempty"`
}

// Check probes every provider in s.
func (s Set) Check(ctx context.Context) []Health {
	probe := func(kind Kind, name string, ready func(context.Context) error) Health {
		h := Health{Kind: kind, Provider: name, Ready: true}
		if err := ready(ctx); err != nil {
			h.Ready = false
			h.Error = err.Error()
		}
		return h
	}
	var out []Health
	if s.ASR != nil {
		out = append(out, probe(KindASR, s.ASR.Name(), s.ASR.Ready))
	}
	if s.LLM != nil {
		out = append(out, probe(KindLLM, s.LLM.Name(), s.LLM.Ready))
	}
	if s.TTS != nil {
		out = append(out, probe(KindTTS, s.TTS.Name(), s.TTS.Ready))
	}
	if s.Audio != nil {
		out = append(out, probe(KindAudio, s.Audio.Name(), s.Audio.Ready))
	}
	return out
}
