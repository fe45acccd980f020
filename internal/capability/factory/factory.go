// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package factory constructs capability providers and call policies from
// configuration.
package factory

import (
	"fmt"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/audio/miniaudio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/edgetts"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/mock"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/openai"
	"github.com/yaotutu/lumi-assistant-cli/internal/config"
)

// Build returns the provider set and per-stage policies described by cfg.
// The caller owns the returned audio engine and must Close it.
func Build(cfg config.AppConfig) (capability.Set, capability.Policies, error) {
	var (
		set capability.Set
		err error
	)

	if set.ASR, err = buildASR(cfg.ASR); err != nil {
		return set, capability.Policies{}, err
	}
	if set.LLM, err = buildLLM(cfg.LLM); err != nil {
		return set, capability.Policies{}, err
	}
	if set.TTS, err = buildTTS(cfg.TTS); err != nil {
		return set, capability.Policies{}, err
	}
	if set.Audio, err = BuildAudio(cfg.Audio); err != nil {
		return set, capability.Policies{}, err
	}
	return set, PoliciesFor(cfg, set), nil
}

// PoliciesFor derives call policies for the providers in set. Only ASR
// retries, and only on timeout.
func PoliciesFor(cfg config.AppConfig, set capability.Set) capability.Policies {
	name := func(p capability.Provider) string {
		if p == nil {
			return ""
		}
		return p.Name()
	}
	return capability.Policies{
		ASR: capability.Policy{
			Kind:     capability.KindASR,
			Provider: name(set.ASR),
			Timeout:  cfg.Pipeline.ASRTimeout,
			Retries:  cfg.Pipeline.ASRRetries,
			Backoff:  cfg.Pipeline.ASRBackoff,
			Limiter:  capability.NewLimiter(cfg.ASR.RatePerSecond, 1),
		},
		LLM: capability.Policy{
			Kind:     capability.KindLLM,
			Provider: name(set.LLM),
			Timeout:  cfg.Pipeline.LLMTimeout,
			Limiter:  capability.NewLimiter(cfg.LLM.RatePerSecond, 1),
		},
		TTS: capability.Policy{
			Kind:     capability.KindTTS,
			Provider: name(set.TTS),
			Timeout:  cfg.Pipeline.TTSTimeout,
			Limiter:  capability.NewLimiter(cfg.TTS.RatePerSecond, 1),
		},
	}
}

func buildASR(c config.ASRConfig) (capability.ASR, error) {
	switch c.Provider {
	case "mock", "":
		return &mock.ASR{Transcript: c.MockTranscript}, nil
	case "openai":
		asr, err := openai.NewASR(openai.Config{
			BaseURL:  c.BaseURL,
			APIKey:   c.APIKey,
			Model:    c.Model,
			Language: c.Language,
		})
		if err != nil {
			return nil, fmt.Errorf("asr: %w", err)
		}
		return asr, nil
	default:
		return nil, fmt.Errorf("asr: unknown provider %q", c.Provider)
	}
}

func buildLLM(c config.LLMConfig) (capability.LLM, error) {
	switch c.Provider {
	case "echo", "":
		return &mock.LLM{}, nil
	case "openai":
		llm, err := openai.NewLLM(openai.Config{
			BaseURL:     c.BaseURL,
			APIKey:      c.APIKey,
			Model:       c.Model,
			Temperature: float32(c.Temperature),
			MaxTokens:   c.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", c.Provider)
	}
}

func buildTTS(c config.TTSConfig) (capability.TTS, error) {
	switch c.Provider {
	case "tone", "":
		return &mock.TTS{}, nil
	case "edge":
		return edgetts.New(edgetts.Config{Voice: c.Voice}, nil), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", c.Provider)
	}
}

// BuildAudio opens the configured audio engine. The null engine never
// captures any sound and discards playback.
func BuildAudio(c config.AudioConfig) (audio.Engine, error) {
	switch c.Provider {
	case "null", "":
		return audio.NewNull(), nil
	case "miniaudio":
		eng, err := miniaudio.New(miniaudio.Config{
			SampleRate:       c.SampleRate,
			SilenceThreshold: c.SilenceThreshold,
			SilenceHang:      c.SilenceHang,
			MaxUtterance:     c.MaxUtterance,
		})
		if err != nil {
			return nil, fmt.Errorf("audio: %w", err)
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("audio: unknown provider %q", c.Provider)
	}
}
