// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package openai adapts OpenAI-compatible endpoints (chat completions and
// audio transcriptions) to the capability contracts.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
)

// Config is shared by the chat and transcription adapters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	// Language is an ISO-639-1 hint for transcription.
	Language string
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

func newClient(cfg Config) (*goopenai.Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: api key or base url is required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return goopenai.NewClientWithConfig(clientCfg), nil
}

// LLM calls the chat completions endpoint.
type LLM struct {
	cfg    Config
	client *goopenai.Client
}

var _ capability.LLM = (*LLM)(nil)

// NewLLM builds a chat adapter.
func NewLLM(cfg Config) (*LLM, error) {
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &LLM{cfg: cfg, client: client}, nil
}

func (l *LLM) Name() string { return "openai" }

// Ready lists models, which any compatible server answers cheaply.
func (l *LLM) Ready(ctx context.Context) error {
	if _, err := l.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai models: %w", err)
	}
	return nil
}

func (l *LLM) Complete(ctx context.Context, prompt capability.Prompt) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	resp, err := l.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       l.cfg.Model,
		Messages:    msgs,
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: l.cfg.Temperature,
		User:        prompt.Channel,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// ASR calls the audio transcription endpoint with a WAV upload.
type ASR struct {
	cfg    Config
	client *goopenai.Client
}

var _ capability.ASR = (*ASR)(nil)

// NewASR builds a transcription adapter.
func NewASR(cfg Config) (*ASR, error) {
	if cfg.Model == "" {
		cfg.Model = goopenai.Whisper1
	}
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ASR{cfg: cfg, client: client}, nil
}

func (a *ASR) Name() string { return "openai" }

func (a *ASR) Ready(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai models: %w", err)
	}
	return nil
}

func (a *ASR) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Empty() {
		return "", nil
	}
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return "", err
	}
	resp, err := a.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    a.cfg.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Format:   goopenai.AudioResponseFormatJSON,
		Language: a.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
