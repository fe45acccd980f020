// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/yaotutu/lumi-assistant-cli/internal/validate"
)

var (
	asrProviders   = []string{"mock", "openai"}
	llmProviders   = []string{"echo", "openai"}
	ttsProviders   = []string{"tone", "edge"}
	audioProviders = []string{"null", "miniaudio"}
	dialogueStores = []string{"memory", "sqlite"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"json", "console"}
	exporterTypes  = []string{"grpc", "http"}
)

// Validate validates an AppConfig using the centralized validation package.
// The returned error is a validate.ValidationError listing every bad field.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("log.level", cfg.Log.Level, logLevels)
	v.OneOf("log.format", cfg.Log.Format, logFormats)

	v.ListenAddr("api.httpListen", cfg.API.HTTPListen)
	if cfg.API.GRPCListen != "" {
		v.ListenAddr("api.grpcListen", cfg.API.GRPCListen)
	}
	if cfg.API.MetricsListen != "" {
		v.ListenAddr("api.metricsListen", cfg.API.MetricsListen)
	}
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	v.DurationRange("api.shutdownTimeout", cfg.API.ShutdownTimeout, time.Second, 5*time.Minute)

	p := cfg.Pipeline
	v.Range("pipeline.registryCapacity", p.RegistryCapacity, 1, 1_000_000)
	v.Range("pipeline.subscriberBuffer", p.SubscriberBuffer, 1, 65536)
	v.Range("pipeline.historySize", p.HistorySize, 1, 100_000)
	v.DurationRange("pipeline.captureTimeout", p.CaptureTimeout, time.Second, time.Hour)
	v.DurationRange("pipeline.asrTimeout", p.ASRTimeout, 10*time.Millisecond, 10*time.Minute)
	v.Range("pipeline.asrRetries", p.ASRRetries, 0, 5)
	v.DurationRange("pipeline.asrBackoff", p.ASRBackoff, 0, time.Minute)
	v.DurationRange("pipeline.llmTimeout", p.LLMTimeout, 10*time.Millisecond, 10*time.Minute)
	v.DurationRange("pipeline.ttsTimeout", p.TTSTimeout, 10*time.Millisecond, 10*time.Minute)
	v.DurationRange("pipeline.playbackTimeout", p.PlaybackTimeout, time.Second, time.Hour)

	v.OneOf("asr.provider", cfg.ASR.Provider, asrProviders)
	if cfg.ASR.BaseURL != "" {
		v.URL("asr.baseURL", cfg.ASR.BaseURL, []string{"http", "https"})
	}
	v.FloatRange("asr.ratePerSecond", cfg.ASR.RatePerSecond, 0, 1000)

	v.OneOf("llm.provider", cfg.LLM.Provider, llmProviders)
	if cfg.LLM.BaseURL != "" {
		v.URL("llm.baseURL", cfg.LLM.BaseURL, []string{"http", "https"})
	}
	v.FloatRange("llm.temperature", cfg.LLM.Temperature, 0, 2)
	v.Range("llm.maxTokens", cfg.LLM.MaxTokens, 1, 128_000)
	v.FloatRange("llm.ratePerSecond", cfg.LLM.RatePerSecond, 0, 1000)

	v.OneOf("tts.provider", cfg.TTS.Provider, ttsProviders)
	if cfg.TTS.Provider == "edge" {
		v.NotEmpty("tts.voice", cfg.TTS.Voice)
	}
	v.FloatRange("tts.ratePerSecond", cfg.TTS.RatePerSecond, 0, 1000)

	v.OneOf("audio.provider", cfg.Audio.Provider, audioProviders)
	v.Range("audio.sampleRate", cfg.Audio.SampleRate, 8000, 48000)
	v.FloatRange("audio.silenceThreshold", cfg.Audio.SilenceThreshold, 0, 32768)
	v.DurationRange("audio.silenceHang", cfg.Audio.SilenceHang, 100*time.Millisecond, time.Minute)
	v.DurationRange("audio.maxUtterance", cfg.Audio.MaxUtterance, time.Second, 10*time.Minute)

	v.Range("dialogue.historyLimit", cfg.Dialogue.HistoryLimit, 1, 1000)
	v.Range("dialogue.titleLength", cfg.Dialogue.TitleLength, 1, 200)
	v.OneOf("dialogue.store", cfg.Dialogue.Store, dialogueStores)
	if cfg.Dialogue.Store == "sqlite" {
		v.NotEmpty("dialogue.sqlitePath", cfg.Dialogue.SQLitePath)
		v.FilePath("dialogue.sqlitePath", cfg.Dialogue.SQLitePath)
	}
	v.NotEmpty("dialogue.name", cfg.Dialogue.Name)

	if cfg.Relay.Enabled {
		v.ListenAddr("relay.addr", cfg.Relay.Addr)
		v.NotEmpty("relay.channel", cfg.Relay.Channel)
		v.Range("relay.db", cfg.Relay.DB, 0, 15)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, exporterTypes)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}
	v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)

	return v.Err()
}
