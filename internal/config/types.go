// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the complete runtime configuration. YAML keys map to the file
// format; env tags map to LUMI_-prefixed overrides.
type AppConfig struct {
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	API       APIConfig       `yaml:"api" envPrefix:"API_"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envPrefix:"PIPELINE_"`
	ASR       ASRConfig       `yaml:"asr" envPrefix:"ASR_"`
	LLM       LLMConfig       `yaml:"llm" envPrefix:"LLM_"`
	TTS       TTSConfig       `yaml:"tts" envPrefix:"TTS_"`
	Audio     AudioConfig     `yaml:"audio" envPrefix:"AUDIO_"`
	Dialogue  DialogueConfig  `yaml:"dialogue" envPrefix:"DIALOGUE_"`
	Relay     RelayConfig     `yaml:"relay" envPrefix:"RELAY_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

// APIConfig configures the network front-ends.
type APIConfig struct {
	HTTPListen      string        `yaml:"httpListen" env:"HTTP_LISTEN"`
	GRPCListen      string        `yaml:"grpcListen" env:"GRPC_LISTEN"`
	MetricsListen   string        `yaml:"metricsListen" env:"METRICS_LISTEN"`
	Token           string        `yaml:"token" env:"TOKEN"`
	RateLimit       int           `yaml:"rateLimit" env:"RATE_LIMIT"` // requests per minute per client, 0 disables
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// PipelineConfig bounds the session runner and its capability calls.
type PipelineConfig struct {
	RegistryCapacity int           `yaml:"registryCapacity" env:"REGISTRY_CAPACITY"`
	SubscriberBuffer int           `yaml:"subscriberBuffer" env:"SUBSCRIBER_BUFFER"`
	HistorySize      int           `yaml:"historySize" env:"HISTORY_SIZE"`
	CaptureTimeout   time.Duration `yaml:"captureTimeout" env:"CAPTURE_TIMEOUT"`
	ASRTimeout       time.Duration `yaml:"asrTimeout" env:"ASR_TIMEOUT"`
	ASRRetries       int           `yaml:"asrRetries" env:"ASR_RETRIES"`
	ASRBackoff       time.Duration `yaml:"asrBackoff" env:"ASR_BACKOFF"`
	LLMTimeout       time.Duration `yaml:"llmTimeout" env:"LLM_TIMEOUT"`
	TTSTimeout       time.Duration `yaml:"ttsTimeout" env:"TTS_TIMEOUT"`
	PlaybackTimeout  time.Duration `yaml:"playbackTimeout" env:"PLAYBACK_TIMEOUT"`
}

// ASRConfig selects the speech recognizer.
type ASRConfig struct {
	Provider       string  `yaml:"provider" env:"PROVIDER"` // mock | openai
	BaseURL        string  `yaml:"baseURL" env:"BASE_URL"`
	APIKey         string  `yaml:"apiKey" env:"API_KEY"`
	Model          string  `yaml:"model" env:"MODEL"`
	Language       string  `yaml:"language" env:"LANGUAGE"`
	RatePerSecond  float64 `yaml:"ratePerSecond" env:"RATE_PER_SECOND"`
	MockTranscript string  `yaml:"mockTranscript" env:"MOCK_TRANSCRIPT"`
}

// LLMConfig selects the reply generator.
type LLMConfig struct {
	Provider      string  `yaml:"provider" env:"PROVIDER"` // echo | openai
	BaseURL       string  `yaml:"baseURL" env:"BASE_URL"`
	APIKey        string  `yaml:"apiKey" env:"API_KEY"`
	Model         string  `yaml:"model" env:"MODEL"`
	Temperature   float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens     int     `yaml:"maxTokens" env:"MAX_TOKENS"`
	RatePerSecond float64 `yaml:"ratePerSecond" env:"RATE_PER_SECOND"`
}

// TTSConfig selects the speech synthesizer.
type TTSConfig struct {
	Provider      string  `yaml:"provider" env:"PROVIDER"` // tone | edge
	Voice         string  `yaml:"voice" env:"VOICE"`
	RatePerSecond float64 `yaml:"ratePerSecond" env:"RATE_PER_SECOND"`
}

// AudioConfig selects the device engine.
type AudioConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"` // null | miniaudio
	SampleRate       int           `yaml:"sampleRate" env:"SAMPLE_RATE"`
	SilenceThreshold float64       `yaml:"silenceThreshold" env:"SILENCE_THRESHOLD"`
	SilenceHang      time.Duration `yaml:"silenceHang" env:"SILENCE_HANG"`
	MaxUtterance     time.Duration `yaml:"maxUtterance" env:"MAX_UTTERANCE"`
}

// DialogueConfig configures conversation memory and the system prompt.
type DialogueConfig struct {
	HistoryLimit int    `yaml:"historyLimit" env:"HISTORY_LIMIT"`
	TitleLength  int    `yaml:"titleLength" env:"TITLE_LENGTH"`
	Store        string `yaml:"store" env:"STORE"` // memory | sqlite
	SQLitePath   string `yaml:"sqlitePath" env:"SQLITE_PATH"`
	Name         string `yaml:"name" env:"NAME"`
	Prompt       string `yaml:"prompt" env:"PROMPT"`
}

// RelayConfig mirrors bus events onto a Redis channel.
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Channel  string `yaml:"channel" env:"CHANNEL"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ExporterType string  `yaml:"exporter" env:"EXPORTER"` // grpc | http
	Endpoint     string  `yaml:"endpoint" env:"ENDPOINT"`
	SamplingRate float64 `yaml:"samplingRate" env:"SAMPLING_RATE"`
}
