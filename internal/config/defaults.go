// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns a configuration that runs fully offline: mock ASR, echo
// LLM, tone TTS and the null audio engine.
func Defaults() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info", Format: "console"},
		API: APIConfig{
			HTTPListen:      "127.0.0.1:8420",
			GRPCListen:      "127.0.0.1:8421",
			MetricsListen:   "127.0.0.1:9420",
			RateLimit:       120,
			ShutdownTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			RegistryCapacity: 256,
			SubscriberBuffer: 64,
			HistorySize:      100,
			CaptureTimeout:   30 * time.Second,
			ASRTimeout:       10 * time.Second,
			ASRRetries:       1,
			ASRBackoff:       250 * time.Millisecond,
			LLMTimeout:       60 * time.Second,
			TTSTimeout:       15 * time.Second,
			PlaybackTimeout:  2 * time.Minute,
		},
		ASR: ASRConfig{Provider: "mock", Language: "zh"},
		LLM: LLMConfig{Provider: "echo", Temperature: 0.7, MaxTokens: 500},
		TTS: TTSConfig{Provider: "tone", Voice: "zh-CN-XiaoxiaoNeural"},
		Audio: AudioConfig{
			Provider:         "null",
			SampleRate:       16000,
			SilenceThreshold: 500,
			SilenceHang:      1500 * time.Millisecond,
			MaxUtterance:     30 * time.Second,
		},
		Dialogue: DialogueConfig{
			HistoryLimit: 20,
			TitleLength:  30,
			Store:        "memory",
			SQLitePath:   "lumi.db",
			Name:         "Lumi",
		},
		Relay: RelayConfig{Addr: "127.0.0.1:6379", Channel: "lumi:events"},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// DefaultYAML is the commented template written by "config init". It parses
// strictly to Defaults().
const DefaultYAML = `# Lumi assistant configuration.
# Every key can be overridden with a LUMI_ environment variable,
# e.g. LUMI_LLM_API_KEY or LUMI_PIPELINE_ASR_TIMEOUT=5s.

log:
  level: info        # debug | info | warn | error
  format: console    # console | json

api:
  httpListen: 127.0.0.1:8420
  grpcListen: 127.0.0.1:8421
  metricsListen: 127.0.0.1:9420
  token: ""          # bearer token for the HTTP/gRPC front-ends; empty disables auth
  rateLimit: 120     # requests per minute per client; 0 disables
  shutdownTimeout: 10s

pipeline:
  registryCapacity: 256
  subscriberBuffer: 64
  historySize: 100
  captureTimeout: 30s
  asrTimeout: 10s
  asrRetries: 1
  asrBackoff: 250ms
  llmTimeout: 60s
  ttsTimeout: 15s
  playbackTimeout: 2m0s

asr:
  provider: mock     # mock | openai
  baseURL: ""
  apiKey: ""
  model: ""
  language: zh
  ratePerSecond: 0
  mockTranscript: ""

llm:
  provider: echo     # echo | openai
  baseURL: ""
  apiKey: ""
  model: ""
  temperature: 0.7
  maxTokens: 500
  ratePerSecond: 0

tts:
  provider: tone     # tone | edge
  voice: zh-CN-XiaoxiaoNeural
  ratePerSecond: 0

audio:
  provider: "null"   # null | miniaudio
  sampleRate: 16000
  silenceThreshold: 500
  silenceHang: 1.5s
  maxUtterance: 30s

dialogue:
  historyLimit: 20
  titleLength: 30
  store: memory      # memory | sqlite
  sqlitePath: lumi.db
  name: Lumi
  prompt: ""         # supports {{name}}, {{current_time}} and {{greeting}}

relay:
  enabled: false
  addr: 127.0.0.1:6379
  channel: "lumi:events"
  password: ""
  db: 0

telemetry:
  enabled: false
  exporter: grpc     # grpc | http
  endpoint: localhost:4317
  samplingRate: 1.0
`
