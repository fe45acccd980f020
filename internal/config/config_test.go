// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaotutu/lumi-assistant-cli/internal/validate"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestDefaultYAML_ParsesToDefaults(t *testing.T) {
	cfg, err := Parse([]byte(DefaultYAML))
	require.NoError(t, err)
	if diff := cmp.Diff(Defaults(), cfg); diff != "" {
		t.Fatalf("DefaultYAML drifted from Defaults() (-want +got):\n%s", diff)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader("").WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "lumi.yaml", `
llm:
  provider: openai
  apiKey: sk-test
  model: gpt-4o
pipeline:
  asrTimeout: 3s
dialogue:
  name: Nova
`)
	cfg, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.ASRTimeout)
	assert.Equal(t, "Nova", cfg.Dialogue.Name)
	// untouched keys keep defaults
	assert.Equal(t, 60*time.Second, cfg.Pipeline.LLMTimeout)
	assert.Equal(t, "tone", cfg.TTS.Provider)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "lumi.yml", "llm:\n  model: from-file\n")
	cfg, err := NewLoader(path).WithEnvironment(map[string]string{
		"LUMI_LLM_MODEL":            "from-env",
		"LUMI_PIPELINE_ASR_TIMEOUT": "2s",
		"LUMI_LOG_LEVEL":            "debug",
		"LUMI_RELAY_ENABLED":        "true",
	}).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.ASRTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Relay.Enabled)
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	t.Setenv("LUMI_DIALOGUE_HISTORY_LIMIT", "7")
	cfg, err := NewLoader("").Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Dialogue.HistoryLimit)
}

func TestLoad_DotEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "LUMI_TTS_VOICE=en-US-AriaNeural\n")
	t.Cleanup(func() { _ = os.Unsetenv("LUMI_TTS_VOICE") })

	cfg, err := NewLoader("").WithDotEnv(dotenv).Load()
	require.NoError(t, err)
	assert.Equal(t, "en-US-AriaNeural", cfg.TTS.Voice)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := NewLoader("").
		WithDotEnv(filepath.Join(t.TempDir(), "absent.env")).
		WithEnvironment(map[string]string{}).
		Load()
	require.NoError(t, err)
}

func TestLoad_StrictRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "lumi.yaml", "llm:\n  modle: typo\n")
	_, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownConfigField), "got %v", err)
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeFile(t, "lumi.yaml", "log:\n  level: info\n---\nlog:\n  level: debug\n")
	_, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	assert.ErrorIs(t, err, ErrMultipleDocuments)
}

func TestLoad_RejectsNonYAMLExtension(t *testing.T) {
	path := writeFile(t, "lumi.json", "{}")
	_, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeFile(t, "lumi.yaml", "")
	cfg, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := NewLoader("").WithEnvironment(map[string]string{
		"LUMI_PIPELINE_ASR_TIMEOUT": "soon",
	}).Load()
	require.Error(t, err)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := Defaults()
	cfg.ASR.Provider = "azure"
	cfg.LLM.Temperature = 3
	cfg.Pipeline.RegistryCapacity = 0
	cfg.Dialogue.Store = "sqlite"
	cfg.Dialogue.SQLitePath = "../escape.db"

	err := Validate(cfg)
	require.Error(t, err)

	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{
		"pipeline.registryCapacity",
		"asr.provider",
		"llm.temperature",
		"dialogue.sqlitePath",
	}, ve.Fields())
}

func TestValidate_RelayAndTelemetryOnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.Addr = ""
	cfg.Telemetry.Endpoint = ""
	require.NoError(t, Validate(cfg))

	cfg.Relay.Enabled = true
	cfg.Telemetry.Enabled = true
	err := Validate(cfg)
	var ve validate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{"relay.addr", "telemetry.endpoint"}, ve.Fields())
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.APIKey = "sk-secret"
	cfg.API.Token = "tok"

	r := cfg.Redacted()
	assert.Equal(t, redacted, r.LLM.APIKey)
	assert.Equal(t, redacted, r.API.Token)
	assert.Empty(t, r.ASR.APIKey)
	assert.Empty(t, r.Relay.Password)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey, "original must be untouched")
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lumi.yaml")
	require.NoError(t, WriteDefault(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultYAML, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.ErrorIs(t, WriteDefault(path, false), ErrConfigExists)
	require.NoError(t, WriteDefault(path, true))

	cfg, err := NewLoader(path).WithEnvironment(map[string]string{}).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}
