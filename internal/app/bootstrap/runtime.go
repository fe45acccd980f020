// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/factory"
	"github.com/yaotutu/lumi-assistant-cli/internal/config"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/controller"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
	"github.com/yaotutu/lumi-assistant-cli/internal/telemetry"
	"github.com/yaotutu/lumi-assistant-cli/internal/version"
)

// Runtime is the in-process assistant: the bus, the controller and every
// collaborator they need. Front-ends are layered on top.
type Runtime struct {
	Config     config.AppConfig
	Bus        *bus.Bus
	Registry   *registry.Registry
	Caps       capability.Set
	Dialogue   *dialogue.Manager
	Controller *controller.Controller
	Telemetry  *telemetry.Provider

	logger    zerolog.Logger
	drainOnce sync.Once
	drainErr  error
}

// NewRuntime builds the runtime for cfg. On error everything built so far is
// released.
func NewRuntime(ctx context.Context, cfg config.AppConfig) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, logger: log.WithComponent("runtime")}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	rt.Telemetry, err = telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "lumi",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return rt, fmt.Errorf("init telemetry: %w", err)
	}

	caps, policies, err := factory.Build(cfg)
	rt.Caps = caps
	if err != nil {
		return rt, fmt.Errorf("build capabilities: %w", err)
	}

	store, err := OpenDialogueStore(ctx, cfg.Dialogue)
	if err != nil {
		return rt, err
	}
	rt.Dialogue = dialogue.NewManager(store, DialogueOptions(cfg))

	rt.Bus = bus.New(bus.Options{
		BufferSize:  cfg.Pipeline.SubscriberBuffer,
		HistorySize: cfg.Pipeline.HistorySize,
	})
	rt.Registry = registry.New(cfg.Pipeline.RegistryCapacity)

	rt.Controller, err = controller.New(controller.Options{
		Caps:            caps,
		Policies:        policies,
		Bus:             rt.Bus,
		Registry:        rt.Registry,
		Dialogue:        rt.Dialogue,
		CaptureTimeout:  cfg.Pipeline.CaptureTimeout,
		PlaybackTimeout: cfg.Pipeline.PlaybackTimeout,
	})
	if err != nil {
		return rt, fmt.Errorf("init controller: %w", err)
	}

	rt.logger.Info().
		Str(log.FieldEvent, "runtime.ready").
		Str("asr", caps.ASR.Name()).
		Str("llm", caps.LLM.Name()).
		Str("tts", caps.TTS.Name()).
		Str("audio", caps.Audio.Name()).
		Str("dialogue_store", cfg.Dialogue.Store).
		Msg("assistant runtime ready")
	return rt, nil
}

// OpenDialogueStore opens the configured conversation store.
func OpenDialogueStore(ctx context.Context, cfg config.DialogueConfig) (dialogue.Store, error) {
	switch cfg.Store {
	case "sqlite":
		s, err := dialogue.OpenSQLite(ctx, cfg.SQLitePath, cfg.TitleLength)
		if err != nil {
			return nil, fmt.Errorf("open dialogue store %s: %w", cfg.SQLitePath, err)
		}
		return s, nil
	case "memory", "":
		return dialogue.NewMemoryStore(cfg.TitleLength), nil
	default:
		return nil, fmt.Errorf("unknown dialogue store %q", cfg.Store)
	}
}

// DialogueOptions maps the reloadable dialogue settings.
func DialogueOptions(cfg config.AppConfig) dialogue.Options {
	return dialogue.Options{
		HistoryLimit: cfg.Dialogue.HistoryLimit,
		Personality: dialogue.Personality{
			Name:     cfg.Dialogue.Name,
			Template: cfg.Dialogue.Prompt,
		},
	}
}

// Apply pushes the settings that can change without a restart.
func (rt *Runtime) Apply(cfg config.AppConfig) {
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		rt.logger.Warn().Err(err).Str(log.FieldEvent, "config.log_level_invalid").Msg("keeping previous log level")
	}
	if rt.Dialogue != nil {
		rt.Dialogue.Apply(DialogueOptions(cfg))
	}
	rt.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Str("log_level", cfg.Log.Level).
		Int("history_limit", cfg.Dialogue.HistoryLimit).
		Msg("applied reloaded configuration")
}

// Drain rejects new work, cancels live sessions and closes the bus so every
// subscriber stream ends. Later calls return the first result.
func (rt *Runtime) Drain(ctx context.Context) error {
	rt.drainOnce.Do(func() {
		if rt.Controller != nil {
			rt.drainErr = rt.Controller.Shutdown(ctx)
		}
		if rt.Bus != nil {
			rt.Bus.Close()
		}
	})
	return rt.drainErr
}

// CloseAudio releases the audio device.
func (rt *Runtime) CloseAudio(context.Context) error {
	if rt.Caps.Audio == nil {
		return nil
	}
	return rt.Caps.Audio.Close()
}

// CloseDialogue closes the conversation store.
func (rt *Runtime) CloseDialogue(context.Context) error {
	if rt.Dialogue == nil {
		return nil
	}
	return rt.Dialogue.Close()
}

// Close drains the runtime and releases every resource.
func (rt *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		rt.Drain(ctx),
		rt.CloseAudio(ctx),
		rt.CloseDialogue(ctx),
		rt.Telemetry.Shutdown(ctx),
	)
}
