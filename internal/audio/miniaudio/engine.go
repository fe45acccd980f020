// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package miniaudio implements the audio engine on top of miniaudio (malgo):
// default microphone for capture and default speaker for playback.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
)

// Config tunes capture. Zero values pick defaults.
type Config struct {
	SampleRate       int
	SilenceThreshold float64
	SilenceHang      time.Duration
	MaxUtterance     time.Duration
}

// Engine owns the miniaudio context; devices are created per capture and
// per playback so the microphone is only open while listening.
type Engine struct {
	cfg    Config
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ audio.Engine = (*Engine)(nil)

// New initialises the miniaudio backend.
func New(cfg Config) (*Engine, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 0.02
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = 30 * time.Second
	}
	logger := log.WithComponent("audio")
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug().Str(log.FieldEvent, "audio.backend").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo init context: %w", err)
	}
	return &Engine{cfg: cfg, ctx: actx, logger: logger}, nil
}

func (e *Engine) Name() string { return "miniaudio" }

// Ready checks that at least one capture and one playback device exist.
func (e *Engine) Ready(context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	capture, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("list capture devices: %w", err)
	}
	playback, err := e.ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("list playback devices: %w", err)
	}
	if len(capture) == 0 || len(playback) == 0 {
		return errors.New("no audio devices available")
	}
	return nil
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("audio engine closed")
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	_ = e.ctx.Uninit()
	e.ctx.Free()
	return nil
}

// StartCapture opens the default microphone as 16-bit mono.
func (e *Engine) StartCapture(ctx context.Context) (audio.Capture, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	format := audio.Format{SampleRate: e.cfg.SampleRate, Channels: 1}
	c := &capture{
		format: format,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
		vad: audio.SilenceDetector{
			Threshold: e.cfg.SilenceThreshold,
			Hang:      e.cfg.SilenceHang,
			Format:    format,
		},
		logger: e.logger,
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(format.SampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1
	devCfg.PerformanceProfile = malgo.LowLatency
	devCfg.PeriodSizeInFrames = uint32(format.SampleRate / 50)
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16)

	dev, err := malgo.InitDevice(e.ctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			c.push(in[:n])
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	c.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	go func() {
		t := time.NewTimer(e.cfg.MaxUtterance)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			e.logger.Info().Str(log.FieldEvent, "audio.capture_limit").Msg("maximum utterance length reached")
		case <-c.done:
		}
		c.Stop()
	}()
	return c, nil
}

type capture struct {
	format audio.Format
	device *malgo.Device
	logger zerolog.Logger

	mu     sync.Mutex
	frames chan []byte
	closed bool
	vad    audio.SilenceDetector

	done chan struct{}
	once sync.Once
}

func (c *capture) Frames() <-chan []byte { return c.frames }
func (c *capture) Format() audio.Format  { return c.format }

// push runs on the miniaudio callback thread; it must not block.
func (c *capture) push(in []byte) {
	frame := append([]byte(nil), in...)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.frames <- frame:
	default:
		c.logger.Warn().Str(log.FieldEvent, "audio.capture_overrun").Int("bytes", len(frame)).Msg("capture frame dropped")
	}
	ended := c.vad.Feed(frame)
	c.mu.Unlock()
	if ended {
		go c.Stop()
	}
}

func (c *capture) Stop() {
	c.once.Do(func() {
		if c.device != nil {
			_ = c.device.Stop()
			c.device.Uninit()
		}
		c.mu.Lock()
		c.closed = true
		close(c.frames)
		c.mu.Unlock()
		close(c.done)
	})
}

// Play decodes clip to PCM and plays it on the default speaker.
func (e *Engine) Play(ctx context.Context, clip audio.Clip) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	pcm, err := audio.ToPCM(clip)
	if err != nil {
		return err
	}
	if pcm.Empty() {
		return nil
	}

	p := &player{data: pcm.Data, finished: make(chan struct{})}
	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.SampleRate = uint32(pcm.Format.SampleRate)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = uint32(pcm.Format.Channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PeriodSizeInFrames = uint32(pcm.Format.SampleRate / 10)
	devCfg.Periods = 4

	dev, err := malgo.InitDevice(e.ctx.Context, devCfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return fmt.Errorf("start playback device: %w", err)
	}
	defer func() { _ = dev.Stop() }()

	select {
	case <-p.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type player struct {
	mu       sync.Mutex
	data     []byte
	finished chan struct{}
	once     sync.Once
}

func (p *player) fill(out, _ []byte, _ uint32) {
	p.mu.Lock()
	n := copy(out, p.data)
	p.data = p.data[n:]
	remaining := len(p.data)
	p.mu.Unlock()
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if remaining == 0 {
		p.once.Do(func() { close(p.finished) })
	}
}
