// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package edgetts synthesises speech with Microsoft Edge neural voices.
package edgetts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
)

const DefaultVoice = "zh-CN-XiaoxiaoNeural"

// Config selects the voice.
type Config struct {
	Voice string
}

// Communicator is the subset of the edge-tts client used here: one
// synthesis round trip per instance.
type Communicator interface {
	Stream() ([]byte, error)
}

// Dialer prepares a communicator for text in voice.
type Dialer func(text, voice string) (Communicator, error)

// receiveTimeout is the edge-tts websocket read timeout in seconds.
const receiveTimeout = 15

func dialEdge(text, voice string) (Communicator, error) {
	c, err := edge_tts.NewCommunicate(text,
		edge_tts.SetVoice(voice),
		edge_tts.SetReceiveTimeout(receiveTimeout),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// TTS returns MP3 clips.
type TTS struct {
	voice string
	dial  Dialer
}

var _ capability.TTS = (*TTS)(nil)

// New builds the adapter. A nil dialer uses the Edge service.
func New(cfg Config, dial Dialer) *TTS {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if dial == nil {
		dial = dialEdge
	}
	return &TTS{voice: cfg.Voice, dial: dial}
}

func (t *TTS) Name() string { return "edge" }

// Voice returns the configured voice name.
func (t *TTS) Voice() string { return t.voice }

// Ready validates the voice name shape; the service has no cheap probe.
func (t *TTS) Ready(context.Context) error {
	if strings.Count(t.voice, "-") < 2 || !strings.HasSuffix(t.voice, "Neural") {
		return fmt.Errorf("edge tts: voice %q is not a neural voice name", t.voice)
	}
	return nil
}

// Synthesize runs the blocking Edge client and honours ctx by abandoning the
// call; the client closes its websocket when Stream returns.
func (t *TTS) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, capability.ErrEmptyInput
	}
	type out struct {
		data []byte
		err  error
	}
	done := make(chan out, 1)
	go func() {
		comm, err := t.dial(text, t.voice)
		if err != nil {
			done <- out{err: fmt.Errorf("edge tts connect: %w", err)}
			return
		}
		data, err := comm.Stream()
		done <- out{data: data, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return audio.Clip{}, fmt.Errorf("edge tts: %w", r.err)
		}
		if len(r.data) == 0 {
			return audio.Clip{}, errors.New("edge tts: empty audio")
		}
		return audio.Clip{Encoding: audio.EncodingMP3, Data: r.data}, nil
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	}
}
