// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package audio defines the capture/playback collaborator used by pipeline
// sessions and the clip types that flow between capabilities.
package audio

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
	bytesPerSample    = 2
)

// Encoding names the byte layout of a Clip.
type Encoding string

const (
	EncodingPCM Encoding = "pcm_s16le"
	EncodingMP3 Encoding = "mp3"
)

var ErrUnsupportedEncoding = errors.New("unsupported audio encoding")

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sampleRate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// DefaultFormat is 16 kHz mono, the rate speech recognisers expect.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// BytesPerSecond returns the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Clip is a finished piece of audio.
type Clip struct {
	Encoding Encoding
	Format   Format
	Data     []byte
}

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Duration returns the playback length of a PCM clip, zero otherwise.
func (c Clip) Duration() time.Duration {
	if c.Encoding != EncodingPCM {
		return 0
	}
	bps := c.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bps)
}

// Capture is one in-progress recording. Frames yields PCM chunks and is closed
// at the utterance boundary: either Stop was called or the engine detected the
// end of speech.
type Capture interface {
	Frames() <-chan []byte
	Format() Format
	Stop()
}

// Engine is the audio collaborator: microphone in, speaker out.
type Engine interface {
	Name() string
	StartCapture(ctx context.Context) (Capture, error)
	// Play blocks until the clip finished playing or ctx is done.
	Play(ctx context.Context, clip Clip) error
	Ready(ctx context.Context) error
	Close() error
}

// Collect drains c into a single PCM clip. It returns when the frame channel
// closes or ctx is done; on ctx the capture is stopped and ctx.Err returned.
func Collect(ctx context.Context, c Capture) (Clip, error) {
	clip := Clip{Encoding: EncodingPCM, Format: c.Format()}
	for {
		select {
		case frame, ok := <-c.Frames():
			if !ok {
				return clip, nil
			}
			clip.Data = append(clip.Data, frame...)
		case <-ctx.Done():
			c.Stop()
			return clip, ctx.Err()
		}
	}
}
