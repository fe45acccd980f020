// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audio

import (
	"context"
	"sync"
	"time"
)

// Scripted is an in-memory Engine. Each StartCapture consumes the next queued
// utterance; with AutoEnd the frame channel closes after the last frame,
// otherwise it stays open until Stop. Played clips are recorded. It backs the
// "null" audio provider and tests.
type Scripted struct {
	AutoEnd    bool
	PlayDelay  time.Duration
	PlayErr    error
	FrameDelay time.Duration

	mu         sync.Mutex
	utterances [][][]byte
	played     []Clip
	format     Format
	name       string
	discard    bool
}

var _ Engine = (*Scripted)(nil)

// NewScripted returns an engine that will replay utterances in order.
func NewScripted(autoEnd bool, utterances ...[][]byte) *Scripted {
	return &Scripted{AutoEnd: autoEnd, utterances: utterances, format: DefaultFormat(), name: "scripted"}
}

// NewNull returns the engine used without audio hardware: captures stay
// silent until stopped and playback is discarded.
func NewNull() *Scripted {
	s := NewScripted(false)
	s.name = "null"
	s.discard = true
	return s
}

// Queue appends an utterance for a later capture.
func (s *Scripted) Queue(frames ...[]byte) {
	s.mu.Lock()
	s.utterances = append(s.utterances, frames)
	s.mu.Unlock()
}

// Played returns the clips handed to Play so far.
func (s *Scripted) Played() []Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Clip(nil), s.played...)
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) Ready(context.Context) error { return nil }

func (s *Scripted) Close() error { return nil }

func (s *Scripted) StartCapture(ctx context.Context) (Capture, error) {
	s.mu.Lock()
	var frames [][]byte
	if len(s.utterances) > 0 {
		frames = s.utterances[0]
		s.utterances = s.utterances[1:]
	}
	s.mu.Unlock()

	c := &scriptedCapture{
		frames: make(chan []byte),
		stop:   make(chan struct{}),
		format: s.format,
	}
	go c.run(ctx, frames, s.AutoEnd, s.FrameDelay)
	return c, nil
}

func (s *Scripted) Play(ctx context.Context, clip Clip) error {
	if s.PlayDelay > 0 {
		t := time.NewTimer(s.PlayDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.PlayErr != nil {
		return s.PlayErr
	}
	if s.discard {
		return nil
	}
	s.mu.Lock()
	s.played = append(s.played, clip)
	s.mu.Unlock()
	return nil
}

type scriptedCapture struct {
	frames chan []byte
	stop   chan struct{}
	once   sync.Once
	format Format
}

func (c *scriptedCapture) Frames() <-chan []byte { return c.frames }
func (c *scriptedCapture) Format() Format        { return c.format }

func (c *scriptedCapture) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *scriptedCapture) run(ctx context.Context, frames [][]byte, autoEnd bool, delay time.Duration) {
	defer close(c.frames)
	for _, f := range frames {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case c.frames <- f:
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
	if autoEnd {
		return
	}
	select {
	case <-c.stop:
	case <-ctx.Done():
	}
}
