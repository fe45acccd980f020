// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

var errEmptyReply = errors.New("empty reply")

// capture collects frames until the engine reports end of utterance,
// StopCapture is called or the capture timeout elapses.
func (s *Session) capture(ctx context.Context) {
	if s.deps.Caps.Audio == nil {
		s.fail(model.KindInternal, model.SessionCapturing, errors.New("no audio engine configured"))
		return
	}
	c, err := s.deps.Caps.Audio.StartCapture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.finishCancelled()
			return
		}
		s.fail(model.KindInternal, model.SessionCapturing, fmt.Errorf("start capture: %w", err))
		return
	}

	watchDone := make(chan struct{})
	go func() {
		var timeout <-chan time.Time
		if d := s.deps.CaptureTimeout; d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case <-s.stopCh:
		case <-timeout:
			s.logger.Info().Str(log.FieldEvent, "session.capture_timeout").Msg("capture timed out, finalizing")
		case <-watchDone:
			return
		}
		c.Stop()
	}()

	clip, err := audio.Collect(ctx, c)
	close(watchDone)
	if err != nil || ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if clip.Empty() {
		s.nothingHeard()
		return
	}
	s.clip = clip
	_ = s.advance(model.EvCaptureDone, model.TopicStateChanged, model.Payload{})
}

func (s *Session) recognize(ctx context.Context) {
	clip := s.clip
	s.clip = audio.Clip{}

	asr := s.deps.Caps.ASR
	if asr == nil {
		s.fail(model.KindASRFailure, model.SessionRecognizing, errors.New("no asr provider configured"))
		return
	}
	text, err := capability.Invoke(ctx, s.deps.Policies.ASR, func(ctx context.Context) (string, error) {
		return asr.Transcribe(ctx, clip)
	})
	if ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if err != nil {
		kind := model.KindASRFailure
		if capability.IsTimeout(err) {
			kind = model.KindASRTimeout
		}
		s.fail(kind, model.SessionRecognizing, err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.nothingHeard()
		return
	}
	if err := s.setTranscript(text); err != nil {
		s.fail(model.KindInternal, model.SessionRecognizing, err)
		return
	}
	_ = s.advance(model.EvTranscribed, model.TopicTranscript, model.Payload{Transcript: text})
}

// think asks the LLM for a reply. Any failure degrades to echoing the
// transcript instead of failing the session.
func (s *Session) think(ctx context.Context) {
	transcript := s.Result().Transcript

	reply, err := s.ask(ctx, transcript)
	if ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if err == nil {
		reply = dialogue.StripThinking(reply)
		if reply == "" {
			err = errEmptyReply
		}
	}

	degraded := err != nil
	if degraded {
		reply = transcript
		se := model.NewStageError(model.KindLLMFailure, model.SessionThinking, err)
		metrics.IncFallback("degraded")
		s.logger.Warn().
			Err(se).
			Str(log.FieldEvent, "session.degraded").
			Msg("language model unavailable, echoing transcript")
		s.publish(model.TopicDegraded, model.SessionThinking, model.Payload{
			Transcript: transcript,
			ReplyText:  reply,
			Degraded:   true,
			ErrorKind:  model.KindLLMFailure,
			Message:    se.Error(),
		})
	}

	s.record(ctx, transcript, reply, degraded)

	if err := s.setReply(reply, degraded); err != nil {
		s.fail(model.KindInternal, model.SessionThinking, err)
		return
	}
	_ = s.advance(model.EvReplied, model.TopicStateChanged, model.Payload{ReplyText: reply, Degraded: degraded})
}

func (s *Session) ask(ctx context.Context, transcript string) (string, error) {
	llm := s.deps.Caps.LLM
	if llm == nil {
		return "", errors.New("no llm provider configured")
	}
	prompt := capability.Prompt{
		SessionID: s.p.SessionID,
		Channel:   s.p.Channel,
		Messages:  []capability.Message{{Role: capability.RoleUser, Content: transcript}},
	}
	if s.deps.Dialogue != nil {
		p, err := s.deps.Dialogue.Prompt(ctx, s.p.SessionID, s.p.Channel, transcript)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "session.history_unavailable").Msg("prompting without history")
		} else {
			prompt = p
		}
	}
	return capability.Invoke(ctx, s.deps.Policies.LLM, func(ctx context.Context) (string, error) {
		return llm.Complete(ctx, prompt)
	})
}

// record appends the exchange to the conversation. A degraded turn stores
// only the user message.
func (s *Session) record(ctx context.Context, transcript, reply string, degraded bool) {
	if s.deps.Dialogue == nil {
		return
	}
	if degraded {
		reply = ""
	}
	if err := s.deps.Dialogue.Record(ctx, s.p.Channel, transcript, reply); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "session.history_write_failed").Msg("conversation not recorded")
	}
}

// synthesize renders the reply. A failure keeps the text result and
// completes without audio.
func (s *Session) synthesize(ctx context.Context) {
	reply := s.Result().ReplyText

	tts := s.deps.Caps.TTS
	var (
		clip audio.Clip
		err  error
	)
	if tts == nil {
		err = errors.New("no tts provider configured")
	} else {
		clip, err = capability.Invoke(ctx, s.deps.Policies.TTS, func(ctx context.Context) (audio.Clip, error) {
			return tts.Synthesize(ctx, reply)
		})
	}
	if ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if err == nil && clip.Empty() {
		err = errors.New("synthesizer returned no audio")
	}
	if err != nil {
		s.warn(model.KindTTSFailure, model.NewStageError(model.KindTTSFailure, model.SessionSynthesizing, err))
		s.complete(model.EvSynthesisFails)
		return
	}
	s.speech = clip
	_ = s.advance(model.EvSynthesized, model.TopicStateChanged, model.Payload{})
}

func (s *Session) play(ctx context.Context) {
	clip := s.speech
	s.speech = audio.Clip{}

	var err error
	if s.deps.Caps.Audio == nil {
		err = errors.New("no audio engine configured")
	} else {
		playCtx, cancel := ctx, context.CancelFunc(func() {})
		if d := s.deps.PlaybackTimeout; d > 0 {
			playCtx, cancel = context.WithTimeout(ctx, d)
		}
		err = s.deps.Caps.Audio.Play(playCtx, clip)
		cancel()
	}
	if ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if err != nil {
		s.warn(model.KindTTSFailure, model.NewStageError(model.KindTTSFailure, model.SessionPlaying, fmt.Errorf("playback: %w", err)))
	} else {
		s.mu.Lock()
		s.result.AudioRendered = true
		s.mu.Unlock()
	}
	s.complete(model.EvPlaybackDone)
}
