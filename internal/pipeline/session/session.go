// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session runs one user interaction through capture, recognition,
// reply generation, synthesis and playback.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/fsm"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
	"github.com/yaotutu/lumi-assistant-cli/internal/telemetry"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Caps     capability.Set
	Policies capability.Policies
	Bus      bus.Publisher
	Registry *registry.Registry
	// Dialogue supplies history and the system prompt. Nil sends the bare transcript.
	Dialogue *dialogue.Manager
	// CaptureTimeout ends a capture nobody stopped. Zero waits indefinitely.
	CaptureTimeout time.Duration
	// PlaybackTimeout bounds Play. Zero waits indefinitely.
	PlaybackTimeout time.Duration
	Logger          *zerolog.Logger
}

// Params identify one session.
type Params struct {
	SessionID string
	TaskID    string
	Channel   string
	Source    model.Source
	// Text seeds the transcript for text sessions.
	Text string
}

// Session is a single pass through the pipeline. Begin moves it out of NEW
// synchronously; Run drives it to a terminal state on the caller's goroutine.
type Session struct {
	deps    Deps
	p       Params
	machine *fsm.Machine[model.SessionState, model.SessionEvent]
	logger  zerolog.Logger
	tracer  trace.Tracer
	span    trace.Span
	seq     atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// runner-owned stage data
	clip       audio.Clip
	speech     audio.Clip
	stageStart time.Time

	mu         sync.Mutex
	transcript string
	reply      string
	result     model.Result
	cancelled  bool
	finished   bool
}

// New prepares a session. parent bounds its lifetime; it is normally the
// controller's root context, never a request context.
func New(parent context.Context, deps Deps, p Params) (*Session, error) {
	if deps.Bus == nil || deps.Registry == nil {
		return nil, fmt.Errorf("%w: session needs a bus and a registry", model.ErrInternal)
	}
	if p.SessionID == "" || p.TaskID == "" {
		return nil, fmt.Errorf("%w: session and task ids are required", model.ErrInvalidInput)
	}
	logger := log.WithComponent("session")
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().
		Str(log.FieldSessionID, p.SessionID).
		Str(log.FieldTaskID, p.TaskID).
		Str(log.FieldChannel, p.Channel).
		Logger()

	ctx := log.ContextWithSession(parent, p.SessionID, p.TaskID)
	ctx = logger.WithContext(ctx)
	tracer := telemetry.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "pipeline.session",
		trace.WithAttributes(telemetry.SessionAttributes(p.SessionID, p.TaskID, p.Channel, string(p.Source))...))
	ctx, cancel := context.WithCancel(ctx)

	s := &Session{
		deps:   deps,
		p:      p,
		logger: logger,
		tracer: tracer,
		span:   span,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m, err := newMachine(s.observeStage)
	if err != nil {
		span.End()
		cancel()
		return nil, err
	}
	s.machine = m
	return s, nil
}

func (s *Session) ID() string      { return s.p.SessionID }
func (s *Session) TaskID() string  { return s.p.TaskID }
func (s *Session) Channel() string { return s.p.Channel }

// State returns the current pipeline stage.
func (s *Session) State() model.SessionState { return s.machine.State() }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns a snapshot of the session outcome so far.
func (s *Session) Result() model.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Finished reports whether the session reached a terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Begin performs the first transition: into CAPTURING for voice sessions, or
// straight to THINKING for text. Empty text completes immediately as
// nothing heard without touching any capability.
func (s *Session) Begin() error {
	metrics.AddSessionsActive(1)
	s.stageStart = time.Now()

	if s.p.Source == model.SourceText {
		text := strings.TrimSpace(s.p.Text)
		if text == "" {
			s.nothingHeard()
			return nil
		}
		if err := s.setTranscript(text); err != nil {
			s.fail(model.KindInternal, model.SessionNew, err)
			return err
		}
		return s.advance(model.EvSubmitText, model.TopicTranscript, model.Payload{Transcript: text})
	}
	return s.advance(model.EvStartCapture, model.TopicAudioStart, model.Payload{})
}

// StopCapture asks the capture stage to finalize. It reports whether the
// session was capturing or about to start. A stop that arrives before Begin
// ends the capture as soon as it opens.
func (s *Session) StopCapture() bool {
	if s.p.Source == model.SourceText {
		return false
	}
	if !s.machine.Can(model.EvStartCapture) && !s.machine.Can(model.EvCaptureDone) {
		return false
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	return true
}

// Cancel requests cancellation. In-flight capability calls see their context
// cancelled; the session ends CANCELLED unless it already finished. It
// reports whether the request took effect.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	return true
}

// Run drives the session to a terminal state. It must be called once, after Begin.
func (s *Session) Run() {
	defer close(s.done)
	defer s.cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str(log.FieldEvent, "session.panic").
				Interface("panic", r).
				Msg("session runner panicked")
			s.fail(model.KindInternal, s.State(), fmt.Errorf("panic: %v", r))
		}
	}()

	for {
		state := s.State()
		if state.IsTerminal() || s.Finished() {
			return
		}
		if s.ctx.Err() != nil {
			s.finishCancelled()
			continue
		}

		ctx, span := s.tracer.Start(s.ctx, "pipeline.stage."+strings.ToLower(string(state)),
			trace.WithAttributes(attribute.String(telemetry.StageKey, string(state))))
		switch state {
		case model.SessionCapturing:
			s.capture(ctx)
		case model.SessionRecognizing:
			s.recognize(ctx)
		case model.SessionThinking:
			s.think(ctx)
		case model.SessionSynthesizing:
			s.synthesize(ctx)
		case model.SessionPlaying:
			s.play(ctx)
		default:
			s.fail(model.KindInternal, state, fmt.Errorf("session run before begin (state %s)", state))
		}
		span.End()
	}
}

// advance fires a forward, non-terminal transition and publishes its event.
func (s *Session) advance(ev model.SessionEvent, topic model.Topic, payload model.Payload) error {
	from, to, err := s.fire(ev)
	if err != nil {
		s.fail(model.KindInternal, from, err)
		return err
	}
	s.logger.Debug().
		Str(log.FieldEvent, "session.stage").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("session advanced")
	s.publish(topic, to, payload)
	return nil
}

func (s *Session) fire(ev model.SessionEvent) (from, to model.SessionState, err error) {
	from = s.machine.State()
	to, err = s.machine.Fire(ev)
	if err != nil {
		return from, to, err
	}

	result := s.Result()
	_, uerr := s.deps.Registry.Update(s.p.TaskID, func(t *model.Task) {
		t.Stage = to
		t.State = model.TaskStateFor(to)
		if to.IsTerminal() {
			t.Result = result
		}
	})
	if uerr != nil && !errors.Is(uerr, model.ErrNotFound) {
		s.logger.Warn().Err(uerr).Str(log.FieldEvent, "session.registry_update_failed").Msg("task update failed")
	}
	return from, to, nil
}

// observeStage records how long the session spent in the stage it just left.
func (s *Session) observeStage(from, _ model.SessionState, _ model.SessionEvent) {
	now := time.Now()
	if from != model.SessionNew {
		metrics.ObserveStage(string(from), now.Sub(s.stageStart))
	}
	s.stageStart = now
}

func (s *Session) publish(topic model.Topic, state model.SessionState, payload model.Payload) {
	payload.State = state
	if payload.Source == "" {
		payload.Source = s.p.Source
	}
	s.deps.Bus.Publish(model.Event{
		Topic:     topic,
		SessionID: s.p.SessionID,
		TaskID:    s.p.TaskID,
		Channel:   s.p.Channel,
		Sequence:  s.seq.Add(1),
		Time:      time.Now(),
		Payload:   payload,
	})
}

// finish fires a terminal transition exactly once. A pending cancellation
// overrides a successful outcome.
func (s *Session) finish(ev model.SessionEvent, topic model.Topic, payload model.Payload) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	if s.cancelled && ev != model.EvCancel && ev != model.EvFail {
		ev, topic = model.EvCancel, model.TopicCancelled
		payload = model.Payload{ErrorKind: model.KindCancelled, Message: "cancelled"}
	}
	if ev == model.EvCancel {
		s.result.ErrorKind = model.KindCancelled
		s.result.ErrorMessage = "cancelled"
	}
	s.finished = true
	s.mu.Unlock()

	from, to, err := s.fire(ev)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str(log.FieldEvent, "session.terminal_failed").
			Str(log.FieldOldState, string(from)).
			Msg("terminal transition rejected")
		return
	}
	result := s.Result()
	s.publish(topic, to, payload)

	metrics.AddSessionsActive(-1)
	metrics.RecordTerminal(string(to), string(result.ErrorKind))
	if result.ErrorKind != model.KindNone && result.ErrorKind != model.KindCancelled {
		s.span.SetAttributes(attribute.String(telemetry.ErrorKindKey, string(result.ErrorKind)))
	}
	s.span.SetAttributes(attribute.String(telemetry.StageKey, string(to)))
	s.span.End()

	s.logger.Info().
		Str(log.FieldEvent, "session.finished").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str("error_kind", string(result.ErrorKind)).
		Bool("degraded", result.Degraded).
		Bool("audio_rendered", result.AudioRendered).
		Msg("session finished")
}

func (s *Session) finishCancelled() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.finish(model.EvCancel, model.TopicCancelled, model.Payload{ErrorKind: model.KindCancelled, Message: "cancelled"})
}

func (s *Session) fail(kind model.ErrorKind, stage model.SessionState, err error) {
	se := model.NewStageError(kind, stage, err)
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.result.ErrorKind = kind
	s.result.ErrorMessage = se.Error()
	s.mu.Unlock()
	s.logger.Error().
		Err(se).
		Str(log.FieldEvent, "session.failed").
		Str(log.FieldStage, string(stage)).
		Msg("session failed")
	telemetry.RecordError(s.span, string(kind), se)
	s.finish(model.EvFail, model.TopicError, model.Payload{ErrorKind: kind, Message: se.Error()})
}

// complete ends the session successfully with the text result so far.
func (s *Session) complete(ev model.SessionEvent) {
	r := s.Result()
	s.finish(ev, model.TopicResult, model.Payload{
		Transcript:    r.Transcript,
		ReplyText:     r.ReplyText,
		Degraded:      r.Degraded,
		AudioRendered: r.AudioRendered,
	})
}

func (s *Session) nothingHeard() {
	s.mu.Lock()
	if !s.finished && !s.cancelled {
		s.result.NothingHeard = true
	}
	s.mu.Unlock()
	s.finish(model.EvNothingHeard, model.TopicResult, model.Payload{NothingHeard: true})
}

// warn publishes a non-fatal stage failure. It is not a transition.
func (s *Session) warn(kind model.ErrorKind, err error) {
	metrics.IncFallback("warning")
	s.logger.Warn().
		Err(err).
		Str(log.FieldEvent, "session.warning").
		Str("error_kind", string(kind)).
		Msg("continuing without audio")
	s.publish(model.TopicWarning, s.State(), model.Payload{ErrorKind: kind, Message: err.Error()})
}

func (s *Session) setTranscript(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcript != "" {
		return fmt.Errorf("%w: transcript already set", model.ErrInternal)
	}
	s.transcript = text
	s.result.Transcript = text
	return nil
}

func (s *Session) setReply(text string, degraded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reply != "" {
		return fmt.Errorf("%w: reply already set", model.ErrInternal)
	}
	s.reply = text
	s.result.ReplyText = text
	s.result.Degraded = degraded
	return nil
}
