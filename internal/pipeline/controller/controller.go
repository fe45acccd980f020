// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package controller is the single entry point front-ends use to drive the
// pipeline. Every operation returns immediately; sessions run on their own
// goroutines and report progress on the bus.
package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/session"
)

// MaxTextLength caps SubmitText input, in runes.
const MaxTextLength = 4000

// Options wires the controller's collaborators.
type Options struct {
	Caps     capability.Set
	Policies capability.Policies
	Bus      bus.Publisher
	Registry *registry.Registry
	Dialogue *dialogue.Manager

	CaptureTimeout  time.Duration
	PlaybackTimeout time.Duration

	Logger *zerolog.Logger
	// NewID generates session and task ids. Defaults to random UUIDs.
	NewID func() string
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running   bool              `json:"running"`
	StartedAt time.Time         `json:"startedAt"`
	Active    map[string]string `json:"active"`
	Tasks     int               `json:"tasks"`
}

// Controller enforces at most one live session per channel.
type Controller struct {
	opts    Options
	logger  zerolog.Logger
	started time.Time

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*session.Session // by channel
	byTask  map[string]*session.Session
	closing bool
}

// New constructs a controller and announces it on the bus.
func New(opts Options) (*Controller, error) {
	if opts.Bus == nil || opts.Registry == nil {
		return nil, fmt.Errorf("%w: controller needs a bus and a registry", model.ErrInternal)
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	logger := log.WithComponent("controller")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	root, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:    opts,
		logger:  logger,
		started: time.Now(),
		root:    root,
		cancel:  cancel,
		active:  make(map[string]*session.Session),
		byTask:  make(map[string]*session.Session),
	}
	opts.Bus.Publish(model.Event{Topic: model.TopicSystemStarted, Time: c.started})
	c.logger.Info().Str(log.FieldEvent, "controller.started").Msg("operation controller ready")
	return c, nil
}

// StartListening opens a voice session on channel.
func (c *Controller) StartListening(ctx context.Context, channel string) (model.Task, error) {
	return c.start(ctx, "start_listening", session.Params{Channel: channel, Source: model.SourceVoice})
}

// SubmitText opens a session on channel seeded with text, skipping capture
// and recognition. Blank text completes at once as nothing heard.
func (c *Controller) SubmitText(ctx context.Context, channel, text string) (model.Task, error) {
	if utf8.RuneCountInString(text) > MaxTextLength {
		return model.Task{}, c.reject(ctx, "submit_text", fmt.Errorf("%w: text longer than %d characters", model.ErrInvalidInput, MaxTextLength))
	}
	return c.start(ctx, "submit_text", session.Params{Channel: channel, Source: model.SourceText, Text: text})
}

func (c *Controller) start(ctx context.Context, op string, p session.Params) (model.Task, error) {
	p.Channel = strings.TrimSpace(p.Channel)
	if p.Channel == "" {
		return model.Task{}, c.reject(ctx, op, fmt.Errorf("%w: channel is required", model.ErrInvalidInput))
	}
	p.SessionID = c.opts.NewID()
	p.TaskID = c.opts.NewID()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return model.Task{}, c.reject(ctx, op, model.ErrShuttingDown)
	}
	if cur, ok := c.active[p.Channel]; ok && !cur.Finished() {
		c.mu.Unlock()
		return model.Task{}, c.reject(ctx, op, fmt.Errorf("%w: task %s owns channel %q", model.ErrConflict, cur.TaskID(), p.Channel))
	}

	task := model.Task{
		ID:        p.TaskID,
		SessionID: p.SessionID,
		Channel:   p.Channel,
		Source:    p.Source,
		State:     model.TaskPending,
		Stage:     model.SessionNew,
		CreatedAt: time.Now(),
	}
	if err := c.opts.Registry.Put(task); err != nil {
		c.mu.Unlock()
		return model.Task{}, c.reject(ctx, op, fmt.Errorf("%w: %v", model.ErrInternal, err))
	}

	base := log.WithComponent("session")
	if c.opts.Logger != nil {
		base = *c.opts.Logger
	}
	sessLogger := log.WithContext(ctx, base)
	s, err := session.New(c.root, session.Deps{
		Caps:            c.opts.Caps,
		Policies:        c.opts.Policies,
		Bus:             c.opts.Bus,
		Registry:        c.opts.Registry,
		Dialogue:        c.opts.Dialogue,
		CaptureTimeout:  c.opts.CaptureTimeout,
		PlaybackTimeout: c.opts.PlaybackTimeout,
		Logger:          &sessLogger,
	}, p)
	if err != nil {
		c.mu.Unlock()
		return model.Task{}, c.reject(ctx, op, err)
	}
	c.active[p.Channel] = s
	c.byTask[p.TaskID] = s
	c.wg.Add(1)
	c.mu.Unlock()

	// Begin failures finish the session; the runner still releases the channel.
	_ = s.Begin()
	go func() {
		defer c.wg.Done()
		s.Run()
		c.release(s)
	}()

	c.logger.Info().
		Str(log.FieldEvent, "controller.session_started").
		Str(log.FieldTaskID, p.TaskID).
		Str(log.FieldSessionID, p.SessionID).
		Str(log.FieldChannel, p.Channel).
		Str("source", string(p.Source)).
		Msg("session started")

	if t, err := c.opts.Registry.Get(p.TaskID); err == nil {
		return t, nil
	}
	return task, nil
}

func (c *Controller) release(s *session.Session) {
	c.mu.Lock()
	if c.active[s.Channel()] == s {
		delete(c.active, s.Channel())
	}
	delete(c.byTask, s.TaskID())
	c.mu.Unlock()
}

// StopListening finalizes the capture of the session owning channel and
// returns its task. A session already past capture is left untouched.
func (c *Controller) StopListening(ctx context.Context, channel string) (model.Task, error) {
	c.mu.Lock()
	s, ok := c.active[strings.TrimSpace(channel)]
	c.mu.Unlock()
	if !ok || s.Finished() {
		return model.Task{}, c.reject(ctx, "stop_listening", fmt.Errorf("%w: channel %q", model.ErrNoActiveSession, channel))
	}
	if s.StopCapture() {
		logger := log.WithContext(ctx, c.logger)
		logger.Info().
			Str(log.FieldEvent, "controller.capture_stopped").
			Str(log.FieldTaskID, s.TaskID()).
			Str(log.FieldChannel, s.Channel()).
			Msg("capture finalize requested")
	}
	return c.GetTaskStatus(ctx, s.TaskID())
}

// Cancel requests cancellation of a task. Cancelling a terminal task is a
// no-op that returns its final state.
func (c *Controller) Cancel(ctx context.Context, taskID string) (model.Task, error) {
	c.mu.Lock()
	s, ok := c.byTask[taskID]
	c.mu.Unlock()
	if ok && s.Cancel() {
		logger := log.WithContext(ctx, c.logger)
		logger.Info().
			Str(log.FieldEvent, "controller.cancel_requested").
			Str(log.FieldTaskID, taskID).
			Str(log.FieldChannel, s.Channel()).
			Msg("cancellation requested")
	}
	t, err := c.opts.Registry.Get(taskID)
	if err != nil {
		return model.Task{}, c.reject(ctx, "cancel", err)
	}
	return t, nil
}

// GetTaskStatus returns a copy of the task record.
func (c *Controller) GetTaskStatus(ctx context.Context, taskID string) (model.Task, error) {
	t, err := c.opts.Registry.Get(taskID)
	if err != nil {
		return model.Task{}, c.reject(ctx, "get_task_status", err)
	}
	return t, nil
}

// ActiveTask returns the id of the live task owning channel.
func (c *Controller) ActiveTask(channel string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[channel]
	if !ok || s.Finished() {
		return "", false
	}
	return s.TaskID(), true
}

// Status reports whether the controller accepts work and which channels are busy.
func (c *Controller) Status() Status {
	c.mu.Lock()
	active := make(map[string]string, len(c.active))
	for ch, s := range c.active {
		if !s.Finished() {
			active[ch] = s.TaskID()
		}
	}
	running := !c.closing
	c.mu.Unlock()
	return Status{
		Running:   running,
		StartedAt: c.started,
		Active:    active,
		Tasks:     c.opts.Registry.Len(),
	}
}

// Channels returns the channels that currently own a live session, sorted.
func (c *Controller) Channels() []string {
	st := c.Status()
	out := make([]string, 0, len(st.Active))
	for ch := range st.Active {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Shutdown rejects new work, cancels every live session and waits for their
// runners until ctx is done. It is safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	first := !c.closing
	c.closing = true
	live := make([]*session.Session, 0, len(c.byTask))
	for _, s := range c.byTask {
		live = append(live, s)
	}
	c.mu.Unlock()

	if first {
		c.logger.Info().
			Str(log.FieldEvent, "controller.stopping").
			Int("sessions", len(live)).
			Msg("cancelling live sessions")
		c.opts.Bus.Publish(model.Event{Topic: model.TopicSystemStopped, Time: time.Now()})
	}
	for _, s := range live {
		s.Cancel()
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("controller shutdown: %w", ctx.Err())
	}
}

func (c *Controller) reject(ctx context.Context, op string, err error) error {
	kind := model.KindOf(err)
	metrics.IncControllerRejection(op, string(kind))
	logger := log.WithContext(ctx, c.logger)
	logger.Debug().
		Err(err).
		Str(log.FieldEvent, "controller.rejected").
		Str("op", op).
		Str("error_kind", string(kind)).
		Msg("operation rejected")
	return err
}
