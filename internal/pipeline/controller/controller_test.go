// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/mock"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
)

type fixture struct {
	logger *zerolog.Logger
	bus    *bus.Bus
	reg    *registry.Registry
	asr    *mock.ASR
	llm    *mock.LLM
	tts    *mock.TTS
	eng    *audio.Scripted
	ctrl   *Controller
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		bus: bus.New(bus.Options{BufferSize: 256}),
		reg: registry.New(32),
		asr: &mock.ASR{Transcript: "turn on the lamp"},
		llm: &mock.LLM{},
		tts: &mock.TTS{},
		// captures stay open until StopListening
		eng: audio.NewScripted(false),
	}
	if mutate != nil {
		mutate(f)
	}
	ctrl, err := New(Options{
		Caps:     capability.Set{ASR: f.asr, LLM: f.llm, TTS: f.tts, Audio: f.eng},
		Bus:      f.bus,
		Registry: f.reg,
		Logger:   f.logger,
	})
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func (f *fixture) close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Shutdown(ctx))
	f.bus.Close()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitTerminal(t *testing.T, f *fixture, taskID string) model.Task {
	t.Helper()
	var task model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = f.ctrl.GetTaskStatus(context.Background(), taskID)
		return err == nil && task.State.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return task
}

func waitStage(t *testing.T, f *fixture, taskID string, stage model.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		task, err := f.ctrl.GetTaskStatus(context.Background(), taskID)
		return err == nil && task.Stage == stage
	}, 5*time.Second, 5*time.Millisecond)
}

func drain(t *testing.T, sub *bus.Subscription) []model.Event {
	t.Helper()
	var out []model.Event
	for {
		select {
		case ev := <-sub.C():
			out = append(out, ev)
			if ev.IsTerminal() {
				return out
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no terminal event after %d events", len(out))
			return nil
		}
	}
}

func TestStartListeningConflictsOnSameChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	first, err := f.ctrl.StartListening(ctx, "cli")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, model.SourceVoice, first.Source)

	before := testutil.ToFloat64(metrics.ControllerRejectionsTotal.WithLabelValues("start_listening", "conflict"))
	_, err = f.ctrl.StartListening(ctx, "cli")
	require.ErrorIs(t, err, model.ErrConflict)
	_, err = f.ctrl.SubmitText(ctx, "cli", "hello")
	require.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ControllerRejectionsTotal.WithLabelValues("start_listening", "conflict")))

	// the first session is unaffected
	task, err := f.ctrl.GetTaskStatus(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, task.State.IsTerminal())
	id, ok := f.ctrl.ActiveTask("cli")
	require.True(t, ok)
	assert.Equal(t, first.ID, id)
}

func TestChannelIsFreedAfterTerminalState(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	first, err := f.ctrl.SubmitText(ctx, "cli", "hello")
	require.NoError(t, err)
	done := waitTerminal(t, f, first.ID)
	assert.Equal(t, model.TaskSucceeded, done.State)

	second, err := f.ctrl.SubmitText(ctx, "cli", "again")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	waitTerminal(t, f, second.ID)
}

func TestDegradedVoiceScenario(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, func(f *fixture) {
		f.eng = audio.NewScripted(true, [][]byte{make([]byte, 640)})
		f.llm.Fn = func(context.Context, capability.Prompt) (string, error) {
			return "", errors.New("dial tcp: connection refused")
		}
	})
	defer f.close(t)
	sub := f.bus.Subscribe(bus.Filter{Topics: []string{"audio.*", "pipeline.*"}})
	defer sub.Close()

	task, err := f.ctrl.StartListening(context.Background(), "cli")
	require.NoError(t, err)
	evs := drain(t, sub)

	var got []model.Topic
	for _, ev := range evs {
		got = append(got, ev.Topic)
		assert.Equal(t, task.SessionID, ev.SessionID)
	}
	assert.Equal(t, []model.Topic{
		model.TopicAudioStart,
		model.TopicStateChanged,
		model.TopicTranscript,
		model.TopicDegraded,
		model.TopicStateChanged,
		model.TopicStateChanged,
		model.TopicResult,
	}, got)

	last := evs[len(evs)-1].Payload
	assert.Equal(t, "turn on the lamp", last.Transcript)
	assert.Equal(t, "turn on the lamp", last.ReplyText)
	assert.True(t, last.Degraded)

	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskSucceeded, final.State)
	assert.True(t, final.Result.Degraded)
}

func TestStopListeningFinalizesCapture(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, func(f *fixture) {
		f.eng = audio.NewScripted(false, [][]byte{make([]byte, 640)})
	})
	defer f.close(t)
	ctx := context.Background()

	_, err := f.ctrl.StopListening(ctx, "cli")
	require.ErrorIs(t, err, model.ErrNoActiveSession)

	task, err := f.ctrl.StartListening(ctx, "cli")
	require.NoError(t, err)
	// let the capture consume its scripted frame before stopping
	time.Sleep(100 * time.Millisecond)

	got, err := f.ctrl.StopListening(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskSucceeded, final.State)
	assert.Equal(t, "turn on the lamp", final.Result.Transcript)
}

func TestStopListeningWithoutAudioIsNothingHeard(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	task, err := f.ctrl.StartListening(ctx, "cli")
	require.NoError(t, err)
	_, err = f.ctrl.StopListening(ctx, "cli")
	require.NoError(t, err)

	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskSucceeded, final.State)
	assert.True(t, final.Result.NothingHeard)
	assert.Zero(t, f.asr.Calls())
}

func TestSubmitEmptyTextCompletesWithoutCapabilities(t *testing.T) {
	f := newFixture(t, nil)
	defer f.close(t)

	task, err := f.ctrl.SubmitText(context.Background(), "cli", "")
	require.NoError(t, err)
	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskSucceeded, final.State)
	assert.True(t, final.Result.NothingHeard)
	assert.Zero(t, f.asr.Calls())
	assert.Zero(t, f.llm.Calls())
	assert.Zero(t, f.tts.Calls())
}

func TestInputValidation(t *testing.T) {
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.ctrl.StartListening(ctx, "  ")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.ctrl.SubmitText(ctx, "cli", strings.Repeat("a", MaxTextLength+1))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.ctrl.GetTaskStatus(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.ctrl.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelDuringCaptureYieldsCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	task, err := f.ctrl.StartListening(ctx, "cli")
	require.NoError(t, err)
	waitStage(t, f, task.ID, model.SessionCapturing)

	_, err = f.ctrl.Cancel(ctx, task.ID)
	require.NoError(t, err)
	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskCancelled, final.State)
	assert.Equal(t, model.KindCancelled, final.Result.ErrorKind)
	assert.Empty(t, final.Result.ReplyText)

	// cancelling again is idempotent
	again, err := f.ctrl.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, again.State)
}

func TestCancelInterruptsLLM(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	entered := make(chan struct{})
	var once sync.Once
	f := newFixture(t, func(f *fixture) {
		f.llm.Fn = func(ctx context.Context, _ capability.Prompt) (string, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return "", ctx.Err()
		}
	})
	defer f.close(t)
	ctx := context.Background()

	task, err := f.ctrl.SubmitText(ctx, "cli", "write a poem")
	require.NoError(t, err)
	<-entered
	_, err = f.ctrl.Cancel(ctx, task.ID)
	require.NoError(t, err)

	final := waitTerminal(t, f, task.ID)
	assert.Equal(t, model.TaskCancelled, final.State)
	assert.Empty(t, final.Result.ReplyText)
	assert.Zero(t, f.tts.Calls())
}

func TestTerminalStatusIsStable(t *testing.T) {
	f := newFixture(t, nil)
	defer f.close(t)
	ctx := context.Background()

	task, err := f.ctrl.SubmitText(ctx, "cli", "hello")
	require.NoError(t, err)
	first := waitTerminal(t, f, task.ID)
	for i := 0; i < 5; i++ {
		again, err := f.ctrl.GetTaskStatus(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestConcurrentChannelsAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, func(f *fixture) {
		f.eng = audio.NewScripted(true, [][]byte{make([]byte, 640)}, [][]byte{make([]byte, 640)})
	})
	defer f.close(t)
	sub := f.bus.Subscribe(bus.All())
	defer sub.Close()

	channels := []string{"cli", "grpc-1"}
	tasks := make([]model.Task, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch string) {
			defer wg.Done()
			task, err := f.ctrl.StartListening(context.Background(), ch)
			assert.NoError(t, err)
			tasks[i] = task
		}(i, ch)
	}
	wg.Wait()
	require.NotEqual(t, tasks[0].SessionID, tasks[1].SessionID)

	for _, task := range tasks {
		final := waitTerminal(t, f, task.ID)
		assert.Equal(t, model.TaskSucceeded, final.State)
	}

	seqs := map[string][]uint64{}
	deadline := time.After(5 * time.Second)
	terminal := 0
	for terminal < len(tasks) {
		select {
		case ev := <-sub.C():
			if ev.SessionID == "" {
				continue
			}
			seqs[ev.SessionID] = append(seqs[ev.SessionID], ev.Sequence)
			if ev.IsTerminal() {
				terminal++
			}
		case <-deadline:
			t.Fatal("missing terminal events")
		}
	}
	for sid, got := range seqs {
		for i, seq := range got {
			assert.Equal(t, uint64(i+1), seq, "session %s", sid)
		}
	}
}

func TestShutdownCancelsAndRejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, nil)
	sub := f.bus.Subscribe(bus.Filter{Topics: []string{"system.*"}})

	task, err := f.ctrl.StartListening(context.Background(), "cli")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.ctrl.Shutdown(ctx))
	require.NoError(t, f.ctrl.Shutdown(ctx))

	final, err := f.ctrl.GetTaskStatus(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, final.State)

	_, err = f.ctrl.SubmitText(context.Background(), "cli", "hello")
	assert.ErrorIs(t, err, model.ErrShuttingDown)
	assert.False(t, f.ctrl.Status().Running)

	stopping := false
	for !stopping {
		select {
		case ev := <-sub.C():
			stopping = ev.Topic == model.TopicSystemStopped
		case <-time.After(time.Second):
			t.Fatal("no system.stopping event")
		}
	}
	sub.Close()
	f.bus.Close()
}

func TestStatusListsActiveChannels(t *testing.T) {
	f := newFixture(t, nil)
	defer f.close(t)

	task, err := f.ctrl.StartListening(context.Background(), "cli")
	require.NoError(t, err)
	st := f.ctrl.Status()
	assert.True(t, st.Running)
	assert.Equal(t, map[string]string{"cli": task.ID}, st.Active)
	assert.Equal(t, 1, st.Tasks)
	assert.Equal(t, []string{"cli"}, f.ctrl.Channels())
}

func TestOperationLogsCarryCorrelationID(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	out := &lockedBuffer{}
	logger := zerolog.New(out).Level(zerolog.DebugLevel)
	f := newFixture(t, func(f *fixture) { f.logger = &logger })
	defer f.close(t)

	ctx := log.ContextWithCorrelationID(context.Background(), "req-42")
	task, err := f.ctrl.StartListening(ctx, "cli")
	require.NoError(t, err)
	waitStage(t, f, task.ID, model.SessionCapturing)

	_, err = f.ctrl.StopListening(ctx, "cli")
	require.NoError(t, err)
	_, err = f.ctrl.Cancel(ctx, task.ID)
	require.NoError(t, err)
	waitTerminal(t, f, task.ID)

	_, err = f.ctrl.StopListening(ctx, "nobody")
	require.ErrorIs(t, err, model.ErrNoActiveSession)

	logs := out.String()
	for _, event := range []string{"controller.capture_stopped", "controller.rejected"} {
		assert.Contains(t, logs, `"event":"`+event+`"`)
	}
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if strings.Contains(line, `"event":"controller.capture_stopped"`) ||
			strings.Contains(line, `"event":"controller.cancel_requested"`) ||
			strings.Contains(line, `"event":"controller.rejected"`) {
			assert.Contains(t, line, `"correlation_id":"req-42"`, line)
		}
	}
}
