// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/yaotutu/lumi-assistant-cli/internal/audio"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/capability/mock"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/controller"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/registry"
)

type testEnv struct {
	bus    *bus.Bus
	ctrl   *controller.Controller
	lis    *bufconn.Listener
	server *grpc.Server
	client *Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{bus: bus.New(bus.Options{BufferSize: 128})}
	ctrl, err := controller.New(controller.Options{
		Caps: capability.Set{
			ASR:   &mock.ASR{Transcript: "hello"},
			LLM:   &mock.LLM{},
			TTS:   &mock.TTS{},
			Audio: audio.NewScripted(false),
		},
		Bus:      e.bus,
		Registry: registry.New(32),
	})
	require.NoError(t, err)
	e.ctrl = ctrl

	e.lis = bufconn.Listen(1 << 20)
	e.server = NewServer(NewService(ctrl, e.bus, nil))
	go func() { _ = e.server.Serve(e.lis) }()

	e.client, err = Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return e.lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	return e
}

func (e *testEnv) close(t *testing.T) {
	t.Helper()
	_ = e.client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.ctrl.Shutdown(ctx))
	e.server.Stop()
	e.bus.Close()
	_ = e.lis.Close()
}

func (e *testEnv) waitTerminal(t *testing.T, id string) model.Task {
	t.Helper()
	var task model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = e.client.GetTaskStatus(context.Background(), id)
		return err == nil && task.State.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestSubmitTextOverGRPC(t *testing.T) {
	e := newTestEnv(t)
	defer e.close(t)
	ctx := context.Background()

	task, err := e.client.SubmitText(ctx, "", "good morning")
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, task.Channel)
	assert.Equal(t, model.SourceText, task.Source)

	done := e.waitTerminal(t, task.ID)
	assert.Equal(t, model.TaskSucceeded, done.State)
	assert.Equal(t, "good morning", done.Result.ReplyText)
	assert.True(t, done.Result.AudioRendered)
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	e := newTestEnv(t)
	defer e.close(t)
	ctx := context.Background()

	first, err := e.client.StartListening(ctx, "grpc-1")
	require.NoError(t, err)

	var out model.Task
	err = e.client.conn.Invoke(ctx, methodStartListening, &ChannelRequest{Channel: "grpc-1"}, &out)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	_, err = e.client.StartListening(ctx, "grpc-1")
	assert.ErrorIs(t, err, model.ErrConflict)

	err = e.client.conn.Invoke(ctx, methodStopListening, &ChannelRequest{Channel: "idle"}, &out)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = e.client.StopListening(ctx, "idle")
	assert.ErrorIs(t, err, model.ErrNoActiveSession)

	err = e.client.conn.Invoke(ctx, methodGetTaskStatus, &TaskRequest{TaskID: "missing"}, &out)
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = e.client.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	cancelled, err := e.client.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cancelled.ID)
	assert.Equal(t, model.TaskCancelled, e.waitTerminal(t, first.ID).State)
}

func TestEventStreamDeliversAndReleasesSubscription(t *testing.T) {
	e := newTestEnv(t)
	defer e.close(t)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.client.Events(ctx, bus.Filter{Channel: "grpc-2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.bus.Stats().Subscribers == 1 }, 5*time.Second, 5*time.Millisecond)

	task, err := e.client.SubmitText(context.Background(), "grpc-2", "stream it")
	require.NoError(t, err)

	var topics []model.Topic
	var last uint64
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed early")
			assert.Equal(t, task.SessionID, ev.SessionID)
			assert.Greater(t, ev.Sequence, last)
			last = ev.Sequence
			topics = append(topics, ev.Topic)
			done = ev.IsTerminal()
		case <-timeout:
			t.Fatalf("no terminal event, got %v", topics)
		}
	}
	assert.Equal(t, model.TopicResult, topics[len(topics)-1])
	assert.Contains(t, topics, model.TopicTranscript)

	cancel()
	require.Eventually(t, func() bool { return e.bus.Stats().Subscribers == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestEventStreamRejectsOversizedReplay(t *testing.T) {
	e := newTestEnv(t)
	defer e.close(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := e.client.conn.NewStream(ctx, &AssistantServiceDesc.Streams[0], methodGetEventStream)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&EventFilter{History: maxReplay + 1}))
	require.NoError(t, stream.CloseSend())
	var ev model.Event
	err = stream.RecvMsg(&ev)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// lateHistory publishes one more event after the stream subscribed and
// before it reads the history log.
type lateHistory struct {
	*bus.Bus
	late model.Event
}

func (l lateHistory) History(f bus.Filter, limit int) []model.Event {
	l.Publish(l.late)
	return l.Bus.History(f, limit)
}

func TestEventStreamSendsReplayedEventOnce(t *testing.T) {
	b := bus.New(bus.Options{BufferSize: 16})
	defer b.Close()
	b.Publish(model.Event{Topic: model.TopicAudioStart, SessionID: "s-1", Sequence: 1})
	src := lateHistory{Bus: b, late: model.Event{Topic: model.TopicStateChanged, SessionID: "s-1", Sequence: 2}}

	lis := bufconn.Listen(1 << 20)
	server := NewServer(NewService(nil, src, nil))
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()
	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.conn.NewStream(ctx, &AssistantServiceDesc.Streams[0], methodGetEventStream)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&EventFilter{SessionID: "s-1", History: 10}))
	require.NoError(t, stream.CloseSend())

	var seqs []uint64
	for i := 0; i < 2; i++ {
		var ev model.Event
		require.NoError(t, stream.RecvMsg(&ev))
		seqs = append(seqs, ev.Sequence)
	}
	b.Publish(model.Event{Topic: model.TopicResult, SessionID: "s-1", Sequence: 3})
	var ev model.Event
	require.NoError(t, stream.RecvMsg(&ev))
	seqs = append(seqs, ev.Sequence)

	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{model.ErrConflict, codes.AlreadyExists},
		{model.ErrNoActiveSession, codes.FailedPrecondition},
		{model.ErrNotFound, codes.NotFound},
		{model.ErrInvalidInput, codes.InvalidArgument},
		{model.ErrShuttingDown, codes.Unavailable},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CodeFor(tc.err), tc.err.Error())
	}
}

func TestCodecRoundTripsTask(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := model.Task{ID: "t-1", SessionID: "s-1", Channel: "grpc", State: model.TaskRunning, CreatedAt: now}
	b, err := Codec{}.Marshal(&in)
	require.NoError(t, err)
	var out model.Task
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)
	assert.NoError(t, Codec{}.Unmarshal(nil, &out))
}
