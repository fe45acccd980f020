// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func ev(topic model.Topic, session string, seq uint64) model.Event {
	return model.Event{Topic: topic, SessionID: session, Sequence: seq}
}

func recv(t *testing.T, s *Subscription) model.Event {
	t.Helper()
	select {
	case e, ok := <-s.C():
		require.True(t, ok, "subscription closed unexpectedly")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.Event{}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	a := b.Subscribe(Filter{Topics: []string{"pipeline.result"}})
	c := b.Subscribe(All())

	b.Publish(ev(model.TopicResult, "s1", 1))

	assert.Equal(t, model.TopicResult, recv(t, a).Topic)
	got := recv(t, c)
	assert.Equal(t, "s1", got.SessionID)
	assert.False(t, got.Time.IsZero(), "publish stamps a time")
}

func TestFIFOWithinTopic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{BufferSize: 256})
	defer b.Close()
	s := b.Subscribe(Filter{Topics: []string{"pipeline.*"}})

	for i := uint64(1); i <= 100; i++ {
		b.Publish(ev(model.TopicStateChanged, "s1", i))
	}
	for i := uint64(1); i <= 100; i++ {
		assert.Equal(t, i, recv(t, s).Sequence)
	}
}

func TestFilterBySessionAndWildcard(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	onlyS2 := b.Subscribe(ForSession("s2"))
	onlyBus := b.Subscribe(Filter{Topics: []string{"bus.*", "system.started"}})

	b.Publish(ev(model.TopicTranscript, "s1", 1))
	b.Publish(ev(model.TopicTranscript, "s2", 1))
	b.Publish(ev(model.TopicSystemStarted, "", 0))

	assert.Equal(t, "s2", recv(t, onlyS2).SessionID)
	assert.Equal(t, model.TopicSystemStarted, recv(t, onlyBus).Topic)

	select {
	case e := <-onlyS2.C():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldestAndReceivesGap(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{BufferSize: 2})
	defer b.Close()

	initial := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("pipeline.state", "full"))
	slow := b.Subscribe(All())

	const total = 6
	for i := uint64(1); i <= total; i++ {
		b.Publish(ev(model.TopicStateChanged, "s1", i))
	}

	var (
		delivered []uint64
		lost      uint64
	)
	for len(delivered) == 0 || delivered[len(delivered)-1] != total {
		e := recv(t, slow)
		if e.Topic == model.TopicGap {
			lost += e.Payload.Lost
			continue
		}
		delivered = append(delivered, e.Sequence)
	}

	assert.Positive(t, lost, "a gap event reports the loss")
	assert.Equal(t, uint64(total), uint64(len(delivered))+lost)
	for i := 1; i < len(delivered); i++ {
		assert.Less(t, delivered[i-1], delivered[i])
	}
	assert.Equal(t, float64(lost), getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("pipeline.state", "full"))-initial)
	assert.Equal(t, lost, b.Stats().Dropped)
}

func TestPublishNeverBlocksOnStalledSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{BufferSize: 1})
	defer b.Close()
	_ = b.Subscribe(All())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10_000; i++ {
			b.Publish(ev(model.TopicStateChanged, "s1", uint64(i)))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked")
	}
}

func TestUnsubscribeIsIdempotentAndConcurrentSafe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()
	s := b.Subscribe(All())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish(ev(model.TopicStateChanged, "s1", 1))
			}
		}
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Unsubscribe(s)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()

	for range s.C() {
	}
	assert.Equal(t, 0, b.Stats().Subscribers)
}

func TestHandlerPanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	before := getCounterValue(t, metrics.BusHandlerPanicsTotal.WithLabelValues("pipeline.error"))

	var calls, healthy atomic.Int32
	unsubPanicky := b.Handle("pipeline.error", func(context.Context, model.Event) {
		calls.Add(1)
		panic("renderer exploded")
	})
	defer unsubPanicky()
	unsubHealthy := b.Handle("pipeline.*", func(context.Context, model.Event) {
		healthy.Add(1)
	})
	defer unsubHealthy()

	b.Publish(ev(model.TopicError, "s1", 1))
	b.Publish(ev(model.TopicError, "s1", 2))

	assert.Eventually(t, func() bool { return calls.Load() == 2 && healthy.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), getCounterValue(t, metrics.BusHandlerPanicsTotal.WithLabelValues("pipeline.error"))-before)
}

func TestHandleReturnsUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	var n atomic.Int32
	unsub := b.Handle("pipeline.result", func(context.Context, model.Event) { n.Add(1) })
	other := b.Handle("pipeline.result", func(context.Context, model.Event) {})
	defer other()
	require.Equal(t, 2, b.Handlers("pipeline.result"))

	b.Publish(ev(model.TopicResult, "s1", 1))
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	assert.Equal(t, 1, b.Handlers("pipeline.result"))

	b.Publish(ev(model.TopicResult, "s1", 2))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestOnceFiresSingleTime(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	var n atomic.Int32
	b.Once("pipeline.result", func(context.Context, model.Event) { n.Add(1) })
	for i := uint64(1); i <= 3; i++ {
		b.Publish(ev(model.TopicResult, "s1", i))
	}
	require.Eventually(t, func() bool { return b.Handlers("pipeline.result") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
}

func TestHistoryIsBoundedAndFiltered(t *testing.T) {
	b := New(Options{HistorySize: 3})
	defer b.Close()

	for i := uint64(1); i <= 5; i++ {
		b.Publish(ev(model.TopicStateChanged, "s1", i))
	}
	b.Publish(ev(model.TopicResult, "s2", 1))

	all := b.History(All(), 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(4), all[0].Sequence)
	assert.Equal(t, "s2", all[2].SessionID)

	s1 := b.History(ForSession("s1"), 1)
	require.Len(t, s1, 1)
	assert.Equal(t, uint64(5), s1[0].Sequence)
}

func TestCloseEndsSubscriptionsAndRejectsPublish(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	s := b.Subscribe(All())
	b.Close()
	b.Close()

	_, ok := <-s.C()
	assert.False(t, ok)

	b.Publish(ev(model.TopicResult, "s1", 1))
	assert.Empty(t, b.History(All(), 0))

	late := b.Subscribe(All())
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestNextHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()
	s := b.Subscribe(All())
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.False(t, ok)

	b.Publish(ev(model.TopicResult, "s1", 7))
	got, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.Sequence)
}
