// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is the in-process publish/subscribe hub that carries pipeline
// events from sessions to every connected front-end.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

const (
	DefaultBufferSize  = 64
	DefaultHistorySize = 100
)

// Publisher is the narrow contract sessions and the controller publish through.
type Publisher interface {
	Publish(ev model.Event)
}

// Options configures a Bus. Zero values pick defaults.
type Options struct {
	BufferSize  int
	HistorySize int
	Logger      *zerolog.Logger
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Handlers    int    `json:"handlers"`
}

// Bus fans events out to subscribers. Publish never blocks: each subscriber
// owns a bounded queue and loses its oldest entries when it falls behind.
type Bus struct {
	bufferSize int
	logger     zerolog.Logger

	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	handlers map[string][]*handlerEntry
	closed   bool

	history *ring

	nextID    atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Publisher = (*Bus)(nil)

// New constructs a Bus.
func New(opts Options) *Bus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	logger := log.WithComponent("bus")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		bufferSize: opts.BufferSize,
		logger:     logger,
		subs:       make(map[uint64]*Subscription),
		handlers:   make(map[string][]*handlerEntry),
		history:    newRing(opts.HistorySize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Publish records ev in the history log and offers it to every matching
// subscriber. It is a no-op once the bus is closed.
func (b *Bus) Publish(ev model.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	b.history.push(ev)
	b.mu.RUnlock()

	b.published.Add(1)
	metrics.IncBusPublished(string(ev.Topic))

	for _, s := range targets {
		if lost, ok := s.offer(ev); ok {
			b.dropped.Add(1)
			metrics.IncBusDrop(string(lost.Topic))
		}
	}
}

// Subscribe registers a new subscription for events matching f.
// The returned subscription must be closed by the caller.
func (b *Bus) Subscribe(f Filter) *Subscription {
	s := newSubscription(b, b.nextID.Add(1), f, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.shutdown()
		close(s.out)
		return s
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	metrics.AddBusSubscribers(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		s.pump()
	}()

	b.logger.Debug().
		Str(log.FieldEvent, "bus.subscribed").
		Uint64(log.FieldSubscriberID, s.id).
		Strs("topics", f.Topics).
		Str(log.FieldSessionID, f.SessionID).
		Msg("subscriber registered")
	return s
}

// Unsubscribe is shorthand for s.Close.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s != nil {
		s.Close()
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	b.mu.Unlock()
	if ok {
		metrics.AddBusSubscribers(-1)
		b.logger.Debug().
			Str(log.FieldEvent, "bus.unsubscribed").
			Uint64(log.FieldSubscriberID, s.id).
			Msg("subscriber removed")
	}
}

// History returns up to limit of the most recent recorded events matching f,
// oldest first. A non-positive limit returns everything retained.
func (b *Bus) History(f Filter, limit int) []model.Event {
	all := b.history.snapshot()
	out := make([]model.Event, 0, len(all))
	for _, ev := range all {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats returns counters and the current registration sizes.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := 0
	for _, lst := range b.handlers {
		handlers += len(lst)
	}
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: len(b.subs),
		Handlers:    handlers,
	}
}

// Close stops delivery, closes every subscription and waits for handler
// goroutines to return. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	b.cancel()
	for _, s := range subs {
		s.Close()
	}
	b.wg.Wait()
}

// ring is the bounded history log.
type ring struct {
	mu   sync.Mutex
	buf  []model.Event
	head int
	size int
}

func newRing(n int) *ring {
	return &ring{buf: make([]model.Event, n)}
}

func (r *ring) push(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = ev
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
