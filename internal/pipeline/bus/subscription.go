// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// Subscription is one subscriber's delivery path. Events are queued in a
// bounded ring and handed to the reader through C in publish order. When the
// ring overflows the oldest entry is discarded and the reader later receives a
// single bus.gap event carrying the number of events lost.
type Subscription struct {
	id     uint64
	filter Filter
	bus    *Bus

	mu     sync.Mutex
	queue  []model.Event
	head   int
	size   int
	lost   uint64
	closed bool

	notify chan struct{}
	done   chan struct{}
	out    chan model.Event
	once   sync.Once
}

func newSubscription(b *Bus, id uint64, f Filter, capacity int) *Subscription {
	return &Subscription{
		id:     id,
		filter: f,
		bus:    b,
		queue:  make([]model.Event, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan model.Event),
	}
}

// ID returns the subscriber identifier.
func (s *Subscription) ID() uint64 { return s.id }

// Filter returns the filter the subscription was created with.
func (s *Subscription) Filter() Filter { return s.filter }

// C yields delivered events. It is closed after Close or bus shutdown.
func (s *Subscription) C() <-chan model.Event { return s.out }

// Next blocks until the next event, ctx cancellation or subscription close.
func (s *Subscription) Next(ctx context.Context) (model.Event, bool) {
	select {
	case ev, ok := <-s.out:
		return ev, ok
	case <-ctx.Done():
		return model.Event{}, false
	}
}

// Close unregisters the subscription. It is idempotent and safe to call
// concurrently with Publish; no delivery is attempted afterwards.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.bus != nil {
			s.bus.remove(s)
		}
		s.shutdown()
	})
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	s.closed = true
	for i := range s.queue {
		s.queue[i] = model.Event{}
	}
	s.size = 0
	s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// offer enqueues ev, returning the evicted event when the ring was full.
func (s *Subscription) offer(ev model.Event) (model.Event, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Event{}, false
	}
	var (
		evicted model.Event
		dropped bool
	)
	if s.size == len(s.queue) {
		evicted = s.queue[s.head]
		s.queue[s.head] = model.Event{}
		s.head = (s.head + 1) % len(s.queue)
		s.size--
		s.lost++
		dropped = true
	}
	s.queue[(s.head+s.size)%len(s.queue)] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return evicted, dropped
}

func (s *Subscription) take() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost > 0 {
		n := s.lost
		s.lost = 0
		return model.Event{
			Topic:   model.TopicGap,
			Time:    time.Now(),
			Payload: model.Payload{Lost: n},
		}, true
	}
	if s.size == 0 {
		return model.Event{}, false
	}
	ev := s.queue[s.head]
	s.queue[s.head] = model.Event{}
	s.head = (s.head + 1) % len(s.queue)
	s.size--
	return ev, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok := s.take()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
