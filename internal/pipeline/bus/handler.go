// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// Handler consumes one event. ctx is cancelled when the bus closes.
type Handler func(ctx context.Context, ev model.Event)

type handlerEntry struct {
	topic string
	sub   *Subscription
}

// Handle registers h for topic (exact, "prefix.*" or "*"). Handlers for a
// topic are kept in registration order; each runs on its own delivery path so
// a slow or panicking handler never affects the publisher or its peers.
// The returned function unregisters h and may be called any number of times.
func (b *Bus) Handle(topic string, h Handler) (unsubscribe func()) {
	sub := b.Subscribe(Filter{Topics: []string{topic}})
	entry := &handlerEntry{topic: topic, sub: sub}

	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], entry)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range sub.C() {
			b.dispatch(entry, h, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.dropHandler(entry)
			sub.Close()
		})
	}
}

// Once registers h for a single delivery on topic.
func (b *Bus) Once(topic string, h Handler) (unsubscribe func()) {
	var (
		fired sync.Once
		unsub func()
		ready = make(chan struct{})
	)
	unsub = b.Handle(topic, func(ctx context.Context, ev model.Event) {
		<-ready
		fired.Do(func() {
			unsub()
			h(ctx, ev)
		})
	})
	close(ready)
	return unsub
}

// Handlers returns the number of handlers registered for topic.
func (b *Bus) Handlers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

func (b *Bus) dropHandler(entry *handlerEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lst := b.handlers[entry.topic]
	out := lst[:0]
	for _, e := range lst {
		if e != entry {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		delete(b.handlers, entry.topic)
	} else {
		b.handlers[entry.topic] = out
	}
}

func (b *Bus) dispatch(entry *handlerEntry, h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBusHandlerPanic(string(ev.Topic))
			b.logger.Error().
				Str(log.FieldEvent, "bus.handler_panic").
				Str(log.FieldTopic, string(ev.Topic)).
				Uint64(log.FieldSubscriberID, entry.sub.id).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("bus handler panicked; delivery continues")
		}
	}()
	h(b.ctx, ev)
}
