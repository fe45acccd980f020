// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small strict finite state machine used to sequence
// pipeline sessions.
package fsm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTerminal          = errors.New("machine is in a terminal state")
)

// Transition describes a single edge in the FSM.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Machine applies transitions atomically. Unknown transitions are errors.
type Machine[S ~string, E ~string] struct {
	mu       sync.Mutex
	state    S
	index    map[string]Transition[S, E]
	terminal func(S) bool
	observer func(from, to S, event E)
}

// Option customises a Machine.
type Option[S ~string, E ~string] func(*Machine[S, E])

// WithTerminal marks states after which every Fire fails with ErrTerminal.
func WithTerminal[S ~string, E ~string](isTerminal func(S) bool) Option[S, E] {
	return func(m *Machine[S, E]) { m.terminal = isTerminal }
}

// WithObserver registers a callback invoked after each committed transition,
// on the goroutine that called Fire and outside the machine lock.
func WithObserver[S ~string, E ~string](fn func(from, to S, event E)) Option[S, E] {
	return func(m *Machine[S, E]) { m.observer = fn }
}

func New[S ~string, E ~string](initial S, transitions []Transition[S, E], opts ...Option[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	m := &Machine[S, E]{state: initial, index: idx}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is accepted in the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal != nil && m.terminal(m.state) {
		return false
	}
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire attempts to apply an event atomically.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	m.mu.Lock()
	from := m.state
	if m.terminal != nil && m.terminal(from) {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrTerminal, from, event)
	}
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	m.state = t.To
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer(from, t.To, event)
	}
	return t.To, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
