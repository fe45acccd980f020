// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry holds task records for the operation controller and the
// sessions that drive them.
package registry

import (
	"container/list"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

const DefaultCapacity = 256

// idemSweepThreshold is the key count above which writes purge expired keys.
const idemSweepThreshold = 1024

var (
	ErrExists   = errors.New("task already registered")
	ErrTerminal = errors.New("task already terminal")
)

// Registry stores tasks in memory. Active tasks are never evicted; once a task
// reaches a terminal state it joins a completion-ordered list and the oldest
// completed tasks are dropped when more than capacity are retained.
//
// Each entry has a single writer: the controller inserts it, afterwards only
// the owning session updates it. Readers always get a copy.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	now      func() time.Time

	tasks     map[string]*entry
	completed *list.List // of task id, oldest completion at the front

	idem map[string]idemState
}

type entry struct {
	task model.Task
	elem *list.Element
}

type idemState struct {
	taskID string
	exp    time.Time
}

// New returns a registry retaining up to capacity completed tasks.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity:  capacity,
		now:       time.Now,
		tasks:     make(map[string]*entry),
		completed: list.New(),
		idem:      make(map[string]idemState),
	}
}

// Put inserts a new task.
func (r *Registry) Put(t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	e := &entry{task: t.Clone()}
	r.tasks[t.ID] = e
	if t.State.IsTerminal() {
		r.markCompletedLocked(e)
	}
	return nil
}

// Get returns a snapshot of the task or model.ErrNotFound.
func (r *Registry) Get(id string) (model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return e.task.Clone(), nil
}

// Update applies fn to the stored task and returns the new snapshot. Terminal
// tasks are frozen: updating one fails with ErrTerminal.
func (r *Registry) Update(id string, fn func(*model.Task)) (model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	if e.task.State.IsTerminal() {
		return e.task.Clone(), fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	next := e.task.Clone()
	fn(&next)
	next.ID = e.task.ID
	e.task = next
	if next.State.IsTerminal() {
		r.markCompletedLocked(e)
	}
	return e.task.Clone(), nil
}

func (r *Registry) markCompletedLocked(e *entry) {
	if e.task.CompletedAt == nil {
		at := r.now()
		e.task.CompletedAt = &at
	}
	e.elem = r.completed.PushBack(e.task.ID)
	for r.completed.Len() > r.capacity {
		front := r.completed.Front()
		id := front.Value.(string)
		r.completed.Remove(front)
		delete(r.tasks, id)
		metrics.IncRegistryEviction()
	}
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Channel   string
	SessionID string
	States    []model.TaskState
}

// List returns snapshots of matching tasks, newest first.
func (r *Registry) List(f Filter) []model.Task {
	r.mu.RLock()
	out := make([]model.Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		if f.Channel != "" && e.task.Channel != f.Channel {
			continue
		}
		if f.SessionID != "" && e.task.SessionID != f.SessionID {
			continue
		}
		if len(f.States) > 0 && !containsState(f.States, e.task.State) {
			continue
		}
		out = append(out, e.task.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func containsState(states []model.TaskState, s model.TaskState) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}

// Len returns the number of retained tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// PutIdempotency remembers which task a client idempotency key produced.
func (r *Registry) PutIdempotency(key, taskID string, ttl time.Duration) {
	if key == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.idem) >= idemSweepThreshold {
		for k, st := range r.idem {
			if now.After(st.exp) {
				delete(r.idem, k)
			}
		}
	}
	r.idem[key] = idemState{taskID: taskID, exp: now.Add(ttl)}
}

// GetIdempotency returns the task recorded for key while the key is live.
func (r *Registry) GetIdempotency(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.idem[key]
	if ok && now.After(st.exp) {
		delete(r.idem, key)
		return "", false
	}
	return st.taskID, ok
}
