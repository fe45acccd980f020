// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// Result is the outcome recorded on a task once its session ends.
type Result struct {
	Transcript    string    `json:"transcript,omitempty"`
	ReplyText     string    `json:"replyText,omitempty"`
	NothingHeard  bool      `json:"nothingHeard,omitempty"`
	Degraded      bool      `json:"degraded,omitempty"`
	AudioRendered bool      `json:"audioRendered"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
}

// Task is the handle a caller receives for a session-driving operation.
// Registry readers always receive a copy.
type Task struct {
	ID          string       `json:"taskId"`
	SessionID   string       `json:"sessionId"`
	Channel     string       `json:"channel"`
	Source      Source       `json:"source"`
	State       TaskState    `json:"state"`
	Stage       SessionState `json:"stage"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	Result      Result       `json:"result"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return t
}
