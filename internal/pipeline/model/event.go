// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"strings"
	"time"
)

// Topic identifies an event category. Dotted names group related topics so
// subscribers can match a family with a "prefix.*" pattern.
type Topic string

const (
	TopicAudioStart    Topic = "audio.start"
	TopicStateChanged  Topic = "pipeline.state"
	TopicTranscript    Topic = "pipeline.transcript"
	TopicDegraded      Topic = "pipeline.degraded"
	TopicWarning       Topic = "pipeline.warning"
	TopicResult        Topic = "pipeline.result"
	TopicError         Topic = "pipeline.error"
	TopicCancelled     Topic = "pipeline.cancelled"
	TopicGap           Topic = "bus.gap"
	TopicSystemStarted Topic = "system.started"
	TopicSystemStopped Topic = "system.stopping"
)

// Wildcard matches every topic.
const Wildcard = "*"

// Matches reports whether t is selected by pattern. Patterns are an exact
// topic, "*" or a "prefix.*" family.
func (t Topic) Matches(pattern string) bool {
	switch {
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(string(t), strings.TrimSuffix(pattern, "*"))
	default:
		return string(t) == pattern
	}
}

// Payload is the topic-specific event body. It holds only value fields so a
// published Event can be copied freely without sharing memory.
type Payload struct {
	State         SessionState `json:"state,omitempty"`
	Source        Source       `json:"source,omitempty"`
	Transcript    string       `json:"transcript,omitempty"`
	ReplyText     string       `json:"replyText,omitempty"`
	NothingHeard  bool         `json:"nothingHeard,omitempty"`
	AudioRendered bool         `json:"audioRendered,omitempty"`
	Degraded      bool         `json:"degraded,omitempty"`
	ErrorKind     ErrorKind    `json:"errorKind,omitempty"`
	Message       string       `json:"message,omitempty"`
	Lost          uint64       `json:"lost,omitempty"`
}

// Event is an immutable notification published on the bus.
// Sequence increases by one for every event of the same session.
type Event struct {
	Topic     Topic     `json:"topic"`
	SessionID string    `json:"sessionId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Sequence  uint64    `json:"sequence"`
	Time      time.Time `json:"time"`
	Payload   Payload   `json:"payload"`
}

// IsTerminal reports whether the event closes its session.
func (e Event) IsTerminal() bool {
	switch e.Topic {
	case TopicResult, TopicError, TopicCancelled:
		return true
	}
	return false
}
