// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// SessionState is the pipeline stage a session currently occupies.
// Sessions only move forward; Completed, Cancelled and Failed are final.
type SessionState string

const (
	SessionNew          SessionState = "NEW"
	SessionCapturing    SessionState = "CAPTURING"
	SessionRecognizing  SessionState = "RECOGNIZING"
	SessionThinking     SessionState = "THINKING"
	SessionSynthesizing SessionState = "SYNTHESIZING"
	SessionPlaying      SessionState = "PLAYING"
	SessionCompleted    SessionState = "COMPLETED"
	SessionCancelled    SessionState = "CANCELLED"
	SessionFailed       SessionState = "FAILED"
)

// IsTerminal returns true if the state is a final state.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	}
	return false
}

// TaskState is the caller-visible lifecycle of a task handle.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
	TaskCancelled TaskState = "CANCELLED"
)

// IsTerminal returns true if the task will not change state again.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// TaskStateFor maps a terminal session state onto the task lifecycle.
func TaskStateFor(s SessionState) TaskState {
	switch s {
	case SessionCompleted:
		return TaskSucceeded
	case SessionCancelled:
		return TaskCancelled
	case SessionFailed:
		return TaskFailed
	case SessionNew:
		return TaskPending
	default:
		return TaskRunning
	}
}

// SessionEvent drives the session state machine.
type SessionEvent string

const (
	EvStartCapture   SessionEvent = "start_capture"
	EvSubmitText     SessionEvent = "submit_text"
	EvCaptureDone    SessionEvent = "capture_done"
	EvTranscribed    SessionEvent = "transcribed"
	EvReplied        SessionEvent = "replied"
	EvSynthesized    SessionEvent = "synthesized"
	EvPlaybackDone   SessionEvent = "playback_done"
	EvNothingHeard   SessionEvent = "nothing_heard"
	EvSynthesisFails SessionEvent = "synthesis_failed"
	EvCancel         SessionEvent = "cancel"
	EvFail           SessionEvent = "fail"
)

// ErrorKind is a compact, typed failure signal carried on pipeline.error and
// returned by the task API. Keep these stable: metrics and clients depend on them.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindConflict        ErrorKind = "conflict"
	KindNoActiveSession ErrorKind = "no_active_session"
	KindNotFound        ErrorKind = "not_found"
	KindASRTimeout      ErrorKind = "asr_timeout"
	KindASRFailure      ErrorKind = "asr_failure"
	KindLLMFailure      ErrorKind = "llm_failure"
	KindTTSFailure      ErrorKind = "tts_failure"
	KindCancelled       ErrorKind = "cancelled"
	KindShuttingDown    ErrorKind = "shutting_down"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindInternal        ErrorKind = "internal"
)

// Source records how a session entered the pipeline.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
)
