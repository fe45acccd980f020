// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConflict        = errors.New("channel already has an active session")
	ErrNoActiveSession = errors.New("channel has no active session")
	ErrNotFound        = errors.New("task not found")
	ErrASRTimeout      = errors.New("speech recognition timed out")
	ErrASRFailure      = errors.New("speech recognition failed")
	ErrLLMFailure      = errors.New("language model failed")
	ErrTTSFailure      = errors.New("speech synthesis failed")
	ErrShuttingDown    = errors.New("controller is shutting down")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal invariant violation")
)

// StageError ties a failure to the pipeline stage and error kind that produced it.
type StageError struct {
	Kind  ErrorKind
	Stage SessionState
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with the sentinel for kind so errors.Is works on both.
func NewStageError(kind ErrorKind, stage SessionState, err error) *StageError {
	sentinel := sentinelFor(kind)
	switch {
	case err == nil:
		err = sentinel
	case sentinel != nil && !errors.Is(err, sentinel):
		err = fmt.Errorf("%w: %w", sentinel, err)
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindConflict:
		return ErrConflict
	case KindNoActiveSession:
		return ErrNoActiveSession
	case KindNotFound:
		return ErrNotFound
	case KindASRTimeout:
		return ErrASRTimeout
	case KindASRFailure:
		return ErrASRFailure
	case KindLLMFailure:
		return ErrLLMFailure
	case KindTTSFailure:
		return ErrTTSFailure
	case KindCancelled:
		return context.Canceled
	case KindShuttingDown:
		return ErrShuttingDown
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInternal:
		return ErrInternal
	}
	return nil
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNoActiveSession):
		return KindNoActiveSession
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrASRTimeout):
		return KindASRTimeout
	case errors.Is(err, ErrASRFailure):
		return KindASRFailure
	case errors.Is(err, ErrLLMFailure):
		return KindLLMFailure
	case errors.Is(err, ErrTTSFailure):
		return KindTTSFailure
	case errors.Is(err, ErrShuttingDown):
		return KindShuttingDown
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}
