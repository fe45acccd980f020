// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern string
		want    bool
	}{
		{TopicResult, "*", true},
		{TopicResult, "pipeline.*", true},
		{TopicResult, "pipeline.result", true},
		{TopicResult, "pipeline.error", false},
		{TopicAudioStart, "pipeline.*", false},
		{TopicGap, "bus.*", true},
		{Topic("pipelinex.result"), "pipeline.*", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.topic)+"/"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.topic.Matches(tt.pattern))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []SessionState{SessionCompleted, SessionCancelled, SessionFailed} {
		assert.True(t, s.IsTerminal(), s)
		assert.True(t, TaskStateFor(s).IsTerminal(), s)
	}
	for _, s := range []SessionState{SessionNew, SessionCapturing, SessionRecognizing, SessionThinking, SessionSynthesizing, SessionPlaying} {
		assert.False(t, s.IsTerminal(), s)
		assert.False(t, TaskStateFor(s).IsTerminal(), s)
	}
	assert.Equal(t, TaskSucceeded, TaskStateFor(SessionCompleted))
	assert.Equal(t, TaskCancelled, TaskStateFor(SessionCancelled))
	assert.Equal(t, TaskFailed, TaskStateFor(SessionFailed))
}

func TestStageErrorClassification(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewStageError(KindASRTimeout, SessionRecognizing, cause)

	require.ErrorIs(t, err, ErrASRTimeout)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindASRTimeout, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "RECOGNIZING")

	bare := NewStageError(KindInternal, SessionThinking, nil)
	require.ErrorIs(t, bare, ErrInternal)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("start: %w", ErrConflict)))
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestTaskCloneDetachesCompletedAt(t *testing.T) {
	now := time.Now()
	orig := Task{ID: "t1", CompletedAt: &now}
	cp := orig.Clone()
	*cp.CompletedAt = now.Add(time.Hour)
	assert.Equal(t, now, *orig.CompletedAt)
}

func TestEventIsTerminal(t *testing.T) {
	assert.True(t, Event{Topic: TopicResult}.IsTerminal())
	assert.True(t, Event{Topic: TopicCancelled}.IsTerminal())
	assert.False(t, Event{Topic: TopicDegraded}.IsTerminal())
}
