// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

func TestReplayedSkipsEventPublishedBetweenSubscribeAndHistory(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	b := New(Options{})
	defer b.Close()

	b.Publish(ev(model.TopicAudioStart, "s1", 1))
	sub := b.Subscribe(All())
	defer sub.Close()
	// Lands in both the live buffer and the history log.
	b.Publish(ev(model.TopicStateChanged, "s1", 2))

	replay := b.History(All(), 0)
	require.Len(t, replay, 2)
	sent := NewReplayed(replay)

	b.Publish(ev(model.TopicResult, "s1", 3))

	var live []uint64
	for len(live) < 1 {
		e := recv(t, sub)
		if sent.Delivered(e) {
			continue
		}
		live = append(live, e.Sequence)
	}
	assert.Equal(t, []uint64{3}, live)
}

func TestReplayedMatchesEachEventOnce(t *testing.T) {
	at := time.Unix(100, 0)
	sessionless := model.Event{Topic: model.TopicWarning, Time: at}
	r := NewReplayed([]model.Event{ev(model.TopicResult, "s1", 7), sessionless})

	assert.True(t, r.Delivered(ev(model.TopicResult, "s1", 7)))
	assert.False(t, r.Delivered(ev(model.TopicResult, "s1", 7)))
	assert.False(t, r.Delivered(ev(model.TopicResult, "s2", 7)))
	assert.False(t, r.Delivered(model.Event{Topic: model.TopicWarning, Time: at.Add(time.Second)}))
	assert.True(t, r.Delivered(sessionless))

	var none *Replayed
	assert.False(t, none.Delivered(sessionless))
}
