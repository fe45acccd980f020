// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/fsm"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

type transition = fsm.Transition[model.SessionState, model.SessionEvent]

var forward = []transition{
	{From: model.SessionNew, Event: model.EvStartCapture, To: model.SessionCapturing},
	{From: model.SessionNew, Event: model.EvSubmitText, To: model.SessionThinking},
	{From: model.SessionNew, Event: model.EvNothingHeard, To: model.SessionCompleted},

	{From: model.SessionCapturing, Event: model.EvCaptureDone, To: model.SessionRecognizing},
	{From: model.SessionCapturing, Event: model.EvNothingHeard, To: model.SessionCompleted},

	{From: model.SessionRecognizing, Event: model.EvTranscribed, To: model.SessionThinking},
	{From: model.SessionRecognizing, Event: model.EvNothingHeard, To: model.SessionCompleted},

	{From: model.SessionThinking, Event: model.EvReplied, To: model.SessionSynthesizing},

	{From: model.SessionSynthesizing, Event: model.EvSynthesized, To: model.SessionPlaying},
	{From: model.SessionSynthesizing, Event: model.EvSynthesisFails, To: model.SessionCompleted},

	{From: model.SessionPlaying, Event: model.EvPlaybackDone, To: model.SessionCompleted},
}

var live = []model.SessionState{
	model.SessionNew,
	model.SessionCapturing,
	model.SessionRecognizing,
	model.SessionThinking,
	model.SessionSynthesizing,
	model.SessionPlaying,
}

// transitions returns the full session table: the forward pipeline plus
// cancel and fail edges from every live state.
func transitions() []transition {
	out := make([]transition, 0, len(forward)+2*len(live))
	out = append(out, forward...)
	for _, s := range live {
		out = append(out,
			transition{From: s, Event: model.EvCancel, To: model.SessionCancelled},
			transition{From: s, Event: model.EvFail, To: model.SessionFailed},
		)
	}
	return out
}

func newMachine(observe func(from, to model.SessionState, ev model.SessionEvent)) (*fsm.Machine[model.SessionState, model.SessionEvent], error) {
	return fsm.New(model.SessionNew, transitions(),
		fsm.WithTerminal[model.SessionState, model.SessionEvent](model.SessionState.IsTerminal),
		fsm.WithObserver(observe),
	)
}
