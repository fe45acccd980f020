// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import "github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"

type eventKey struct {
	session string
	seq     uint64
	topic   model.Topic
	nanos   int64
}

func keyOf(ev model.Event) eventKey {
	if ev.SessionID != "" {
		return eventKey{session: ev.SessionID, seq: ev.Sequence}
	}
	return eventKey{topic: ev.Topic, seq: ev.Sequence, nanos: ev.Time.UnixNano()}
}

// Replayed remembers the events a stream sent from History. Streams
// subscribe before replaying, so an event published in between arrives on
// both paths; Delivered lets the live loop drop the second copy.
type Replayed struct {
	keys map[eventKey]struct{}
}

// NewReplayed records evs as already sent.
func NewReplayed(evs []model.Event) *Replayed {
	r := &Replayed{keys: make(map[eventKey]struct{}, len(evs))}
	for _, ev := range evs {
		r.keys[keyOf(ev)] = struct{}{}
	}
	return r
}

// Delivered reports whether ev went out with the replay. Each replayed event
// matches at most once.
func (r *Replayed) Delivered(ev model.Event) bool {
	if r == nil || len(r.keys) == 0 {
		return false
	}
	k := keyOf(ev)
	if _, ok := r.keys[k]; !ok {
		return false
	}
	delete(r.keys, k)
	return true
}
