// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import "github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"

// Filter selects events for a subscription. Topics holds exact topics,
// "prefix.*" families or "*"; an empty list selects every topic. SessionID,
// when set, restricts delivery to one session's events.
type Filter struct {
	Topics    []string `json:"topics,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	Channel   string   `json:"channel,omitempty"`
}

// All selects every event.
func All() Filter { return Filter{} }

// ForSession selects every event of one session.
func ForSession(sessionID string) Filter {
	return Filter{SessionID: sessionID}
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev model.Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Channel != "" && ev.Channel != f.Channel {
		return false
	}
	if len(f.Topics) == 0 {
		return true
	}
	for _, p := range f.Topics {
		if ev.Topic.Matches(p) {
			return true
		}
	}
	return false
}
