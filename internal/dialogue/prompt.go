// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"strings"
	"time"
)

// DefaultPrompt is the personality template used when none is configured.
const DefaultPrompt = `You are {{name}}, a friendly and lively voice assistant. Current time: {{current_time}}.

Personality:
- Warm and playful, like a friend rather than a machine
- Relaxed, conversational wording
- Short replies; this text is read aloud

Guidelines:
- Never describe yourself as "an AI assistant"
- Match your greeting to the time of day
- Remember what the user said earlier and refer to it naturally

{{greeting}}`

// Personality renders the system prompt.
type Personality struct {
	Name     string
	Template string
}

// Render substitutes {{name}}, {{current_time}} and {{greeting}} for now.
func (p Personality) Render(now time.Time) string {
	tmpl := p.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultPrompt
	}
	r := strings.NewReplacer(
		"{{name}}", p.Name,
		"{{current_time}}", now.Format("2006-01-02 15:04"),
		"{{greeting}}", Greeting(now.Hour()),
	)
	return r.Replace(tmpl)
}

// Greeting returns a time-of-day greeting for hour (0-23).
func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Good morning, a new day has begun."
	case hour >= 12 && hour < 14:
		return "It's noon, remember to have lunch."
	case hour >= 14 && hour < 18:
		return "Good afternoon, how about a coffee break?"
	case hour >= 18 && hour < 22:
		return "Good evening, how was your day?"
	default:
		return "It's late, remember to get some rest."
	}
}
