// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "hello there", "hello there"},
		{"leading block", "<think>user seems tired</think>Get some rest.", "Get some rest."},
		{"multiline", "<think>\nline one\nline two\n</think>\n\nSure!", "Sure!"},
		{"two blocks", "A<think>x</think>B<think>y</think>C", "ABC"},
		{"unterminated", "Okay.<think>still reasoning", "Okay."},
		{"only thinking", "<think>nothing to say</think>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripThinking(tt.in))
		})
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "turn on the lamp", Title("turn on the lamp", 30))
	assert.Equal(t, "abcde...", Title("abcdefgh", 5))
	assert.Equal(t, "a b", Title("  a \n b ", 30))
	assert.Equal(t, "今天天气...", Title("今天天气怎么样", 4))
	assert.Equal(t, Title("0123456789012345678901234567890123", 0), "012345678901234567890123456789...")
}

func TestGreeting(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{4, "It's late, remember to get some rest."},
		{5, "Good morning, a new day has begun."},
		{11, "Good morning, a new day has begun."},
		{12, "It's noon, remember to have lunch."},
		{14, "Good afternoon, how about a coffee break?"},
		{18, "Good evening, how was your day?"},
		{22, "It's late, remember to get some rest."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Greeting(tt.hour), "hour %d", tt.hour)
	}
}

func TestPersonality_Render(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 0, 0, time.Local)
	p := Personality{Name: "Nova", Template: "I am {{name}} at {{current_time}}. {{greeting}}"}
	assert.Equal(t, "I am Nova at 2025-03-14 09:26. Good morning, a new day has begun.", p.Render(now))

	def := Personality{Name: "Lumi"}.Render(now)
	assert.Contains(t, def, "You are Lumi")
	assert.Contains(t, def, "2025-03-14 09:26")
	assert.NotContains(t, def, "{{")
}
