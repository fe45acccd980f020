// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dialogue

import (
	"regexp"
	"strings"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think>...</think> reasoning blocks from an LLM
// reply. An unterminated block drops everything after its opening tag.
func StripThinking(reply string) string {
	out := thinkBlock.ReplaceAllString(reply, "")
	if i := strings.Index(out, "<think>"); i >= 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

// Title derives a conversation title from the first user message: at most
// n runes, with "..." appended when truncated.
func Title(content string, n int) string {
	if n <= 0 {
		n = DefaultTitleLength
	}
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
