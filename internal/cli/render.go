// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// Renderer prints events and tasks as single human-readable lines. It is
// safe for concurrent use.
type Renderer struct {
	mu sync.Mutex
	w  io.Writer
	// Verbose adds session ids and sequence numbers.
	Verbose bool
}

// NewRenderer writes to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

// Event renders one bus event. Topics without a rendering are skipped.
func (r *Renderer) Event(ev model.Event) {
	line := eventLine(ev)
	if line == "" {
		return
	}
	if r.Verbose && ev.SessionID != "" {
		line = fmt.Sprintf("%s #%d %s", shortID(ev.SessionID), ev.Sequence, line)
	}
	r.printf("%s", line)
}

func eventLine(ev model.Event) string {
	p := ev.Payload
	switch ev.Topic {
	case model.TopicAudioStart:
		return "[listening] speak now, press e to finish"
	case model.TopicStateChanged:
		return "[" + strings.ToLower(string(p.State)) + "]"
	case model.TopicTranscript:
		return "you: " + p.Transcript
	case model.TopicDegraded:
		return "[degraded] language model unavailable, repeating what you said"
	case model.TopicWarning:
		return fmt.Sprintf("[warning] %s: %s", p.ErrorKind, p.Message)
	case model.TopicResult:
		if p.NothingHeard {
			return "[done] nothing heard"
		}
		if !p.AudioRendered {
			return "lumi: " + p.ReplyText + " (not spoken)"
		}
		return "lumi: " + p.ReplyText
	case model.TopicCancelled:
		return "[cancelled]"
	case model.TopicError:
		return fmt.Sprintf("[error] %s: %s", p.ErrorKind, p.Message)
	case model.TopicGap:
		return fmt.Sprintf("[gap] %d events were dropped", p.Lost)
	case model.TopicSystemStopped:
		return "[system] assistant is stopping"
	default:
		return ""
	}
}

// Task renders a task snapshot.
func (r *Renderer) Task(t model.Task) {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s  %s/%s  channel=%s source=%s", shortID(t.ID), t.State, t.Stage, t.Channel, t.Source)
	res := t.Result
	if res.Transcript != "" {
		fmt.Fprintf(&b, "\n  transcript: %s", res.Transcript)
	}
	if res.ReplyText != "" {
		fmt.Fprintf(&b, "\n  reply: %s", res.ReplyText)
	}
	if res.NothingHeard {
		b.WriteString("\n  nothing heard")
	}
	if res.Degraded {
		b.WriteString("\n  degraded")
	}
	if res.ErrorKind != "" {
		fmt.Fprintf(&b, "\n  error: %s %s", res.ErrorKind, res.ErrorMessage)
	}
	r.printf("%s", b.String())
}

// History renders a conversation.
func (r *Renderer) History(msgs []capability.Message) {
	if len(msgs) == 0 {
		r.printf("(no messages yet)")
		return
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		who := "you"
		if m.Role == capability.RoleAssistant {
			who = "lumi"
		}
		fmt.Fprintf(&b, "%4s: %s", who, m.Content)
	}
	r.printf("%s", b.String())
}

// Conversations renders a conversation list, marking current with '*'.
func (r *Renderer) Conversations(list []dialogue.Conversation, current string) {
	if len(list) == 0 {
		r.printf("(no conversations)")
		return
	}
	var b strings.Builder
	for i, c := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := ' '
		if c.ID == current {
			mark = '*'
		}
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&b, "%c %s  %-8s %3d msgs  %s  %s", mark, shortID(c.ID), c.Channel, c.Messages,
			c.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
	r.printf("%s", b.String())
}

// Line prints a plain message.
func (r *Renderer) Line(format string, args ...any) {
	r.printf(format, args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
