// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cli is the interactive keyboard front-end. It drives the same
// operations as the network APIs and renders the event stream inline.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/capability"
	"github.com/yaotutu/lumi-assistant-cli/internal/dialogue"
	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// DefaultChannel is the channel the CLI owns.
const DefaultChannel = "cli"

// Backend is the operation surface: the in-process controller or a remote
// gRPC client.
type Backend interface {
	StartListening(ctx context.Context, channel string) (model.Task, error)
	StopListening(ctx context.Context, channel string) (model.Task, error)
	SubmitText(ctx context.Context, channel, text string) (model.Task, error)
	Cancel(ctx context.Context, taskID string) (model.Task, error)
	GetTaskStatus(ctx context.Context, taskID string) (model.Task, error)
}

// EventSource opens an event feed for f that ends with ctx.
type EventSource func(ctx context.Context, f bus.Filter) (<-chan model.Event, error)

// Conversations manages stored dialogue. *dialogue.Manager implements it.
type Conversations interface {
	History(ctx context.Context, channel string) (dialogue.Conversation, []capability.Message, error)
	CurrentID(channel string) string
	Reset(ctx context.Context, channel string) (dialogue.Conversation, error)
	Resume(ctx context.Context, channel, id string) (dialogue.Conversation, error)
	List(ctx context.Context, channel string, limit int) ([]dialogue.Conversation, error)
	Delete(ctx context.Context, id string) error
	Export(ctx context.Context, id string) (dialogue.Transcript, error)
}

var _ Conversations = (*dialogue.Manager)(nil)

// listLimit caps the l command.
const listLimit = 20

// Options wires the CLI. Conversations may be nil when the backend is remote.
type Options struct {
	Backend       Backend
	Events        EventSource
	Conversations Conversations
	Channel     string
	Stdin       io.ReadCloser
	Stdout      io.Writer
	HistoryFile string
	Verbose     bool
	Logger      *zerolog.Logger
}

// CLI reads single-key commands and renders pipeline events.
type CLI struct {
	opts   Options
	render *Renderer
	logger zerolog.Logger

	mu   sync.Mutex
	last string
}

// New validates opts.
func New(opts Options) (*CLI, error) {
	if opts.Backend == nil || opts.Events == nil {
		return nil, errors.New("cli needs a backend and an event source")
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	logger := log.WithComponent("cli")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	c := &CLI{opts: opts, logger: logger, render: NewRenderer(out)}
	c.render.Verbose = opts.Verbose
	return c, nil
}

const help = `commands:
  b               start listening
  e               stop listening and answer
  t <text>        ask by text
  c               cancel the current task
  s               status of the last task
  h               conversation history
  n               start a new conversation
  l               list conversations
  r <id>          resume a conversation
  d <id>          delete a conversation
  x <id> [file]   export a conversation as JSON
  q               quit`

// Run reads commands until q, EOF, interrupt or ctx cancellation.
func (c *CLI) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lumi> ",
		HistoryFile:     c.opts.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
		Stdin:           c.opts.Stdin,
		Stdout:          c.opts.Stdout,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("b"), readline.PcItem("e"), readline.PcItem("t"),
			readline.PcItem("c"), readline.PcItem("s"), readline.PcItem("h"), readline.PcItem("n"),
			readline.PcItem("l"), readline.PcItem("r"), readline.PcItem("d"), readline.PcItem("x"),
			readline.PcItem("q"),
		),
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	// Renders go through readline so the prompt is redrawn under them.
	c.render = NewRenderer(rl.Stdout())
	c.render.Verbose = c.opts.Verbose

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := c.opts.Events(ctx, bus.Filter{Channel: c.opts.Channel})
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pump(ctx, events)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Unblock Readline when ctx ends from outside.
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	c.render.Line("Lumi is ready on channel %q. Type h for history, ? for help.", c.opts.Channel)
	c.render.Line("%s", help)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				c.quit(ctx)
				return nil
			}
			continue
		}
		if err != nil {
			// io.EOF or closed by ctx.
			c.quit(ctx)
			return nil
		}
		if quit := c.Execute(ctx, line); quit {
			return nil
		}
	}
}

// pump renders events until the feed closes or ctx ends.
func (c *CLI) pump(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.render.Event(ev)
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *CLI) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	ch := c.opts.Channel

	switch strings.ToLower(cmd) {
	case "b":
		task, err := c.opts.Backend.StartListening(ctx, ch)
		if err != nil {
			c.fail("start listening", err)
			return false
		}
		c.remember(task.ID)
	case "e":
		if _, err := c.opts.Backend.StopListening(ctx, ch); err != nil {
			c.fail("stop listening", err)
		}
	case "t":
		if arg == "" {
			c.render.Line("usage: t <text>")
			return false
		}
		task, err := c.opts.Backend.SubmitText(ctx, ch, arg)
		if err != nil {
			c.fail("submit text", err)
			return false
		}
		c.remember(task.ID)
	case "c":
		id := c.lastTask()
		if id == "" {
			c.render.Line("no task to cancel")
			return false
		}
		task, err := c.opts.Backend.Cancel(ctx, id)
		if err != nil {
			c.fail("cancel", err)
			return false
		}
		if task.State.IsTerminal() && task.State != model.TaskCancelled {
			c.render.Line("task already finished (%s)", task.State)
		}
	case "s":
		id := c.lastTask()
		if id == "" {
			c.render.Line("no task yet")
			return false
		}
		task, err := c.opts.Backend.GetTaskStatus(ctx, id)
		if err != nil {
			c.fail("status", err)
			return false
		}
		c.render.Task(task)
	case "h", "n", "l", "r", "d", "x":
		if c.opts.Conversations == nil {
			c.render.Line("conversations are not available on a remote assistant")
			return false
		}
		c.conversation(ctx, strings.ToLower(cmd), arg)
	case "q", "quit", "exit":
		c.quit(ctx)
		return true
	case "?", "help":
		c.render.Line("%s", help)
	default:
		c.render.Line("unknown command %q, use ? for help", cmd)
	}
	return false
}

// conversation runs the dialogue commands against the local store.
func (c *CLI) conversation(ctx context.Context, cmd, arg string) {
	conv := c.opts.Conversations
	ch := c.opts.Channel
	switch cmd {
	case "h":
		_, msgs, err := conv.History(ctx, ch)
		if err != nil {
			c.fail("history", err)
			return
		}
		c.render.History(msgs)
	case "n":
		fresh, err := conv.Reset(ctx, ch)
		if err != nil {
			c.fail("new conversation", err)
			return
		}
		c.render.Line("started conversation %s", shortID(fresh.ID))
	case "l":
		list, err := conv.List(ctx, "", listLimit)
		if err != nil {
			c.fail("list", err)
			return
		}
		c.render.Conversations(list, conv.CurrentID(ch))
	case "r", "d", "x":
		idArg, file, _ := strings.Cut(arg, " ")
		if idArg == "" {
			c.render.Line("usage: %s <id>", cmd)
			return
		}
		id, err := c.resolveConversation(ctx, idArg)
		if err != nil {
			c.fail("lookup", err)
			return
		}
		switch cmd {
		case "r":
			resumed, err := conv.Resume(ctx, ch, id)
			if err != nil {
				c.fail("resume", err)
				return
			}
			c.render.Line("resumed %s (%d messages)", shortID(resumed.ID), resumed.Messages)
		case "d":
			if err := conv.Delete(ctx, id); err != nil {
				c.fail("delete", err)
				return
			}
			c.render.Line("deleted %s", shortID(id))
		case "x":
			c.export(ctx, id, strings.TrimSpace(file))
		}
	}
}

// resolveConversation expands a unique id prefix as printed by l.
func (c *CLI) resolveConversation(ctx context.Context, prefix string) (string, error) {
	list, err := c.opts.Conversations.List(ctx, "", 0)
	if err != nil {
		return "", err
	}
	var match string
	for _, conv := range list {
		if conv.ID == prefix {
			return conv.ID, nil
		}
		if strings.HasPrefix(conv.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %q matches more than one conversation", model.ErrInvalidInput, prefix)
			}
			match = conv.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("conversation %s: %w", prefix, model.ErrNotFound)
	}
	return match, nil
}

func (c *CLI) export(ctx context.Context, id, file string) {
	tr, err := c.opts.Conversations.Export(ctx, id)
	if err != nil {
		c.fail("export", err)
		return
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		c.fail("export", err)
		return
	}
	if file == "" {
		c.render.Line("%s", data)
		return
	}
	if err := renameio.WriteFile(file, append(data, '\n'), 0o600); err != nil {
		c.fail("export", err)
		return
	}
	c.render.Line("exported %d messages to %s", len(tr.Messages), file)
}

// quit cancels a task this CLI started that is still running.
func (c *CLI) quit(ctx context.Context) {
	id := c.lastTask()
	if id == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	task, err := c.opts.Backend.GetTaskStatus(ctx, id)
	if err != nil || task.State.IsTerminal() {
		return
	}
	if _, err := c.opts.Backend.Cancel(ctx, id); err != nil {
		c.logger.Debug().Err(err).Str(log.FieldEvent, "cli.cancel_on_quit").Str(log.FieldTaskID, id).Msg("cancel on quit failed")
	}
}

func (c *CLI) fail(op string, err error) {
	switch {
	case errors.Is(err, model.ErrConflict):
		c.render.Line("a session is already running, press e to finish or c to cancel")
	case errors.Is(err, model.ErrNoActiveSession):
		c.render.Line("not listening, press b first")
	case errors.Is(err, model.ErrShuttingDown):
		c.render.Line("assistant is shutting down")
	case errors.Is(err, model.ErrNotFound):
		c.render.Line("%s failed: no such conversation", op)
	default:
		c.render.Line("%s failed: %v", op, err)
	}
}

func (c *CLI) remember(id string) {
	c.mu.Lock()
	c.last = id
	c.mu.Unlock()
}

func (c *CLI) lastTask() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Tail renders every event from events until ctx ends or the feed closes.
func Tail(ctx context.Context, w io.Writer, events <-chan model.Event, verbose bool) {
	r := NewRenderer(w)
	r.Verbose = verbose
	c := &CLI{render: r}
	c.pump(ctx, events)
}

// BusEvents adapts an in-process bus to an EventSource.
func BusEvents(b *bus.Bus) EventSource {
	return func(ctx context.Context, f bus.Filter) (<-chan model.Event, error) {
		sub := b.Subscribe(f)
		out := make(chan model.Event)
		go func() {
			defer close(out)
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub.C():
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, nil
	}
}
