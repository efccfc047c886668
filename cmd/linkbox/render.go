package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/service"
)

// renderer prints conversation snapshots incrementally: only the text
// appended since the previous snapshot is written.
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	messageID string
	printed   int
	thinking  int
	tools     map[string]domain.ToolCallStatus
	progress  map[string]string
	notes     int
	resources int
	streaming bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) render(snap service.ConversationSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(snap.Messages) == 0 {
		r.reset("")
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != domain.RoleAssistant {
		return
	}
	if last.ID != r.messageID {
		if !snap.Streaming {
			// A restored or already finished message; nothing to stream.
			r.reset(last.ID)
			r.printed = len(last.Content)
			return
		}
		r.reset(last.ID)
		r.streaming = true
		fmt.Fprint(r.out, "\nassistant> ")
	}

	if len(snap.Thinking) > r.thinking {
		fmt.Fprintf(r.out, "\x1b[2m%s\x1b[0m", snap.Thinking[r.thinking:])
		r.thinking = len(snap.Thinking)
	} else if snap.Thinking == "" {
		r.thinking = 0
	}

	for _, name := range sortedKeys(last.ToolCalls) {
		call := last.ToolCalls[name]
		if r.tools[name] == call.Status {
			continue
		}
		r.tools[name] = call.Status
		fmt.Fprintf(r.out, "\n  [tool %s: %s]", name, call.Status)
		if call.Output != nil {
			if msg, failed := call.Output.Failure(); failed {
				fmt.Fprintf(r.out, " %s", msg)
			}
		}
	}
	for _, name := range sortedKeys(last.ToolProgress) {
		p := last.ToolProgress[name]
		line := p.Message
		if p.Progress != nil {
			line = fmt.Sprintf("%s (%d%%)", p.Message, *p.Progress)
		}
		if r.progress[name] == line {
			continue
		}
		r.progress[name] = line
		fmt.Fprintf(r.out, "\n  [%s] %s", name, line)
	}
	for _, msg := range last.ProgressMessages[min(r.notes, len(last.ProgressMessages)):] {
		fmt.Fprintf(r.out, "\n  [progress] %s", msg)
	}
	r.notes = len(last.ProgressMessages)

	if len(last.Content) > r.printed {
		if r.printed == 0 {
			fmt.Fprint(r.out, "\n")
		}
		fmt.Fprint(r.out, last.Content[r.printed:])
		r.printed = len(last.Content)
	}

	if len(last.Resources) != r.resources {
		r.resources = len(last.Resources)
		for _, res := range last.Resources {
			fmt.Fprintf(r.out, "\n  * %s <%s>", res.Title, res.URL)
			if len(res.Tags) > 0 {
				fmt.Fprintf(r.out, " [%s]", strings.Join(res.Tags, ", "))
			}
		}
	}

	if r.streaming && !snap.Streaming {
		r.streaming = false
		fmt.Fprint(r.out, "\n")
	}
}

func (r *renderer) reset(id string) {
	r.messageID = id
	r.printed = 0
	r.thinking = 0
	r.notes = 0
	r.resources = 0
	r.streaming = false
	r.tools = make(map[string]domain.ToolCallStatus)
	r.progress = make(map[string]string)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func printHistory(out io.Writer, msgs []domain.ChatMessage) {
	for _, m := range msgs {
		fmt.Fprintf(out, "%s %s> %s\n", m.Timestamp.Format("15:04"), m.Role, m.Content)
	}
}

func printTasks(out io.Writer, tasks []domain.ProgressTask) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no background tasks")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(out, "%s  %-10s %3d%%  %s", t.ID[:8], t.Status, t.Progress, t.Title)
		switch {
		case t.Error != "":
			fmt.Fprintf(out, "  error: %s", t.Error)
		case t.Result != nil:
			fmt.Fprintf(out, "\n          tags: %s\n          %s", strings.Join(t.Result.Tags, ", "), t.Result.Digest)
		case t.Message != "":
			fmt.Fprintf(out, "  %s", t.Message)
		}
		fmt.Fprintln(out)
	}
}
