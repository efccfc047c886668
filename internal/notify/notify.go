// Package notify delivers user-facing notifications (toasts) to whatever
// surface the client runs in.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/logger"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one message shown to the user.
type Notification struct {
	Level Level
	Title string
	Body  string
}

// Sink receives notifications. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Discard drops every notification.
var Discard Sink = Func(func(context.Context, Notification) {})

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

func (s *LogSink) Notify(_ context.Context, n Notification) {
	fields := []zap.Field{zap.String("title", n.Title), zap.String("body", n.Body)}
	switch n.Level {
	case LevelError:
		s.logger.Error("notification", fields...)
	default:
		s.logger.Info("notification", append(fields, zap.String("level", string(n.Level)))...)
	}
}

// WriterSink prints notifications as one-line toasts.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

var levelMarks = map[Level]string{
	LevelInfo:    "[i]",
	LevelSuccess: "[ok]",
	LevelError:   "[!]",
}

func (s *WriterSink) Notify(_ context.Context, n Notification) {
	mark, ok := levelMarks[n.Level]
	if !ok {
		mark = "[" + string(n.Level) + "]"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Body == "" {
		fmt.Fprintf(s.w, "%s %s\n", mark, n.Title)
		return
	}
	fmt.Fprintf(s.w, "%s %s: %s\n", mark, n.Title, n.Body)
}

// Multi fans a notification out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return Func(func(ctx context.Context, n Notification) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(ctx, n)
			}
		}
	})
}

// Error is shorthand for an error notification.
func Error(ctx context.Context, s Sink, title, body string) {
	s.Notify(ctx, Notification{Level: LevelError, Title: title, Body: body})
}

// Success is shorthand for a success notification.
func Success(ctx context.Context, s Sink, title, body string) {
	s.Notify(ctx, Notification{Level: LevelSuccess, Title: title, Body: body})
}
