package session

import (
	"slices"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
)

// ReduceChat applies one simple chat frame to s and returns the new state.
func ReduceChat(s ChatState, ev domain.ChatEvent) ChatState {
	if s.Phase.IsTerminal() {
		return s
	}

	switch ev.Type {
	case domain.ChatEventContent, domain.ChatEventChat:
		s.Content += ev.Content
	case domain.ChatEventProgress:
		s.ProgressMessages = append(slices.Clip(s.ProgressMessages), ev.Content)
	case domain.ChatEventResourceCard:
		s.Resource = slices.Clone([]byte(ev.Data))
	case domain.ChatEventError:
		msg := ev.Error
		if msg == "" {
			msg = "unknown error"
		}
		s = s.Failed(msg)
	case domain.ChatEventDone:
		s = s.Finished()
	}
	return s
}

// Idle returns the state of a chat that has not been sent yet.
func (ChatState) Idle() ChatState { return ChatState{Phase: PhaseIdle} }

// Apply is ReduceChat as a method.
func (s ChatState) Apply(ev domain.ChatEvent) ChatState { return ReduceChat(s, ev) }

// Finished moves a streaming chat to completed.
func (s ChatState) Finished() ChatState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseCompleted
	s.IsStreaming = false
	return s
}

// Failed moves a streaming chat to errored with msg.
func (s ChatState) Failed(msg string) ChatState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseErrored
	s.IsStreaming = false
	s.Error = msg
	return s
}

// Cancelled moves a streaming chat to cancelled, keeping its content.
func (s ChatState) Cancelled() ChatState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseCancelled
	s.IsStreaming = false
	return s
}

// Terminal reports whether no further frame will be applied.
func (s ChatState) Terminal() bool { return s.Phase.IsTerminal() }

// ErrorText returns the terminal error, empty when there is none.
func (s ChatState) ErrorText() string { return s.Error }
