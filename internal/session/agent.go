package session

import (
	"maps"
	"slices"
	"time"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
)

// Reduce applies one agent frame to s and returns the new state.
func Reduce(s AgentState, ev domain.StreamEvent) AgentState {
	if s.Phase.IsTerminal() {
		return s
	}

	switch ev.Type {
	case domain.EventTypeThinking:
		s.CurrentThinking += ev.Content

	case domain.EventTypeToolCall:
		calls := maps.Clone(s.ToolCalls)
		if calls == nil {
			calls = map[string]domain.ToolCallInfo{}
		}
		prev := calls[ev.ToolName]
		calls[ev.ToolName] = domain.ToolCallInfo{
			ToolName: ev.ToolName,
			Input:    domain.DecodeToolInput(ev.ToolName, ev.ToolInput),
			Status:   domain.ToolCallStatusCalling,
			Calls:    prev.Calls + 1,
		}
		s.ToolCalls = calls

	case domain.EventTypeToolResult:
		call, ok := s.ToolCalls[ev.ToolName]
		if !ok {
			return s
		}
		out := domain.DecodeToolOutput(ev.ToolName, ev.ToolOutput)
		call.Output = &out
		call.Status = domain.ToolCallStatusCompleted
		calls := maps.Clone(s.ToolCalls)
		calls[ev.ToolName] = call
		s.ToolCalls = calls

	case domain.EventTypeToolProgress:
		progress := maps.Clone(s.ToolProgress)
		if progress == nil {
			progress = map[string]domain.ToolProgress{}
		}
		progress[ev.ToolName] = domain.ToolProgress{
			ToolName:  ev.ToolName,
			Step:      ev.Step,
			Message:   ev.Message,
			Progress:  ev.Progress,
			Data:      domain.CompactRaw(ev.Data),
			Timestamp: ev.Time(time.Time{}),
		}
		s.ToolProgress = progress

	case domain.EventTypeResource:
		// An empty list clears the resources; it is stored as nil.
		s.Resources = slices.Clone(ev.Resources)
		if len(s.Resources) == 0 {
			s.Resources = nil
		}

	case domain.EventTypeResponse:
		s.FinalResponse += ev.Content
		s.CurrentThinking = ""

	case domain.EventTypeError:
		if call, ok := s.ToolCalls[ev.ToolName]; ok && ev.ToolName != "" {
			call.Status = domain.ToolCallStatusError
			calls := maps.Clone(s.ToolCalls)
			calls[ev.ToolName] = call
			s.ToolCalls = calls
		}
		s = Fail(s, ev.ErrorMessage())

	case domain.EventTypeDone:
		s = Finish(s)
	}

	return s
}

// Finish moves a streaming session to completed.
func Finish(s AgentState) AgentState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseCompleted
	s.IsStreaming = false
	return s
}

// Fail moves a streaming session to errored with msg.
func Fail(s AgentState, msg string) AgentState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseErrored
	s.IsStreaming = false
	s.Error = msg
	return s
}

// Cancel moves a streaming session to cancelled. Accumulated output is kept
// and no error is recorded.
func Cancel(s AgentState) AgentState {
	if s.Phase.IsTerminal() {
		return s
	}
	s.Phase = PhaseCancelled
	s.IsStreaming = false
	return s
}

// Idle returns the state of a session that has not been sent yet.
func (AgentState) Idle() AgentState { return AgentState{Phase: PhaseIdle} }

// Apply is Reduce as a method, used by the stream controller.
func (s AgentState) Apply(ev domain.StreamEvent) AgentState { return Reduce(s, ev) }

// Finished is Finish as a method.
func (s AgentState) Finished() AgentState { return Finish(s) }

// Failed is Fail as a method.
func (s AgentState) Failed(msg string) AgentState { return Fail(s, msg) }

// Cancelled is Cancel as a method.
func (s AgentState) Cancelled() AgentState { return Cancel(s) }

// Terminal reports whether no further frame will be applied.
func (s AgentState) Terminal() bool { return s.Phase.IsTerminal() }

// ErrorText returns the terminal error, empty when there is none.
func (s AgentState) ErrorText() string { return s.Error }
