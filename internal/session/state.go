// Package session folds decoded stream frames into render-ready state.
// Reducers are pure: they never mutate their input, so every returned
// state can be handed to readers as an immutable snapshot.
package session

import "github.com/xiaot623/gogo/linkbox/internal/domain"

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
	PhaseCompleted Phase = "completed"
	PhaseErrored   Phase = "errored"
	PhaseCancelled Phase = "cancelled"
)

// IsTerminal reports whether the phase is absorbing.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseErrored, PhaseCancelled:
		return true
	}
	return false
}

// AgentState is the aggregate built from one agent protocol stream.
type AgentState struct {
	Phase           Phase
	IsStreaming     bool
	CurrentThinking string
	ToolCalls       map[string]domain.ToolCallInfo
	ToolProgress    map[string]domain.ToolProgress
	FinalResponse   string
	Error           string
	Resources       []domain.Resource
}

// NewAgentState returns the state of a session whose request is in flight.
func NewAgentState() AgentState {
	return AgentState{
		Phase:        PhaseStreaming,
		IsStreaming:  true,
		ToolCalls:    map[string]domain.ToolCallInfo{},
		ToolProgress: map[string]domain.ToolProgress{},
	}
}

// ChatState is the aggregate built from one simple chat protocol stream.
type ChatState struct {
	Phase            Phase
	IsStreaming      bool
	Content          string
	ProgressMessages []string
	Resource         []byte
	Error            string
}

// NewChatState returns the state of a chat session whose request is in flight.
func NewChatState() ChatState {
	return ChatState{Phase: PhaseStreaming, IsStreaming: true}
}
