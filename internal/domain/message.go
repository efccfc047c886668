package domain

import (
	"encoding/json"
	"time"
)

// ToolCallInfo tracks one tool invocation within a turn.
type ToolCallInfo struct {
	ToolName string         `json:"tool_name"`
	Input    ToolInput      `json:"input"`
	Output   *ToolOutput    `json:"output,omitempty"`
	Status   ToolCallStatus `json:"status"`
	// Calls counts tool_call frames seen for this name; a later call
	// replaces the recorded input and output.
	Calls int `json:"calls"`
}

// ToolProgress is the latest progress report of a tool.
type ToolProgress struct {
	ToolName  string          `json:"tool_name"`
	Step      string          `json:"step"`
	Message   string          `json:"message"`
	Progress  *int            `json:"progress,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatMessage is the persisted unit of a conversation. Assistant messages
// carry the streaming artifacts captured when their turn ended.
type ChatMessage struct {
	ID               string                  `json:"id"`
	Role             Role                    `json:"role"`
	Content          string                  `json:"content"`
	Timestamp        time.Time               `json:"timestamp"`
	ProgressMessages []string                `json:"progress_messages,omitempty"`
	Resources        []Resource              `json:"resources,omitempty"`
	ToolCalls        map[string]ToolCallInfo `json:"tool_calls,omitempty"`
	ToolProgress     map[string]ToolProgress `json:"tool_progress,omitempty"`
	IsThinking       bool                    `json:"is_thinking,omitempty"`
}

// Turn returns the request-history form of the message.
func (m ChatMessage) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}
