// Package domain defines the wire and domain models of the LinkBox client.
package domain

// EventType is the type of an agent protocol frame.
type EventType string

const (
	EventTypeThinking     EventType = "thinking"
	EventTypeToolCall     EventType = "tool_call"
	EventTypeToolResult   EventType = "tool_result"
	EventTypeToolProgress EventType = "tool_progress"
	EventTypeResource     EventType = "resource"
	EventTypeResponse     EventType = "response"
	EventTypeError        EventType = "error"
	EventTypeDone         EventType = "done"
)

// ChatEventType is the type of a simple chat protocol frame.
type ChatEventType string

const (
	ChatEventContent      ChatEventType = "content"
	ChatEventChat         ChatEventType = "chat"
	ChatEventProgress     ChatEventType = "progress"
	ChatEventResourceCard ChatEventType = "resource_card"
	ChatEventDone         ChatEventType = "done"
	ChatEventError        ChatEventType = "error"
)

// ToolCallStatus represents the status of a tool call within one turn.
type ToolCallStatus string

const (
	ToolCallStatusCalling   ToolCallStatus = "calling"
	ToolCallStatusCompleted ToolCallStatus = "completed"
	ToolCallStatusError     ToolCallStatus = "error"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TaskStatus represents the status of a background task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusFetching   TaskStatus = "fetching"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// IsTerminal reports whether a task in this status will not progress further.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// Protocol selects which streaming endpoint a conversation talks to.
type Protocol string

const (
	ProtocolAgent Protocol = "agent"
	ProtocolChat  Protocol = "chat"
)
