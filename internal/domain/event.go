package domain

import (
	"encoding/json"
	"math"
	"time"
)

// StreamEvent is one decoded agent protocol frame.
type StreamEvent struct {
	Type       EventType       `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput json.RawMessage `json:"tool_output,omitempty"`
	Status     string          `json:"status,omitempty"`
	Step       string          `json:"step,omitempty"`
	Message    string          `json:"message,omitempty"`
	Progress   *int            `json:"progress,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Timestamp  *float64        `json:"timestamp,omitempty"` // Unix seconds
	Resources  []Resource      `json:"resources,omitempty"`
	Count      *int            `json:"count,omitempty"`
}

// EndsTurn reports whether the server will send nothing meaningful after
// this frame.
func (e StreamEvent) EndsTurn() bool {
	return e.Type == EventTypeDone || e.Type == EventTypeError
}

// ErrorMessage returns the server-provided failure text. Agent-level
// failures put it in "message", tool failures in "error".
func (e StreamEvent) ErrorMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "unknown error"
}

// Time converts the fractional unix timestamp to UTC, falling back to
// fallback when the frame carries none.
func (e StreamEvent) Time(fallback time.Time) time.Time {
	if e.Timestamp == nil {
		return fallback
	}
	sec, frac := math.Modf(*e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// ChatEvent is one decoded simple chat protocol frame.
type ChatEvent struct {
	Type    ChatEventType   `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EndsTurn reports whether this frame terminates the turn.
func (e ChatEvent) EndsTurn() bool {
	return e.Type == ChatEventDone || e.Type == ChatEventError
}

// Turn is one entry of the request history sent to either endpoint.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamRequest is the body of both streaming endpoints.
type StreamRequest struct {
	Messages []Turn `json:"messages"`
}
