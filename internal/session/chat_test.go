package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
)

func TestReduceChatAccumulates(t *testing.T) {
	s := NewChatState()
	for _, ev := range []domain.ChatEvent{
		{Type: domain.ChatEventContent, Content: "Hel"},
		{Type: domain.ChatEventChat, Content: "lo"},
		{Type: domain.ChatEventProgress, Content: "searching"},
		{Type: domain.ChatEventResourceCard, Data: json.RawMessage(`{"id":1}`)},
		{Type: "unknown", Content: "x"},
		{Type: domain.ChatEventDone},
		{Type: domain.ChatEventContent, Content: "late"},
	} {
		s = ReduceChat(s, ev)
	}

	assert.Equal(t, "Hello", s.Content)
	assert.Equal(t, []string{"searching"}, s.ProgressMessages)
	assert.JSONEq(t, `{"id":1}`, string(s.Resource))
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.False(t, s.IsStreaming)
}

func TestReduceChatErrorSticks(t *testing.T) {
	s := ReduceChat(NewChatState(), domain.ChatEvent{Type: domain.ChatEventError, Error: "AI failed"})
	s = ReduceChat(s, domain.ChatEvent{Type: domain.ChatEventDone})

	assert.Equal(t, "AI failed", s.Error)
	assert.Equal(t, PhaseErrored, s.Phase)
}

func TestReduceChatProgressDoesNotAlias(t *testing.T) {
	base := ReduceChat(NewChatState(), domain.ChatEvent{Type: domain.ChatEventProgress, Content: "a"})
	x := ReduceChat(base, domain.ChatEvent{Type: domain.ChatEventProgress, Content: "b"})
	y := ReduceChat(base, domain.ChatEvent{Type: domain.ChatEventProgress, Content: "c"})

	assert.Equal(t, []string{"a", "b"}, x.ProgressMessages)
	assert.Equal(t, []string{"a", "c"}, y.ProgressMessages)
}

func TestChatCancelKeepsContent(t *testing.T) {
	s := ReduceChat(NewChatState(), domain.ChatEvent{Type: domain.ChatEventContent, Content: "par"})
	s = s.Cancelled()
	assert.Equal(t, "par", s.Content)
	assert.Empty(t, s.Error)
	assert.True(t, s.Terminal())
}
