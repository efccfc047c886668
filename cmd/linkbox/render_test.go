package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/service"
)

func TestRendererPrintsOnlyDeltas(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := domain.ChatMessage{ID: "u", Role: domain.RoleUser, Content: "hi"}
	reply := domain.ChatMessage{ID: "a", Role: domain.RoleAssistant, IsThinking: true}

	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{user, reply}, Streaming: true})
	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{user, reply}, Thinking: "hmm", Streaming: true})

	reply.IsThinking = false
	reply.Content = "Hel"
	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{user, reply}, Streaming: true})
	reply.Content = "Hello"
	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{user, reply}, Streaming: true})
	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{user, reply}})

	assert.Equal(t, "\nassistant> \x1b[2mhmm\x1b[0m\nHello\n", buf.String())
}

func TestRendererSkipsRestoredMessages(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.render(service.ConversationSnapshot{Messages: []domain.ChatMessage{
		{ID: "old", Role: domain.RoleAssistant, Content: "from yesterday", Timestamp: time.Now()},
	}})
	assert.Empty(t, buf.String())
}
