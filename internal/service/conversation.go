// Package service orchestrates chat turns: it drives the stream
// controllers, keeps the message list and persists it per identity.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/credentials"
	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
	"github.com/xiaot623/gogo/linkbox/internal/session"
	"github.com/xiaot623/gogo/linkbox/internal/sse"
)

// ApologyMessage replaces or follows the content of a failed turn.
const ApologyMessage = "Sorry, something went wrong while answering. Please try again."

// ErrEmptyMessage is returned when Send is called with blank text.
var ErrEmptyMessage = errors.New("message is empty")

// Streamer opens the two streaming endpoints.
type Streamer interface {
	StreamAgent(ctx context.Context, history []domain.Turn) (*sse.Decoder[domain.StreamEvent], error)
	StreamChat(ctx context.Context, history []domain.Turn) (*sse.Decoder[domain.ChatEvent], error)
}

// IdentitySource names the signed-in identity.
type IdentitySource interface {
	IdentityKey() string
}

// ConversationSnapshot is what subscribers receive after every change.
type ConversationSnapshot struct {
	Messages  []domain.ChatMessage
	Thinking  string
	Streaming bool
}

// Conversation is one user's chat with the assistant.
type Conversation struct {
	streamer Streamer
	ids      IdentitySource
	history  *History
	sink     notify.Sink
	logger   *logger.Logger

	agent *StreamController[session.AgentState, domain.StreamEvent]
	chat  *StreamController[session.ChatState, domain.ChatEvent]

	publishMu sync.Mutex

	mu       sync.Mutex
	messages []domain.ChatMessage
	protocol domain.Protocol
	identity string
	pending  string // id of the assistant message being streamed
	thinking string
	subs     map[int]func(ConversationSnapshot)
	nextSub  int
}

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	Protocol domain.Protocol
	Timeout  time.Duration
	Sink     notify.Sink
	Logger   *logger.Logger
}

// NewConversation creates an empty conversation for the current identity.
// Call Load to restore saved history.
func NewConversation(streamer Streamer, ids IdentitySource, history *History, opts ConversationOptions) *Conversation {
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Protocol == "" {
		opts.Protocol = domain.ProtocolAgent
	}

	ctrlOpts := ControllerOptions{Timeout: opts.Timeout, Sink: opts.Sink, Logger: opts.Logger}
	c := &Conversation{
		streamer: streamer,
		ids:      ids,
		history:  history,
		sink:     opts.Sink,
		logger:   opts.Logger.WithComponent("conversation"),
		agent:    NewStreamController[session.AgentState, domain.StreamEvent](session.NewAgentState, ctrlOpts),
		chat:     NewStreamController[session.ChatState, domain.ChatEvent](session.NewChatState, ctrlOpts),
		protocol: opts.Protocol,
		identity: ids.IdentityKey(),
		subs:     make(map[int]func(ConversationSnapshot)),
	}
	c.agent.Subscribe(c.onAgentState)
	c.chat.Subscribe(c.onChatState)
	return c
}

// Load replaces the message list with the saved conversation. A streaming
// turn is cancelled and saved first.
func (c *Conversation) Load(ctx context.Context) {
	c.Cancel()
	c.Wait()

	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	msgs := c.history.Load(ctx, identity)

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
	c.publish()
}

// Send appends the user's message and streams the assistant's reply.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.pending != "" {
		c.mu.Unlock()
		return ErrStreamInProgress
	}

	now := time.Now()
	c.messages = append(c.messages, domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: now,
	})
	turns := make([]domain.Turn, 0, len(c.messages))
	for _, m := range c.messages {
		turns = append(turns, m.Turn())
	}

	assistant := domain.ChatMessage{
		ID:         uuid.NewString(),
		Role:       domain.RoleAssistant,
		Timestamp:  now,
		IsThinking: true,
	}
	c.messages = append(c.messages, assistant)
	c.pending = assistant.ID
	c.thinking = ""
	protocol := c.protocol
	identity := c.identity
	saved := slices.Clone(c.messages)
	c.mu.Unlock()

	c.history.Save(ctx, identity, saved)
	c.publish()

	c.logger.Debug("sending message", zap.String("protocol", string(protocol)), zap.Int("history", len(turns)))

	var err error
	switch protocol {
	case domain.ProtocolChat:
		err = c.chat.Send(ctx, func(ctx context.Context) (*sse.Decoder[domain.ChatEvent], error) {
			return c.streamer.StreamChat(ctx, turns)
		})
	default:
		err = c.agent.Send(ctx, func(ctx context.Context) (*sse.Decoder[domain.StreamEvent], error) {
			return c.streamer.StreamAgent(ctx, turns)
		})
	}
	if err != nil {
		c.mu.Lock()
		c.messages = slices.DeleteFunc(c.messages, func(m domain.ChatMessage) bool { return m.ID == assistant.ID })
		c.pending = ""
		c.mu.Unlock()
		c.publish()
		return err
	}
	return nil
}

func (c *Conversation) onAgentState(s session.AgentState) {
	c.mu.Lock()
	idx := c.pendingIndex()
	if idx < 0 {
		c.mu.Unlock()
		return
	}

	m := &c.messages[idx]
	m.Content = s.FinalResponse
	m.ToolCalls = nilIfEmpty(s.ToolCalls)
	m.ToolProgress = nilIfEmpty(s.ToolProgress)
	m.Resources = s.Resources
	m.IsThinking = s.IsStreaming && s.FinalResponse == ""
	c.thinking = s.CurrentThinking

	if !s.Terminal() {
		c.mu.Unlock()
		c.publish()
		return
	}
	c.finishTurnLocked(m, s.Phase)
}

func (c *Conversation) onChatState(s session.ChatState) {
	c.mu.Lock()
	idx := c.pendingIndex()
	if idx < 0 {
		c.mu.Unlock()
		return
	}

	m := &c.messages[idx]
	m.Content = s.Content
	m.ProgressMessages = s.ProgressMessages
	if res, ok := decodeResourceCard(s.Resource); ok {
		m.Resources = []domain.Resource{res}
	}
	m.IsThinking = s.IsStreaming && s.Content == ""

	if !s.Terminal() {
		c.mu.Unlock()
		c.publish()
		return
	}
	c.finishTurnLocked(m, s.Phase)
}

// finishTurnLocked freezes the streamed message, persists the conversation
// and releases c.mu.
func (c *Conversation) finishTurnLocked(m *domain.ChatMessage, phase session.Phase) {
	m.IsThinking = false
	if phase == session.PhaseErrored {
		if m.Content == "" {
			m.Content = ApologyMessage
		} else {
			m.Content += "\n\n" + ApologyMessage
		}
	}
	c.pending = ""
	c.thinking = ""
	identity := c.identity
	saved := slices.Clone(c.messages)
	c.mu.Unlock()

	c.logger.Debug("turn finished", zap.String("phase", string(phase)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.history.Save(ctx, identity, saved)
	c.publish()
}

func (c *Conversation) pendingIndex() int {
	if c.pending == "" {
		return -1
	}
	return slices.IndexFunc(c.messages, func(m domain.ChatMessage) bool { return m.ID == c.pending })
}

func nilIfEmpty[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return m
}

func decodeResourceCard(data []byte) (domain.Resource, bool) {
	if len(data) == 0 {
		return domain.Resource{}, false
	}
	var res domain.Resource
	if err := json.Unmarshal(data, &res); err != nil || (res.URL == "" && res.Title == "") {
		return domain.Resource{}, false
	}
	return res, true
}

// Cancel aborts the streaming turn, keeping its partial content.
func (c *Conversation) Cancel() bool {
	cancelled := c.agent.Cancel()
	return c.chat.Cancel() || cancelled
}

// Wait blocks until the current turn has fully ended.
func (c *Conversation) Wait() {
	c.agent.Wait()
	c.chat.Wait()
}

// Streaming reports whether a turn is in flight.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != ""
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Protocol returns the protocol used for the next turn.
func (c *Conversation) Protocol() domain.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// SetProtocol selects the endpoint for later turns.
func (c *Conversation) SetProtocol(p domain.Protocol) error {
	if p != domain.ProtocolAgent && p != domain.ProtocolChat {
		return fmt.Errorf("unknown protocol %q", p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != "" {
		return ErrStreamInProgress
	}
	c.protocol = p
	return nil
}

// Clear cancels any turn and deletes the conversation.
func (c *Conversation) Clear(ctx context.Context) {
	c.Cancel()
	c.Wait()

	c.mu.Lock()
	c.messages = nil
	identity := c.identity
	c.mu.Unlock()

	c.history.Clear(ctx, identity)
	c.publish()
}

// SwitchIdentity follows a sign-in or sign-out: the running turn is
// cancelled and the new identity's conversation is loaded. Signing out
// removes the previous user's saved conversation.
func (c *Conversation) SwitchIdentity(ctx context.Context) {
	c.Cancel()
	c.Wait()

	next := c.ids.IdentityKey()
	c.mu.Lock()
	prev := c.identity
	c.identity = next
	c.messages = nil
	c.mu.Unlock()

	if prev == next {
		c.Load(ctx)
		return
	}
	if next == credentials.GuestKey && prev != credentials.GuestKey {
		c.history.Clear(ctx, prev)
	}
	c.logger.Info("identity changed", zap.String("from", prev), zap.String("to", next))
	c.Load(ctx)
}

// Subscribe registers fn for every change and returns a function that
// removes it. fn must not call back into the conversation's mutating methods.
func (c *Conversation) Subscribe(fn func(ConversationSnapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Conversation) publish() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	snap := ConversationSnapshot{
		Messages:  slices.Clone(c.messages),
		Thinking:  c.thinking,
		Streaming: c.pending != "",
	}
	subs := make([]func(ConversationSnapshot), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
