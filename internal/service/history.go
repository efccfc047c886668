package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/repository"
)

const historyKeyPrefix = "linkbox:chat:"

// HistoryKey returns the store key for an identity key.
func HistoryKey(identity string) string {
	return historyKeyPrefix + identity
}

// History persists conversations per identity. Store failures are logged
// and never surface to the caller.
type History struct {
	kv     repository.KV
	logger *logger.Logger
}

// NewHistory creates a History over kv.
func NewHistory(kv repository.KV, log *logger.Logger) *History {
	if log == nil {
		log = logger.Default()
	}
	return &History{kv: kv, logger: log.WithComponent("history")}
}

// storedMessage is the persisted form of a ChatMessage. Timestamps are kept
// as RFC 3339 strings and parsed back explicitly on load.
type storedMessage struct {
	ID               string                         `json:"id"`
	Role             domain.Role                    `json:"role"`
	Content          string                         `json:"content"`
	Timestamp        string                         `json:"timestamp"`
	ProgressMessages []string                       `json:"progress_messages,omitempty"`
	Resources        []domain.Resource              `json:"resources,omitempty"`
	ToolCalls        map[string]domain.ToolCallInfo `json:"tool_calls,omitempty"`
	ToolProgress     map[string]storedProgress      `json:"tool_progress,omitempty"`
	IsThinking       bool                           `json:"is_thinking,omitempty"`
}

type storedProgress struct {
	ToolName  string          `json:"tool_name"`
	Step      string          `json:"step"`
	Message   string          `json:"message"`
	Progress  *int            `json:"progress,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Save writes msgs under the identity's key.
func (h *History) Save(ctx context.Context, identity string, msgs []domain.ChatMessage) {
	stored := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		sm := storedMessage{
			ID:               m.ID,
			Role:             m.Role,
			Content:          m.Content,
			Timestamp:        formatTime(m.Timestamp),
			ProgressMessages: m.ProgressMessages,
			Resources:        m.Resources,
			ToolCalls:        m.ToolCalls,
			IsThinking:       m.IsThinking,
		}
		if len(m.ToolProgress) > 0 {
			sm.ToolProgress = make(map[string]storedProgress, len(m.ToolProgress))
			for name, p := range m.ToolProgress {
				sm.ToolProgress[name] = storedProgress{
					ToolName:  p.ToolName,
					Step:      p.Step,
					Message:   p.Message,
					Progress:  p.Progress,
					Data:      p.Data,
					Timestamp: formatTime(p.Timestamp),
				}
			}
		}
		stored = append(stored, sm)
	}

	data, err := json.Marshal(stored)
	if err != nil {
		h.logger.Error("failed to encode conversation", zap.Error(err))
		return
	}
	if err := h.kv.Set(ctx, HistoryKey(identity), string(data)); err != nil {
		h.logger.Error("failed to save conversation", zap.String("identity", identity), zap.Error(err))
	}
}

// Load returns the saved conversation for identity, or nil when there is
// none. A corrupt entry is removed.
func (h *History) Load(ctx context.Context, identity string) []domain.ChatMessage {
	key := HistoryKey(identity)
	raw, ok, err := h.kv.Get(ctx, key)
	if err != nil {
		h.logger.Error("failed to load conversation", zap.String("identity", identity), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	msgs, err := decodeHistory(raw)
	if err != nil {
		h.logger.Warn("discarding corrupt conversation", zap.String("identity", identity), zap.Error(err))
		if err := h.kv.Remove(ctx, key); err != nil {
			h.logger.Error("failed to remove corrupt conversation", zap.Error(err))
		}
		return nil
	}
	return msgs
}

// Clear removes the saved conversation for identity.
func (h *History) Clear(ctx context.Context, identity string) {
	if err := h.kv.Remove(ctx, HistoryKey(identity)); err != nil {
		h.logger.Error("failed to clear conversation", zap.String("identity", identity), zap.Error(err))
	}
}

func decodeHistory(raw string) ([]domain.ChatMessage, error) {
	var stored []storedMessage
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(stored))
	for i, sm := range stored {
		if sm.ID == "" || (sm.Role != domain.RoleUser && sm.Role != domain.RoleAssistant) {
			return nil, fmt.Errorf("message %d: missing id or role", i)
		}
		ts, err := parseTime(sm.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %d: invalid timestamp: %w", i, err)
		}
		m := domain.ChatMessage{
			ID:               sm.ID,
			Role:             sm.Role,
			Content:          sm.Content,
			Timestamp:        ts,
			ProgressMessages: sm.ProgressMessages,
			Resources:        sm.Resources,
			ToolCalls:        sm.ToolCalls,
			IsThinking:       sm.IsThinking,
		}
		if len(sm.ToolProgress) > 0 {
			m.ToolProgress = make(map[string]domain.ToolProgress, len(sm.ToolProgress))
			for name, p := range sm.ToolProgress {
				pts, err := parseTime(p.Timestamp)
				if err != nil {
					return nil, fmt.Errorf("message %d: invalid progress timestamp: %w", i, err)
				}
				m.ToolProgress[name] = domain.ToolProgress{
					ToolName:  p.ToolName,
					Step:      p.Step,
					Message:   p.Message,
					Progress:  p.Progress,
					Data:      p.Data,
					Timestamp: pts,
				}
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
