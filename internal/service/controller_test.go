package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/linkbox/internal/credentials"
	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
	"github.com/xiaot623/gogo/linkbox/internal/session"
	"github.com/xiaot623/gogo/linkbox/internal/sse"
)

type recordingSink struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (r *recordingSink) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recordingSink) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.got...)
}

type failingBody struct{ err error }

func (f failingBody) Read([]byte) (int, error) { return 0, f.err }
func (f failingBody) Close() error             { return nil }

func frames(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "data: %s\n\n", l)
	}
	return b.String()
}

func bodyOpen(body io.ReadCloser) (OpenFunc[domain.StreamEvent], func() *sse.Decoder[domain.StreamEvent]) {
	var mu sync.Mutex
	var dec *sse.Decoder[domain.StreamEvent]
	open := func(ctx context.Context) (*sse.Decoder[domain.StreamEvent], error) {
		mu.Lock()
		defer mu.Unlock()
		dec = sse.NewDecoder[domain.StreamEvent](body, logger.NewNop())
		return dec, nil
	}
	get := func() *sse.Decoder[domain.StreamEvent] {
		mu.Lock()
		defer mu.Unlock()
		return dec
	}
	return open, get
}

func newAgentController(sink notify.Sink, timeout time.Duration) *StreamController[session.AgentState, domain.StreamEvent] {
	return NewStreamController[session.AgentState, domain.StreamEvent](session.NewAgentState, ControllerOptions{
		Timeout: timeout,
		Sink:    sink,
		Logger:  logger.NewNop(),
	})
}

func TestControllerCancelKeepsPartialThinking(t *testing.T) {
	sink := &recordingSink{}
	ctrl := newAgentController(sink, 0)

	pr, pw := io.Pipe()
	open, decoder := bodyOpen(pr)
	require.NoError(t, ctrl.Send(context.Background(), open))

	go func() {
		_, _ = io.WriteString(pw, frames(
			`{"type":"thinking","content":"Let me "}`,
			`{"type":"thinking","content":"search"}`,
		))
	}()

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().CurrentThinking == "Let me search"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, ctrl.Cancel())
	state := ctrl.Snapshot()
	assert.False(t, state.IsStreaming)
	assert.Equal(t, session.PhaseCancelled, state.Phase)
	assert.Empty(t, state.Error)
	assert.Equal(t, "Let me search", state.CurrentThinking)

	go func() {
		_, _ = io.WriteString(pw, frames(`{"type":"response","content":"late"}`))
	}()

	ctrl.Wait()
	pw.Close()
	assert.True(t, decoder().Closed())
	assert.Empty(t, ctrl.Snapshot().FinalResponse)
	assert.Empty(t, sink.all())
	assert.False(t, ctrl.Cancel())
}

func TestControllerRejectsConcurrentSend(t *testing.T) {
	ctrl := newAgentController(nil, 0)

	pr, pw := io.Pipe()
	defer pw.Close()
	open, _ := bodyOpen(pr)
	require.NoError(t, ctrl.Send(context.Background(), open))
	assert.True(t, ctrl.Streaming())

	other, _ := bodyOpen(io.NopCloser(strings.NewReader("")))
	assert.ErrorIs(t, ctrl.Send(context.Background(), other), ErrStreamInProgress)

	ctrl.Cancel()
	ctrl.Wait()

	next, _ := bodyOpen(io.NopCloser(strings.NewReader(frames(`{"type":"done"}`))))
	require.NoError(t, ctrl.Send(context.Background(), next))
	ctrl.Wait()
	assert.Equal(t, session.PhaseCompleted, ctrl.Snapshot().Phase)
}

func TestControllerStartsIdle(t *testing.T) {
	ctrl := newAgentController(nil, 0)

	state := ctrl.Snapshot()
	assert.Equal(t, session.PhaseIdle, state.Phase)
	assert.False(t, state.IsStreaming)
	assert.False(t, state.Terminal())
	assert.False(t, ctrl.Streaming())
	assert.False(t, ctrl.Cancel())

	chat := NewStreamController[session.ChatState, domain.ChatEvent](session.NewChatState, ControllerOptions{Logger: logger.NewNop()})
	assert.Equal(t, session.PhaseIdle, chat.Snapshot().Phase)

	open, _ := bodyOpen(io.NopCloser(strings.NewReader(frames(`{"type":"done"}`))))
	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()
	assert.Equal(t, session.PhaseCompleted, ctrl.Snapshot().Phase)
}

func TestControllerCompletesOnCleanEOF(t *testing.T) {
	ctrl := newAgentController(nil, 0)
	open, _ := bodyOpen(io.NopCloser(strings.NewReader(frames(`{"type":"response","content":"ok"}`))))

	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()

	state := ctrl.Snapshot()
	assert.Equal(t, session.PhaseCompleted, state.Phase)
	assert.Equal(t, "ok", state.FinalResponse)
	assert.False(t, ctrl.Streaming())
}

func TestControllerReadErrorFailsAndNotifies(t *testing.T) {
	sink := &recordingSink{}
	ctrl := newAgentController(sink, 0)
	open, _ := bodyOpen(failingBody{err: errors.New("connection reset")})

	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()

	state := ctrl.Snapshot()
	assert.Equal(t, session.PhaseErrored, state.Phase)
	assert.Equal(t, ConnectionFailedMessage, state.Error)

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, notify.LevelError, got[0].Level)
	assert.Equal(t, ConnectionFailedMessage, got[0].Body)
}

func TestControllerServerErrorNotifies(t *testing.T) {
	sink := &recordingSink{}
	ctrl := newAgentController(sink, 0)
	open, _ := bodyOpen(io.NopCloser(strings.NewReader(frames(
		`{"type":"response","content":"partial"}`,
		`{"type":"error","error":"model overloaded"}`,
		`{"type":"response","content":"ignored"}`,
	))))

	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()

	state := ctrl.Snapshot()
	assert.Equal(t, "model overloaded", state.Error)
	assert.Equal(t, "partial", state.FinalResponse)
	require.Len(t, sink.all(), 1)
}

func TestControllerCredentialErrorIsTerminal(t *testing.T) {
	ctrl := newAgentController(nil, 0)
	err := ctrl.Send(context.Background(), func(context.Context) (*sse.Decoder[domain.StreamEvent], error) {
		return nil, credentials.ErrMissingToken
	})
	require.NoError(t, err)
	ctrl.Wait()

	state := ctrl.Snapshot()
	assert.Equal(t, session.PhaseErrored, state.Phase)
	assert.Equal(t, credentials.ErrMissingToken.Error(), state.Error)
}

func TestControllerTimeoutCancels(t *testing.T) {
	sink := &recordingSink{}
	ctrl := newAgentController(sink, 30*time.Millisecond)

	pr, pw := io.Pipe()
	defer pw.Close()
	open, decoder := bodyOpen(pr)
	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()

	state := ctrl.Snapshot()
	assert.Equal(t, session.PhaseCancelled, state.Phase)
	assert.Empty(t, state.Error)
	assert.True(t, decoder().Closed())
	assert.Empty(t, sink.all())
}

func TestControllerDeliversSnapshotsInOrder(t *testing.T) {
	ctrl := newAgentController(nil, 0)

	var got []string
	unsubscribe := ctrl.Subscribe(func(s session.AgentState) { got = append(got, s.FinalResponse) })
	defer unsubscribe()

	open, _ := bodyOpen(io.NopCloser(strings.NewReader(frames(
		`{"type":"response","content":"a"}`,
		`{"type":"response","content":"b"}`,
		`{"type":"response","content":"c"}`,
		`{"type":"done"}`,
	))))
	require.NoError(t, ctrl.Send(context.Background(), open))
	ctrl.Wait()

	assert.Equal(t, []string{"", "a", "ab", "abc", "abc"}, got)
}
