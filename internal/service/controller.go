package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/credentials"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
	"github.com/xiaot623/gogo/linkbox/internal/sse"
)

// ErrStreamInProgress is returned when a send is attempted while the
// previous turn is still streaming.
var ErrStreamInProgress = errors.New("a response is still streaming")

// ConnectionFailedMessage is the session error shown for transport failures.
const ConnectionFailedMessage = "connection to the assistant failed"

// Reducible is a session state the controller can drive.
type Reducible[S any, E sse.Frame] interface {
	Idle() S
	Apply(E) S
	Finished() S
	Failed(msg string) S
	Cancelled() S
	Terminal() bool
	ErrorText() string
}

// OpenFunc opens the stream for one turn. The stream must end when ctx does.
type OpenFunc[E sse.Frame] func(ctx context.Context) (*sse.Decoder[E], error)

// StreamController owns at most one in-flight stream and the session state
// built from it. State changes reach subscribers in the order they were made.
type StreamController[S Reducible[S, E], E sse.Frame] struct {
	initial func() S
	timeout time.Duration
	sink    notify.Sink
	logger  *logger.Logger

	// publishMu serializes mutate-then-deliver so snapshots arrive in order.
	publishMu sync.Mutex

	mu      sync.Mutex
	state   S
	started bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[int]func(S)
	nextSub int
}

// ControllerOptions tunes a StreamController.
type ControllerOptions struct {
	// Timeout cancels the stream client-side; zero disables it.
	Timeout time.Duration
	Sink    notify.Sink
	Logger  *logger.Logger
}

// NewStreamController creates an idle controller. initial builds the state
// of a freshly opened turn.
func NewStreamController[S Reducible[S, E], E sse.Frame](initial func() S, opts ControllerOptions) *StreamController[S, E] {
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	var zero S
	return &StreamController[S, E]{
		state:   zero.Idle(),
		initial: initial,
		timeout: opts.Timeout,
		sink:    opts.Sink,
		logger:  opts.Logger.WithComponent("stream-controller"),
		subs:    make(map[int]func(S)),
	}
}

// Send starts a new turn. It returns once the consumer goroutine is
// running; use Wait to block until the turn ends.
func (c *StreamController[S, E]) Send(ctx context.Context, open OpenFunc[E]) error {
	c.publishMu.Lock()
	c.mu.Lock()
	if c.started && !c.state.Terminal() {
		c.mu.Unlock()
		c.publishMu.Unlock()
		return ErrStreamInProgress
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	c.gen++
	gen := c.gen
	c.started = true
	c.state = c.initial()
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	snapshot := c.state
	c.mu.Unlock()

	c.deliver(snapshot)
	c.publishMu.Unlock()

	go c.run(runCtx, cancel, gen, open, done)
	return nil
}

func (c *StreamController[S, E]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, open OpenFunc[E], done chan struct{}) {
	defer close(done)
	defer cancel()

	dec, err := open(ctx)
	if err != nil {
		c.handleOpenError(ctx, gen, err)
		return
	}
	defer dec.Close()

	// Release the reader as soon as the turn is aborted, even mid-read.
	stop := context.AfterFunc(ctx, func() { _ = dec.Close() })
	defer stop()

	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				c.abort(ctx, gen)
				return
			}
			c.update(gen, func(s S) S { return s.Finished() })
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				c.abort(ctx, gen)
				return
			}
			c.logger.Warn("stream read failed", zap.Error(err))
			c.update(gen, func(s S) S { return s.Failed(ConnectionFailedMessage) })
			return
		}
		if !c.update(gen, func(s S) S { return s.Apply(ev) }) {
			return
		}
	}
}

func (c *StreamController[S, E]) handleOpenError(ctx context.Context, gen uint64, err error) {
	switch {
	case errors.Is(err, credentials.ErrMissingToken),
		errors.Is(err, credentials.ErrTokenExpired),
		errors.Is(err, credentials.ErrInvalidToken):
		c.update(gen, func(s S) S { return s.Failed(err.Error()) })
	case ctx.Err() != nil:
		c.abort(ctx, gen)
	default:
		c.logger.Warn("failed to open stream", zap.Error(err))
		c.update(gen, func(s S) S { return s.Failed(ConnectionFailedMessage) })
	}
}

// abort ends the turn the way Cancel does. It covers the client-side
// timeout and a caller context that ended.
func (c *StreamController[S, E]) abort(ctx context.Context, gen uint64) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Info("stream timed out", zap.Duration("timeout", c.timeout))
	}
	c.update(gen, func(s S) S { return s.Cancelled() })
}

// update applies fn to the state of turn gen and publishes the result. It
// reports whether the turn is still live.
func (c *StreamController[S, E]) update(gen uint64, fn func(S) S) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if gen != c.gen || c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	next := fn(c.state)
	c.state = next
	c.mu.Unlock()

	c.deliver(next)
	if next.Terminal() && next.ErrorText() != "" {
		notify.Error(context.Background(), c.sink, "Chat failed", next.ErrorText())
	}
	return !next.Terminal()
}

// Cancel aborts the in-flight turn. The state becomes cancelled at once
// with its partial output kept; frames still in flight are discarded.
// It reports whether there was a turn to cancel.
func (c *StreamController[S, E]) Cancel() bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if !c.started || c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	c.state = c.state.Cancelled()
	next := c.state
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.deliver(next)
	return true
}

// Snapshot returns the current state.
func (c *StreamController[S, E]) Snapshot() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Streaming reports whether a turn is in flight.
func (c *StreamController[S, E]) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && !c.state.Terminal()
}

// Wait blocks until the consumer goroutine of the latest turn has exited.
func (c *StreamController[S, E]) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn runs synchronously and must not call Send or Cancel.
func (c *StreamController[S, E]) Subscribe(fn func(S)) func() {
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

// deliver must be called with publishMu held.
func (c *StreamController[S, E]) deliver(s S) {
	c.mu.Lock()
	subs := make([]func(S), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
