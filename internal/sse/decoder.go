// Package sse decodes LinkBox event-stream bodies into typed frames.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/logger"
)

// maxLoggedPayload bounds how much of a malformed frame ends up in the log.
const maxLoggedPayload = 200

// MaxLineSize is the longest frame line the decoder buffers. Longer lines
// are dropped as malformed.
const MaxLineSize = 4 << 20

var dataPrefix = []byte("data:")

// Frame is a decoded event that knows whether it ends the turn.
type Frame interface {
	EndsTurn() bool
}

// Decoder turns a stream of "data: <json>" lines into frames of type T.
// It is not safe for concurrent Next calls; Close may be called from any
// goroutine.
type Decoder[T Frame] struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	logger    *logger.Logger
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	finished  bool
	maxLine   int
}

// NewDecoder wraps body. The decoder owns body and closes it when the
// stream ends, a turn-ending frame is decoded, or Close is called.
func NewDecoder[T Frame](body io.ReadCloser, log *logger.Logger) *Decoder[T] {
	if log == nil {
		log = logger.Default()
	}
	return &Decoder[T]{
		body:    body,
		reader:  bufio.NewReader(body),
		logger:  log.WithComponent("sse-decoder"),
		maxLine: MaxLineSize,
	}
}

// Next returns the next frame, or io.EOF once the stream is over.
// Malformed frames are logged and skipped.
func (d *Decoder[T]) Next() (T, error) {
	var zero T
	for {
		if d.finished || d.closed.Load() {
			return zero, io.EOF
		}

		line, err := d.readLine()
		if d.closed.Load() {
			// Released while we were blocked; whatever arrived is discarded.
			d.finished = true
			return zero, io.EOF
		}

		if len(line) > 0 {
			if frame, ok := d.parseLine(line); ok {
				if frame.EndsTurn() {
					d.finished = true
					d.Close()
				}
				return frame, nil
			}
		}

		if err != nil {
			d.finished = true
			d.Close()
			if errors.Is(err, io.EOF) {
				return zero, io.EOF
			}
			return zero, fmt.Errorf("failed to read stream: %w", err)
		}
	}
}

// Frames exposes the decoder as a lazy sequence. Iteration stops after the
// first read error, which is yielded once.
func (d *Decoder[T]) Frames() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer d.Close()
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the underlying reader. It is idempotent.
func (d *Decoder[T]) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

// Closed reports whether the underlying reader has been released.
func (d *Decoder[T]) Closed() bool {
	return d.closed.Load()
}

// readLine returns the next line including its newline. A line longer than
// maxLine is consumed and discarded, and readLine returns no bytes for it.
func (d *Decoder[T]) readLine() ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > d.maxLine {
				oversized = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			d.logger.Warn("dropping oversized frame", zap.Int("limit", d.maxLine))
		}
		return line, err
	}
}

func (d *Decoder[T]) parseLine(line []byte) (T, bool) {
	var frame T

	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		// Blank separators, comments and event:/id: fields carry nothing.
		return frame, false
	}
	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
	if len(payload) == 0 {
		return frame, false
	}

	if err := json.Unmarshal(payload, &frame); err != nil {
		logged := payload
		if len(logged) > maxLoggedPayload {
			logged = logged[:maxLoggedPayload]
		}
		d.logger.Warn("dropping malformed frame",
			zap.Error(err),
			zap.ByteString("payload", logged))
		var zero T
		return zero, false
	}
	return frame, true
}
