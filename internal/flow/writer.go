package flow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/flemzord/linebridge/pkg/message"
)

// QueuedWriter drains a queue and writes each message, newline-terminated, to
// a byte stream, flushing after every message. A message whose write has begun
// is always fully written and flushed before the writer checks the queue
// again, so shutdown never leaves a partial frame on the wire.
type QueuedWriter struct {
	name      string
	queue     *Queue
	logger    *slog.Logger
	onMessage func(message.Message)
}

// NewQueuedWriter creates a writer that drains queue into the stream named
// name.
func NewQueuedWriter(name string, queue *Queue, logger *slog.Logger) *QueuedWriter {
	return &QueuedWriter{
		name:   name,
		queue:  queue,
		logger: logger.With("component", "writer", "stream", name),
	}
}

// OnMessage registers an observer invoked after each message is flushed.
// Must be set before Run.
func (qw *QueuedWriter) OnMessage(fn func(message.Message)) { qw.onMessage = fn }

// Run writes until the queue's terminal value is observed (returns nil), the
// context is cancelled (returns nil), or a write fails. Write failures —
// typically a broken pipe after the peer exited — are returned for the caller
// to log; the peer's exit itself is handled by the process supervisor, so
// they are never fatal to the bridge.
func (qw *QueuedWriter) Run(ctx context.Context, w io.Writer) error {
	qw.logger.Info("writer started")

	buf := bufio.NewWriter(w)
	for {
		msg, err := qw.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				qw.logger.Info("writer stopped: queue closed")
				return nil
			}
			qw.logger.Info("writer cancelled")
			return nil
		}

		if _, err := buf.WriteString(msg.Text); err != nil {
			return fmt.Errorf("writing to %s: %w", qw.name, err)
		}
		if err := buf.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing to %s: %w", qw.name, err)
		}
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("flushing %s: %w", qw.name, err)
		}
		qw.logger.Debug("message written", "bytes", len(msg.Text))
		if qw.onMessage != nil {
			qw.onMessage(msg)
		}
	}
}
