package flow

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flemzord/linebridge/pkg/message"
)

// Backoff bounds for the empty-read retry loop. A read that yields no data
// is not an error; the reader sleeps a capped, growing interval instead of
// spinning.
const (
	readBackoffInitial = 5 * time.Millisecond
	readBackoffMax     = 250 * time.Millisecond
)

// FramedReader segments a line-oriented byte stream into messages. Lines are
// trimmed and accumulated until one equals the sentinel marker (compared as a
// full trimmed line, never as a substring); the accumulated block is then
// enqueued as a single message and the buffer reset.
type FramedReader struct {
	name      string
	marker    string
	queue     *Queue
	logger    *slog.Logger
	onMessage func(message.Message)
}

// NewFramedReader creates a reader that frames the stream named name using
// marker and enqueues completed messages on queue.
func NewFramedReader(name, marker string, queue *Queue, logger *slog.Logger) *FramedReader {
	return &FramedReader{
		name:   name,
		marker: marker,
		queue:  queue,
		logger: logger.With("component", "reader", "stream", name),
	}
}

// OnMessage registers an observer invoked after each message is enqueued.
// Must be set before Run.
func (fr *FramedReader) OnMessage(fn func(message.Message)) { fr.onMessage = fn }

// Run reads r until end-of-stream, context cancellation, or an I/O error.
// End-of-stream returns nil: an unterminated trailing block is discarded, not
// emitted, because a message is only valid once its closing marker was seen.
// Any other error is returned for the caller to log and act on.
func (fr *FramedReader) Run(ctx context.Context, r io.Reader) error {
	fr.logger.Info("reader started", "marker", fr.marker)

	scanner := bufio.NewScanner(&retryReader{ctx: ctx, r: r, backoff: newReadBackoff()})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != fr.marker {
			lines = append(lines, line)
			continue
		}

		if len(lines) == 0 {
			continue
		}
		msg := message.FromLines(lines)
		lines = nil

		if err := fr.queue.Enqueue(msg); err != nil {
			// The bridge is draining; the frame is dropped by policy.
			fr.logger.Debug("enqueue after close ignored", "bytes", len(msg.Text))
			continue
		}
		fr.logger.Debug("message framed", "bytes", len(msg.Text))
		if fr.onMessage != nil {
			fr.onMessage(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			fr.logger.Info("reader cancelled")
			return nil
		case errors.Is(err, fs.ErrClosed):
			// The pipe's read end was released under the reader. Same
			// outcome as end of stream.
		default:
			return fmt.Errorf("reading %s: %w", fr.name, err)
		}
	}

	if len(lines) > 0 {
		fr.logger.Debug("discarding unterminated block at end of stream", "lines", len(lines))
	}
	fr.logger.Info("reader stopped: end of stream")
	return nil
}

func newReadBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = readBackoffInitial
	bo.MaxInterval = readBackoffMax
	return bo
}

// retryReader retries reads that return no data and no error after a bounded
// backoff, so an idle non-blocking source never busy-spins the reader task.
// Progress resets the backoff.
type retryReader struct {
	ctx     context.Context
	r       io.Reader
	backoff *backoff.ExponentialBackOff
}

func (rr *retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if n > 0 || err != nil {
			if n > 0 {
				rr.backoff.Reset()
			}
			return n, err
		}

		select {
		case <-time.After(rr.backoff.NextBackOff()):
		case <-rr.ctx.Done():
			return 0, rr.ctx.Err()
		}
	}
}
