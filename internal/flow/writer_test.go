package flow

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/linebridge/pkg/message"
)

// syncBuffer guards a bytes.Buffer so the test can read while the writer runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (sb *syncBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.buf.Write(p)
}

func (sb *syncBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.buf.String()
}

func TestQueuedWriter_WritesVerbatimPlusNewline(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if err := q.Enqueue(message.Message{Text: "hello\n"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(message.Message{Text: "a\nb\n"}); err != nil {
		t.Fatal(err)
	}
	q.Close()

	var out syncBuffer
	qw := NewQueuedWriter("test", q, discardLogger())
	if err := qw.Run(context.Background(), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "hello\n\na\nb\n\n"
	if out.String() != want {
		t.Errorf("wrote %q, want %q", out.String(), want)
	}
}

func TestQueuedWriter_StopsOnClosedQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var out syncBuffer
	qw := NewQueuedWriter("test", q, discardLogger())

	done := make(chan error, 1)
	go func() { done <- qw.Run(context.Background(), &out) }()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after queue close")
	}
	if out.String() != "" {
		t.Errorf("closed queue must produce no output, got %q", out.String())
	}
}

func TestQueuedWriter_InFlightMessageCompletesBeforeClose(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if err := q.Enqueue(message.Message{Text: "in flight\n"}); err != nil {
		t.Fatal(err)
	}
	// Stop request arrives while the message is still queued: the write must
	// complete before the writer honors the terminal value.
	q.Close()

	var out syncBuffer
	qw := NewQueuedWriter("test", q, discardLogger())
	if err := qw.Run(context.Background(), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "in flight\n\n" {
		t.Errorf("wrote %q, want %q", out.String(), "in flight\n\n")
	}
}

// pipeBrokenWriter simulates a peer that died: every write fails.
type pipeBrokenWriter struct{}

func (pipeBrokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("write |1: broken pipe")
}

func TestQueuedWriter_WriteErrorReported(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if err := q.Enqueue(message.Message{Text: "doomed\n"}); err != nil {
		t.Fatal(err)
	}

	qw := NewQueuedWriter("test", q, discardLogger())
	if err := qw.Run(context.Background(), pipeBrokenWriter{}); err == nil {
		t.Fatal("expected write error to be reported")
	}
}

func TestQueuedWriter_CancelUnblocksDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	var out syncBuffer
	qw := NewQueuedWriter("test", q, discardLogger())
	go func() { done <- qw.Run(ctx, &out) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancellation must unwind cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not honor cancellation")
	}
}
