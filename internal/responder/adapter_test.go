package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/flemzord/linebridge/internal/flow"
	"github.com/flemzord/linebridge/pkg/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedResponder replays one canned stream per call.
type scriptedResponder struct {
	calls   int
	scripts [][]Chunk
	errs    []error
	// seen records the turns of each call for assertions.
	seen [][]Turn
}

func (sr *scriptedResponder) ModelName() string { return "scripted" }

func (sr *scriptedResponder) Stream(_ context.Context, turns []Turn) (<-chan Chunk, error) {
	i := sr.calls
	sr.calls++
	sr.seen = append(sr.seen, turns)

	if i < len(sr.errs) && sr.errs[i] != nil {
		return nil, sr.errs[i]
	}

	ch := make(chan Chunk, len(sr.scripts[i]))
	for _, c := range sr.scripts[i] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func runAdapter(t *testing.T, a *Adapter) (wait func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(context.Background()); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	return func() {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("adapter did not stop")
		}
	}
}

func TestAdapter_AccumulatesChunksIntoOneReply(t *testing.T) {
	t.Parallel()

	sr := &scriptedResponder{scripts: [][]Chunk{
		{{Content: "go "}, {Content: "north"}, {Content: "\n"}},
	}}
	in, out := flow.NewQueue(), flow.NewQueue()
	a := NewAdapter(sr, NewTranscript("", 0), in, out, discardLogger())
	wait := runAdapter(t, a)

	if err := in.Enqueue(message.Message{Text: "You see a door.\n"}); err != nil {
		t.Fatal(err)
	}
	in.Close()
	wait()

	reply, err := out.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue reply: %v", err)
	}
	if reply.Text != "go north" {
		t.Errorf("reply = %q, want %q", reply.Text, "go north")
	}
	if out.Len() != 0 {
		t.Errorf("exactly one reply per input, found %d extra", out.Len())
	}
}

func TestAdapter_TransientFailureRollsBackContext(t *testing.T) {
	t.Parallel()

	sr := &scriptedResponder{
		errs: []error{errors.New("connection refused"), nil},
		scripts: [][]Chunk{
			nil,
			{{Content: "pong"}},
		},
	}
	tr := NewTranscript("", 0)
	in, out := flow.NewQueue(), flow.NewQueue()
	a := NewAdapter(sr, tr, in, out, discardLogger())
	wait := runAdapter(t, a)

	if err := in.Enqueue(message.Message{Text: "first\n"}); err != nil {
		t.Fatal(err)
	}
	if err := in.Enqueue(message.Message{Text: "second\n"}); err != nil {
		t.Fatal(err)
	}
	in.Close()
	wait()

	if tr.Exchanges() != 1 {
		t.Fatalf("transcript has %d exchanges, want only the successful one", tr.Exchanges())
	}
	turns := tr.Turns()
	if turns[0].Content != "second" || turns[1].Content != "pong" {
		t.Errorf("transcript = %+v, want the second exchange only", turns)
	}

	// The second call must not have seen the failed first exchange.
	second := sr.seen[1]
	for _, turn := range second {
		if turn.Role == RoleAssistant {
			t.Errorf("failed exchange leaked into context: %+v", second)
		}
	}
}

func TestAdapter_MidStreamErrorDiscardsExchange(t *testing.T) {
	t.Parallel()

	sr := &scriptedResponder{scripts: [][]Chunk{
		{{Content: "par"}, {Err: errors.New("stream reset")}},
	}}
	tr := NewTranscript("", 0)
	in, out := flow.NewQueue(), flow.NewQueue()
	a := NewAdapter(sr, tr, in, out, discardLogger())
	wait := runAdapter(t, a)

	if err := in.Enqueue(message.Message{Text: "prompt\n"}); err != nil {
		t.Fatal(err)
	}
	in.Close()
	wait()

	if out.Len() != 0 {
		t.Error("partial reply must never be enqueued")
	}
	if tr.Exchanges() != 0 {
		t.Error("failed exchange must not be recorded")
	}
}

func TestAdapter_SystemPromptAndHistoryInRequest(t *testing.T) {
	t.Parallel()

	sr := &scriptedResponder{scripts: [][]Chunk{
		{{Content: "one"}},
		{{Content: "two"}},
	}}
	tr := NewTranscript("be terse", 0)
	in, out := flow.NewQueue(), flow.NewQueue()
	a := NewAdapter(sr, tr, in, out, discardLogger())
	wait := runAdapter(t, a)

	_ = in.Enqueue(message.Message{Text: "p1\n"})
	_ = in.Enqueue(message.Message{Text: "p2\n"})
	in.Close()
	wait()

	second := sr.seen[1]
	wantRoles := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(second) != len(wantRoles) {
		t.Fatalf("second call saw %d turns, want %d: %+v", len(second), len(wantRoles), second)
	}
	for i, r := range wantRoles {
		if second[i].Role != r {
			t.Errorf("turn %d role = %q, want %q", i, second[i].Role, r)
		}
	}
	_ = out
}

func TestTranscript_TruncationPolicy(t *testing.T) {
	t.Parallel()

	tr := NewTranscript("sys", 2)
	for i := 0; i < 5; i++ {
		tr.Record("q", "a")
	}

	if tr.Exchanges() != 2 {
		t.Errorf("retained %d exchanges, want 2", tr.Exchanges())
	}
	turns := tr.Turns()
	// system + 2 pairs
	if len(turns) != 5 {
		t.Errorf("Turns() len = %d, want 5", len(turns))
	}
	if turns[0].Role != RoleSystem {
		t.Errorf("first turn role = %q, want system", turns[0].Role)
	}
}

func TestAdapter_ExchangeObserver(t *testing.T) {
	t.Parallel()

	sr := &scriptedResponder{
		errs:    []error{errors.New("down"), nil},
		scripts: [][]Chunk{nil, {{Content: "ok"}}},
	}
	in, out := flow.NewQueue(), flow.NewQueue()
	a := NewAdapter(sr, NewTranscript("", 0), in, out, discardLogger())

	var oks, fails int
	a.OnExchange(func(ok bool) {
		if ok {
			oks++
		} else {
			fails++
		}
	})
	wait := runAdapter(t, a)

	_ = in.Enqueue(message.Message{Text: "a\n"})
	_ = in.Enqueue(message.Message{Text: "b\n"})
	in.Close()
	wait()

	if oks != 1 || fails != 1 {
		t.Errorf("observer saw oks=%d fails=%d, want 1/1", oks, fails)
	}
}
