package proc

import "sync"

// stderrTailLines bounds the postmortem buffer per child.
const stderrTailLines = 64

// tailBuffer keeps the most recent lines of a stream.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	buf   []string
	start int
	count int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max, buf: make([]string, max)}
}

func (tb *tailBuffer) append(line string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	idx := (tb.start + tb.count) % tb.max
	tb.buf[idx] = line
	if tb.count < tb.max {
		tb.count++
	} else {
		tb.start = (tb.start + 1) % tb.max
	}
}

// lines returns the buffered lines, oldest first.
func (tb *tailBuffer) lines() []string {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	out := make([]string, 0, tb.count)
	for i := 0; i < tb.count; i++ {
		out = append(out, tb.buf[(tb.start+i)%tb.max])
	}
	return out
}
