// Package message defines the data contract between the framing layer and the
// rest of the bridge: a Message is one sentinel-delimited block of text lines.
package message

import "strings"

// Message is an immutable block of text travelling through a bridge queue.
// A Message is owned by the queue it was enqueued on until exactly one
// consumer dequeues it. Messages framed out of a stream are the block's
// trimmed lines joined with "\n" plus a trailing "\n"; responder replies are
// carried as-is, without a trailing newline.
type Message struct {
	Text string
}

// FromLines builds a Message from the trimmed lines collected between two
// sentinel markers. Returns the zero Message when lines is empty.
func FromLines(lines []string) Message {
	if len(lines) == 0 {
		return Message{}
	}
	return Message{Text: strings.Join(lines, "\n") + "\n"}
}

// IsEmpty reports whether the Message carries no payload.
func (m Message) IsEmpty() bool {
	return m.Text == ""
}

// Body returns the payload without its trailing newline. This is the form
// handed to a responder, which expects a prompt rather than a wire frame.
func (m Message) Body() string {
	return strings.TrimSuffix(m.Text, "\n")
}
