// Package responder defines the interface to an external text-generation
// service and the adapter that sits between two bridge queues, turning each
// inbound message into exactly one reply.
package responder

import "context"

// Role identifies the author of a transcript turn.
type Role string

// Role constants for transcript turns.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a conversation transcript.
type Turn struct {
	Role    Role
	Content string
}

// Chunk is one increment of a streaming reply. Mid-stream errors are
// delivered via Err; the stream is closed by the responder afterwards.
type Chunk struct {
	Content string
	Err     error
}

// Responder produces text replies to prompts. Implementations live under
// modules/responder and typically also implement core.Module for lifecycle
// management. The bridge treats a responder as opaque: text in, text out.
type Responder interface {
	// Stream sends the conversation and returns a channel of reply chunks.
	// Initial connection errors are returned directly; mid-stream errors are
	// delivered via Chunk.Err.
	Stream(ctx context.Context, turns []Turn) (<-chan Chunk, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
