package responder

import "errors"

// ErrResponderDown indicates the responder service could not be reached or
// returned a server-side failure. Exchanges failing with it are discarded and
// the bridge keeps running.
var ErrResponderDown = errors.New("responder: service unavailable")

// Settings carries the conversation-shaping options a responder module
// exposes to the bridge, which owns the transcript.
type Settings struct {
	// SystemPrompt is prepended to every conversation.
	SystemPrompt string

	// HistoryTurns caps the retained user/assistant pairs; 0 is unbounded.
	HistoryTurns int
}
