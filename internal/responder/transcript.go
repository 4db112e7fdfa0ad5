package responder

// Transcript is the conversation context for one bridge direction. It is
// owned exclusively by the adapter instance for that direction and is never
// read by any other component. Exchanges are committed only after the
// responder produced a complete reply, so a failed exchange never appears in
// the context.
type Transcript struct {
	system   string
	maxTurns int // user+assistant pairs to retain; 0 means unbounded
	turns    []Turn
}

// NewTranscript creates a transcript with an optional system prompt and an
// optional truncation policy: maxTurns > 0 keeps only the most recent
// user/assistant pairs, 0 accepts unbounded growth.
func NewTranscript(system string, maxTurns int) *Transcript {
	return &Transcript{system: system, maxTurns: maxTurns}
}

// Turns returns the conversation as sent to a responder: the system prompt
// (when configured) followed by the retained exchanges. The returned slice
// may be appended to by the caller without affecting the transcript.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, 0, len(t.turns)+1)
	if t.system != "" {
		out = append(out, Turn{Role: RoleSystem, Content: t.system})
	}
	return append(out, t.turns...)
}

// Record commits one completed exchange and applies the truncation policy.
func (t *Transcript) Record(prompt, reply string) {
	t.turns = append(t.turns,
		Turn{Role: RoleUser, Content: prompt},
		Turn{Role: RoleAssistant, Content: reply},
	)
	if t.maxTurns > 0 && len(t.turns) > 2*t.maxTurns {
		t.turns = t.turns[len(t.turns)-2*t.maxTurns:]
	}
}

// Exchanges returns the number of committed exchanges currently retained.
func (t *Transcript) Exchanges() int {
	return len(t.turns) / 2
}
