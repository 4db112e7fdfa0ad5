package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/flemzord/linebridge/internal/flow"
	"github.com/flemzord/linebridge/pkg/message"
)

// Adapter consumes messages from an input queue, invokes the responder with
// the message plus the accumulated transcript, and enqueues the accumulated
// reply — exactly one per input — on the output queue. Responder failures are
// isolated to the current exchange: the transcript is left untouched and the
// adapter moves on to the next input.
type Adapter struct {
	responder  Responder
	transcript *Transcript
	in         *flow.Queue
	out        *flow.Queue
	logger     *slog.Logger

	// onExchange, when set, observes every attempted exchange (ok reports
	// whether a reply was produced). Used by the bridge for metrics.
	onExchange func(ok bool)
}

// NewAdapter wires a responder between two queues.
func NewAdapter(r Responder, tr *Transcript, in, out *flow.Queue, logger *slog.Logger) *Adapter {
	return &Adapter{
		responder:  r,
		transcript: tr,
		in:         in,
		out:        out,
		logger:     logger.With("component", "responder", "model", r.ModelName()),
	}
}

// OnExchange registers an observer called after every attempted exchange.
func (a *Adapter) OnExchange(fn func(ok bool)) { a.onExchange = fn }

// Run processes inputs until the input queue closes or the context is
// cancelled. It never returns an error for responder failures; those are
// logged and skipped per exchange.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("responder adapter started")

	for {
		msg, err := a.in.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, flow.ErrQueueClosed) {
				a.logger.Info("responder adapter stopped: queue closed")
			} else {
				a.logger.Info("responder adapter cancelled")
			}
			return nil
		}

		prompt := msg.Body()
		a.logger.Debug("prompt received", "bytes", len(prompt))

		reply, ok := a.exchange(ctx, prompt)
		if a.onExchange != nil {
			a.onExchange(ok)
		}
		if !ok {
			continue
		}

		// The exchange is committed even when the reply is empty; only
		// non-empty replies travel onward, since the peer expects one
		// coherent message per prompt, not a blank line.
		a.transcript.Record(prompt, reply)
		if reply == "" {
			a.logger.Debug("empty reply, nothing enqueued")
			continue
		}

		if err := a.out.Enqueue(message.Message{Text: reply}); err != nil {
			a.logger.Debug("enqueue after close ignored", "bytes", len(reply))
		}
	}
}

// exchange runs one full streaming call, accumulating every increment into a
// single reply. Partial increments are never enqueued individually.
func (a *Adapter) exchange(ctx context.Context, prompt string) (string, bool) {
	turns := append(a.transcript.Turns(), Turn{Role: RoleUser, Content: prompt})

	stream, err := a.responder.Stream(ctx, turns)
	if err != nil {
		a.logger.Warn("responder call failed, exchange discarded", "error", err)
		return "", false
	}

	var b strings.Builder
	var streamErr error
	for chunk := range stream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		if streamErr == nil {
			b.WriteString(chunk.Content)
		}
	}
	if streamErr != nil {
		a.logger.Warn("responder stream failed, exchange discarded", "error", streamErr)
		return "", false
	}

	reply := strings.TrimSpace(b.String())
	a.logger.Debug("reply accumulated", "bytes", len(reply))
	return reply, true
}
