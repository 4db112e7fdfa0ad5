package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/flemzord/linebridge/internal/responder"
)

// Ollama wire types for JSON serialization.

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatFrame is one NDJSON line of a streaming chat response. The final frame
// carries done=true; an error mid-stream arrives as an error field.
type chatFrame struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// buildRequest converts a conversation into an Ollama chat request.
func buildRequest(cfg Config, turns []responder.Turn) chatRequest {
	messages := make([]chatMessage, len(turns))
	for i, t := range turns {
		messages[i] = chatMessage{Role: string(t.Role), Content: t.Content}
	}

	req := chatRequest{
		Model:    cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	options := map[string]any{}
	if cfg.NumCtx > 0 {
		options["num_ctx"] = cfg.NumCtx
	}
	if cfg.NumPredict > 0 {
		options["num_predict"] = cfg.NumPredict
	}
	if len(options) > 0 {
		req.Options = options
	}

	return req
}

// parseChatStream reads NDJSON frames and emits chunks on the returned
// channel. The channel is closed when the final frame arrives, the stream
// errors, or the context is cancelled.
func parseChatStream(ctx context.Context, scanner *bufio.Scanner) <-chan responder.Chunk {
	ch := make(chan responder.Chunk, 16)

	go func() {
		defer close(ch)

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				ch <- responder.Chunk{Err: err}
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var frame chatFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				ch <- responder.Chunk{Err: fmt.Errorf("parse chat frame: %w", err)}
				return
			}

			if frame.Error != "" {
				ch <- responder.Chunk{Err: fmt.Errorf("%w: %s", responder.ErrResponderDown, frame.Error)}
				return
			}

			if frame.Message.Content != "" {
				ch <- responder.Chunk{Content: frame.Message.Content}
			}

			if frame.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- responder.Chunk{Err: fmt.Errorf("read chat stream: %w", err)}
		}
	}()

	return ch
}
