// Package ollama provides a responder module backed by a local Ollama
// server's chat API. Replies stream as NDJSON and are forwarded chunk by
// chunk; the adapter accumulates them into one message per prompt.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/linebridge/internal/core"
	"github.com/flemzord/linebridge/internal/responder"
)

func init() {
	core.RegisterModule(&Client{})
}

// Client is the Ollama responder module.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (c *Client) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "responder.ollama",
		New: func() core.Module { return &Client{} },
	}
}

// Configure implements core.Configurable.
func (c *Client) Configure(node *yaml.Node) error {
	if err := node.Decode(&c.config); err != nil {
		return err
	}
	c.config.defaults()
	return c.config.parse()
}

// Provision implements core.Provisioner.
func (c *Client) Provision(ctx *core.AppContext) error {
	c.logger = ctx.Logger
	// Response-header timeout instead of a global client timeout: a global
	// timeout would kill long-running streams, while per-request context
	// handles cancellation.
	c.client = &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: c.config.timeout,
		},
	}

	ctx.RegisterService("responder", responder.Responder(c))
	ctx.RegisterService("responder.settings", responder.Settings{
		SystemPrompt: c.config.SystemPrompt,
		HistoryTurns: c.config.HistoryTurns,
	})
	return nil
}

// Validate implements core.Validator.
func (c *Client) Validate() error {
	return c.config.validate()
}

// ModelName implements responder.Responder.
func (c *Client) ModelName() string {
	return c.config.Model
}

// Stream implements responder.Responder. It POSTs the conversation to
// /api/chat and forwards each NDJSON increment until the final frame.
func (c *Client) Stream(ctx context.Context, turns []responder.Turn) (<-chan responder.Chunk, error) {
	resp, err := c.doRequest(ctx, buildRequest(c.config, turns))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}

	// Large replies arrive as many small frames, but a single frame can
	// still carry a long line; size the scanner accordingly.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ch := parseChatStream(ctx, scanner)

	// Wrap to ensure the body gets closed when the stream ends. Select on
	// ctx.Done() to avoid a goroutine leak if the consumer abandons the channel.
	out := make(chan responder.Chunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		for chunk := range ch {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// doRequest executes an HTTP POST to the chat endpoint.
func (c *Client) doRequest(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.config.BaseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Caller cancellation is not a responder failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", responder.ErrResponderDown, err)
	}

	return resp, nil
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// handleErrorResponse maps HTTP error responses to a responder error,
// decoding Ollama's {"error": "..."} body when present.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var apiErr struct {
		Error string `json:"error"`
	}
	detail := string(body)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		detail = apiErr.Error
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", responder.ErrResponderDown, resp.StatusCode, detail)
	}
	return fmt.Errorf("ollama: HTTP %d: %s", resp.StatusCode, detail)
}

// HealthCheck probes the server root, which Ollama answers on when running.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", responder.ErrResponderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", responder.ErrResponderDown, resp.StatusCode)
	}
	return nil
}

// Compile-time interface assertions.
var (
	_ core.Module         = (*Client)(nil)
	_ core.Configurable   = (*Client)(nil)
	_ core.Provisioner    = (*Client)(nil)
	_ core.Validator      = (*Client)(nil)
	_ responder.Responder = (*Client)(nil)
)
