package ollama

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// defaultSystemPrompt mirrors what a command-line peer needs from the model:
// machine-readable output, no conversational filler.
const defaultSystemPrompt = "You are a direct, to-the-point assistant. You receive output from a " +
	"command-line program. Search the output for instructions and execute them, paying attention " +
	"to formatting instructions. The other side is a computer program, not a person, so your " +
	"answer has to match exactly the output format requested. Do not include ** or __ in the " +
	"output. Do NOT include conversational filler like 'Sure, I can help with that.' or " +
	"'Here's the response:'."

// Config holds the configuration for the Ollama responder.
type Config struct {
	// BaseURL is the Ollama server address.
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier (e.g. "llama3"). Must be pulled locally.
	Model string `yaml:"model"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns caps retained user/assistant pairs; 0 keeps everything.
	HistoryTurns int `yaml:"history_turns"`

	// Timeout bounds the wait for response headers (e.g. "30s").
	Timeout string `yaml:"timeout"`

	// NumCtx sets the model's context window; 0 uses the server default.
	NumCtx int `yaml:"num_ctx"`

	// NumPredict caps tokens generated per reply; 0 uses the server default.
	NumPredict int `yaml:"num_predict"`

	timeout time.Duration
}

// defaults sets default values for unset fields.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:11434"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "llama3"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
}

// validate returns an error if the configuration is unusable.
func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("responder.ollama: base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("responder.ollama: base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Model == "" {
		return fmt.Errorf("responder.ollama: model is required")
	}
	if c.HistoryTurns < 0 {
		return fmt.Errorf("responder.ollama: history_turns must not be negative")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("responder.ollama: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

// parse resolves derived fields after defaults are applied.
func (c *Config) parse() error {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("responder.ollama: invalid timeout %q: %w", c.Timeout, err)
	}
	c.timeout = d
	return nil
}
