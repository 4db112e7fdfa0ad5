package bridge

import (
	"errors"
	"fmt"
	"time"
)

// Bridge topologies.
const (
	// ModeLoopback bridges two children to each other: each child's framed
	// output becomes the other child's input.
	ModeLoopback = "loopback"
	// ModePipe bridges one child to a responder: framed output becomes a
	// prompt, the accumulated reply is written back.
	ModePipe = "pipe"
)

// Default end-of-message markers, by topology and child position.
const (
	defaultMarkerC1   = "END_C1_OUTPUT"
	defaultMarkerC2   = "END_C2_OUTPUT"
	defaultMarkerPipe = "THE END OF PROMPT"
)

const (
	defaultFlushWait   = "100ms"
	defaultGracePeriod = "2s"
)

// ChildConfig describes one bridged child process.
type ChildConfig struct {
	// Name labels the child in logs, status, and events.
	Name string `yaml:"name"`

	// Command is the executable to run.
	Command string `yaml:"command"`

	// Args are the command arguments.
	Args []string `yaml:"args"`

	// EndMarker is the sentinel line closing each of this child's output
	// messages. Defaults depend on the topology.
	EndMarker string `yaml:"end_marker"`
}

// Config is the bridge module's YAML configuration.
type Config struct {
	// Mode selects the topology: "loopback" or "pipe".
	Mode string `yaml:"mode"`

	// FlushWait bounds the pause between closing the queues and closing
	// child stdin during shutdown, giving writers time to flush.
	FlushWait string `yaml:"flush_wait"`

	// GracePeriod bounds each escalation step while stopping a child:
	// stdin-close to SIGTERM, and SIGTERM to SIGKILL.
	GracePeriod string `yaml:"grace_period"`

	// Children are the bridged processes: exactly two in loopback mode,
	// exactly one in pipe mode.
	Children []ChildConfig `yaml:"children"`

	flushWait   time.Duration
	gracePeriod time.Duration
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeLoopback
	}
	if c.FlushWait == "" {
		c.FlushWait = defaultFlushWait
	}
	if c.GracePeriod == "" {
		c.GracePeriod = defaultGracePeriod
	}
	for i := range c.Children {
		if c.Children[i].EndMarker != "" {
			continue
		}
		switch {
		case c.Mode == ModePipe:
			c.Children[i].EndMarker = defaultMarkerPipe
		case i == 0:
			c.Children[i].EndMarker = defaultMarkerC1
		default:
			c.Children[i].EndMarker = defaultMarkerC2
		}
	}
}

func (c *Config) validate() error {
	var errs []error

	switch c.Mode {
	case ModeLoopback:
		if len(c.Children) != 2 {
			errs = append(errs, fmt.Errorf("bridge: loopback mode requires exactly 2 children, got %d", len(c.Children)))
		}
	case ModePipe:
		if len(c.Children) != 1 {
			errs = append(errs, fmt.Errorf("bridge: pipe mode requires exactly 1 child, got %d", len(c.Children)))
		}
	default:
		errs = append(errs, fmt.Errorf("bridge: unknown mode %q (supported: %q, %q)", c.Mode, ModeLoopback, ModePipe))
	}

	seen := make(map[string]bool)
	for i, child := range c.Children {
		if child.Name == "" {
			errs = append(errs, fmt.Errorf("bridge: children[%d]: name is required", i))
			continue
		}
		if seen[child.Name] {
			errs = append(errs, fmt.Errorf("bridge: duplicate child name %q", child.Name))
		}
		seen[child.Name] = true
		if child.Command == "" {
			errs = append(errs, fmt.Errorf("bridge: child %q: command is required", child.Name))
		}
	}

	if _, err := time.ParseDuration(c.FlushWait); err != nil {
		errs = append(errs, fmt.Errorf("bridge: invalid flush_wait: %w", err))
	}
	if _, err := time.ParseDuration(c.GracePeriod); err != nil {
		errs = append(errs, fmt.Errorf("bridge: invalid grace_period: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) parse() error {
	var err error
	if c.FlushWait != "" {
		if c.flushWait, err = time.ParseDuration(c.FlushWait); err != nil {
			return fmt.Errorf("bridge: invalid flush_wait: %w", err)
		}
	}
	if c.GracePeriod != "" {
		if c.gracePeriod, err = time.ParseDuration(c.GracePeriod); err != nil {
			return fmt.Errorf("bridge: invalid grace_period: %w", err)
		}
	}
	return nil
}
