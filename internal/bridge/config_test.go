package bridge

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func decodeConfig(t *testing.T, src string) *Config {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatalf("parsing yaml: %v", err)
	}
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	return &cfg
}

func TestConfig_LoopbackDefaults(t *testing.T) {
	t.Parallel()

	cfg := decodeConfig(t, `
children:
  - name: c1
    command: gen
  - name: c2
    command: echo-back
`)
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := cfg.parse(); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Mode != ModeLoopback {
		t.Fatalf("mode = %q, want %q", cfg.Mode, ModeLoopback)
	}
	if got := cfg.Children[0].EndMarker; got != "END_C1_OUTPUT" {
		t.Fatalf("c1 marker = %q", got)
	}
	if got := cfg.Children[1].EndMarker; got != "END_C2_OUTPUT" {
		t.Fatalf("c2 marker = %q", got)
	}
	if cfg.flushWait != 100*time.Millisecond {
		t.Fatalf("flush wait = %v", cfg.flushWait)
	}
	if cfg.gracePeriod != 2*time.Second {
		t.Fatalf("grace period = %v", cfg.gracePeriod)
	}
}

func TestConfig_PipeDefaults(t *testing.T) {
	t.Parallel()

	cfg := decodeConfig(t, `
mode: pipe
children:
  - name: agent
    command: python3
    args: ["agent.py"]
`)
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.Children[0].EndMarker; got != "THE END OF PROMPT" {
		t.Fatalf("marker = %q", got)
	}
}

func TestConfig_ValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown mode",
			src:  "mode: star\nchildren: [{name: a, command: x}]",
			want: "unknown mode",
		},
		{
			name: "loopback child count",
			src:  "children: [{name: a, command: x}]",
			want: "exactly 2 children",
		},
		{
			name: "pipe child count",
			src:  "mode: pipe\nchildren: [{name: a, command: x}, {name: b, command: y}]",
			want: "exactly 1 child",
		},
		{
			name: "missing command",
			src:  "children: [{name: a}, {name: b, command: y}]",
			want: "command is required",
		},
		{
			name: "duplicate names",
			src:  "children: [{name: a, command: x}, {name: a, command: y}]",
			want: "duplicate child name",
		},
		{
			name: "bad flush wait",
			src:  "flush_wait: soon\nchildren: [{name: a, command: x}, {name: b, command: y}]",
			want: "invalid flush_wait",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := decodeConfig(t, tc.src)
			cfg.defaults()
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
