package main

import (
	"testing"

	"github.com/flemzord/linebridge/internal/config"
)

func TestBridgeOnlyConfig_Validates(t *testing.T) {
	t.Parallel()

	cfg, err := bridgeOnlyConfig(map[string]any{
		"mode": "loopback",
		"children": []map[string]any{
			childSection("c1", []string{"gen", "--fast"}, "STOP"),
			childSection("c2", []string{"echo-back"}, ""),
		},
	}, "127.0.0.1:8643", true)
	if err != nil {
		t.Fatalf("building config: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, ok := cfg.Modules["bridge"]; !ok {
		t.Fatal("bridge section missing")
	}
	if _, ok := cfg.Modules["control.console"]; !ok {
		t.Fatal("console section missing")
	}
	if _, ok := cfg.Modules["admin.http"]; !ok {
		t.Fatal("admin section missing")
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Log.Level)
	}

	var section struct {
		Mode     string `yaml:"mode"`
		Children []struct {
			Name      string   `yaml:"name"`
			Command   string   `yaml:"command"`
			Args      []string `yaml:"args"`
			EndMarker string   `yaml:"end_marker"`
		} `yaml:"children"`
	}
	node := cfg.Modules["bridge"]
	if err := node.Decode(&section); err != nil {
		t.Fatalf("decoding bridge section: %v", err)
	}
	if section.Children[0].Command != "gen" || section.Children[0].Args[0] != "--fast" {
		t.Fatalf("unexpected c1 section: %+v", section.Children[0])
	}
	if section.Children[0].EndMarker != "STOP" {
		t.Fatalf("c1 marker = %q", section.Children[0].EndMarker)
	}
	if section.Children[1].EndMarker != "" {
		t.Fatalf("c2 marker should stay empty for defaulting, got %q", section.Children[1].EndMarker)
	}
}

func TestBridgeOnlyConfig_AdminOptional(t *testing.T) {
	t.Parallel()

	cfg, err := bridgeOnlyConfig(map[string]any{
		"mode": "pipe",
		"children": []map[string]any{
			childSection("agent", []string{"./agent"}, ""),
		},
	}, "", false)
	if err != nil {
		t.Fatalf("building config: %v", err)
	}
	if _, ok := cfg.Modules["admin.http"]; ok {
		t.Fatal("admin section present without --admin")
	}
	if cfg.Log.Level != "" {
		t.Fatalf("log level = %q, want unset", cfg.Log.Level)
	}
}
