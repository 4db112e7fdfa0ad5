// Package main is the entry point for the linebridge CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/linebridge/internal/config"
	"github.com/flemzord/linebridge/internal/core"
	"github.com/flemzord/linebridge/pkg/app"

	// Compiled modules.
	_ "github.com/flemzord/linebridge/internal/admin"
	_ "github.com/flemzord/linebridge/internal/bridge"
	_ "github.com/flemzord/linebridge/internal/control"
	_ "github.com/flemzord/linebridge/modules/responder/ollama"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linebridge",
		Short:         "Bridge line-oriented processes over framed message streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), runCmd(), loopbackCmd(), pipeCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("linebridge %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Println("\nNo compiled modules.")
				return
			}
			fmt.Println("\nCompiled modules:")
			for _, mod := range mods {
				fmt.Printf("  %s\n", mod.ID)
			}
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run linebridge with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				LogLevel:   levelFor(verbose),
			})
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	return cmd
}

// loopbackCmd bridges two commands to each other without a config file.
func loopbackCmd() *cobra.Command {
	var (
		c1, c2             []string
		c1Marker, c2Marker string
		admin              string
		verbose            bool
	)
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Bridge two commands to each other",
		Example: `  linebridge loopback \
    --c1 python3 --c1 gen.py --c1-marker END_C1_OUTPUT \
    --c2 python3 --c2 echo.py --c2-marker END_C2_OUTPUT`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if len(c1) == 0 || len(c2) == 0 {
				return fmt.Errorf("both --c1 and --c2 are required")
			}

			cfg, err := bridgeOnlyConfig(map[string]any{
				"mode": "loopback",
				"children": []map[string]any{
					childSection("c1", c1, c1Marker),
					childSection("c2", c2, c2Marker),
				},
			}, admin, verbose)
			if err != nil {
				return err
			}
			return app.Run(app.RunParams{Config: cfg, LogLevel: levelFor(verbose)})
		},
	}
	cmd.Flags().StringArrayVar(&c1, "c1", nil, "First command and its arguments (repeatable)")
	cmd.Flags().StringArrayVar(&c2, "c2", nil, "Second command and its arguments (repeatable)")
	cmd.Flags().StringVar(&c1Marker, "c1-marker", "", "End-of-message marker of the first command")
	cmd.Flags().StringVar(&c2Marker, "c2-marker", "", "End-of-message marker of the second command")
	cmd.Flags().StringVar(&admin, "admin", "", "Admin listen address (disabled when empty)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

// pipeCmd bridges one command to an Ollama responder.
func pipeCmd() *cobra.Command {
	var (
		model, baseURL, system string
		marker, admin          string
		historyTurns           int
		verbose                bool
	)
	cmd := &cobra.Command{
		Use:   "pipe [flags] -- command [args...]",
		Short: "Bridge a command to an Ollama model",
		Args:  cobra.MinimumNArgs(1),
		Example: `  linebridge pipe --model llama3 -- python3 agent.py
  linebridge pipe --model qwen2 --marker "THE END OF PROMPT" -- ./agent`,
		RunE: func(_ *cobra.Command, args []string) error {
			responder := map[string]any{}
			if model != "" {
				responder["model"] = model
			}
			if baseURL != "" {
				responder["base_url"] = baseURL
			}
			if system != "" {
				responder["system_prompt"] = system
			}
			if historyTurns > 0 {
				responder["history_turns"] = historyTurns
			}

			cfg, err := bridgeOnlyConfig(map[string]any{
				"mode": "pipe",
				"children": []map[string]any{
					childSection("agent", args, marker),
				},
			}, admin, verbose)
			if err != nil {
				return err
			}
			node, err := moduleNode(responder)
			if err != nil {
				return err
			}
			cfg.Modules["responder.ollama"] = node

			return app.Run(app.RunParams{Config: cfg, LogLevel: levelFor(verbose)})
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Ollama model name")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Ollama server base URL")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().IntVar(&historyTurns, "history-turns", 0, "Conversation turns kept in the rolling window")
	cmd.Flags().StringVar(&marker, "marker", "", "End-of-message marker of the command")
	cmd.Flags().StringVar(&admin, "admin", "", "Admin listen address (disabled when empty)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ids := cfg.ModuleIDs()
			fmt.Printf("Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

// bridgeOnlyConfig assembles an in-memory configuration around one bridge
// section, with the control console always on and the admin server optional.
func bridgeOnlyConfig(section map[string]any, admin string, verbose bool) (*config.Config, error) {
	cfg := &config.Config{
		Version: "1",
		Modules: map[string]yaml.Node{},
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	node, err := moduleNode(section)
	if err != nil {
		return nil, err
	}
	cfg.Modules["bridge"] = node

	console, err := moduleNode(map[string]any{})
	if err != nil {
		return nil, err
	}
	cfg.Modules["control.console"] = console

	if admin != "" {
		adminNode, err := moduleNode(map[string]any{"listen": admin})
		if err != nil {
			return nil, err
		}
		cfg.Modules["admin.http"] = adminNode
	}

	return cfg, nil
}

func childSection(name string, argv []string, marker string) map[string]any {
	section := map[string]any{
		"name":    name,
		"command": argv[0],
	}
	if len(argv) > 1 {
		section["args"] = argv[1:]
	}
	if marker != "" {
		section["end_marker"] = marker
	}
	return section
}

func moduleNode(v any) (yaml.Node, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return yaml.Node{}, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return yaml.Node{}, err
	}
	return node, nil
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
