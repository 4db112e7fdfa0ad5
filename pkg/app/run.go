// Package app provides the shared entry point for the linebridge binary.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/linebridge/internal/bridge"
	"github.com/flemzord/linebridge/internal/config"
	"github.com/flemzord/linebridge/internal/core"
)

// RunParams configures the main application loop.
type RunParams struct {
	// Config is a pre-built configuration (used by the loopback and pipe
	// subcommands). When nil, ConfigPath is loaded instead.
	Config *config.Config

	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// LogLevel sets the minimum log level when the config does not set one.
	LogLevel slog.Level
}

// bridgeHandle is the surface the run loop needs from the bridge module.
type bridgeHandle interface {
	Done() <-chan struct{}
	Status() bridge.Status
}

// Run loads configuration, starts all modules, and blocks until the bridge
// finishes its shutdown sequence or a termination signal arrives. A bridge
// torn down by a failing child surfaces as an error so the process exits
// non-zero.
func Run(params RunParams) error {
	cfg := params.Config
	if cfg == nil {
		cfgPath := params.ConfigPath
		if cfgPath == "" {
			resolved, err := ResolveConfigPath()
			if err != nil {
				return err
			}
			cfgPath = resolved
		}

		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	level := params.LogLevel
	if cfg.Log.Level != "" {
		level = parseLevel(cfg.Log.Level)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	appCtx := core.NewAppContext(logger)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	application := core.NewApp(appCtx)
	ids := cfg.ModuleIDs()
	if err := application.LoadModules(ids); err != nil {
		return err
	}
	if err := application.Start(); err != nil {
		return err
	}

	// The bridge drives the process lifetime: when it stops, so does the
	// binary. Configurations without a bridge module block on signals only.
	var handle bridgeHandle
	var bridgeDone <-chan struct{}
	if svc, ok := appCtx.Service("bridge.control"); ok {
		if h, ok := svc.(bridgeHandle); ok {
			handle = h
			bridgeDone = h.Done()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-bridgeDone:
		logger.Info("bridge stopped")
	}

	application.Stop()
	logger.Info("shutdown complete")
	return exitError(handle)
}

// exitError maps a bridge torn down by an unexpected child failure to a
// non-nil error. Operator exits and signals are normal terminations.
func exitError(h bridgeHandle) error {
	if h == nil {
		return nil
	}
	st := h.Status()
	if st.Trigger != string(bridge.TriggerChildExit) {
		return nil
	}
	for _, c := range st.Children {
		if c.ExitCode != nil && *c.ExitCode != 0 {
			return fmt.Errorf("child %s exited with code %d", c.Name, *c.ExitCode)
		}
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/linebridge/linebridge.yaml →
// ~/.config/linebridge/linebridge.yaml → ./linebridge.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "linebridge", "linebridge.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "linebridge", "linebridge.yaml"))
	}

	candidates = append(candidates, "linebridge.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
