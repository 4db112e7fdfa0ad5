package admin

import (
	"fmt"
	"net"
	"time"
)

const (
	defaultListen          = "127.0.0.1:8643"
	defaultReadTimeout     = "10s"
	defaultWriteTimeout    = "30s"
	defaultShutdownTimeout = "5s"
)

// Config is the admin module's YAML configuration.
type Config struct {
	// Listen is the TCP bind address of the admin server.
	Listen string `yaml:"listen"`

	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

func (c *Config) validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Listen); err != nil {
		return fmt.Errorf("admin: invalid listen address %q: %w", c.Listen, err)
	}
	for name, v := range map[string]string{
		"read_timeout":     c.ReadTimeout,
		"write_timeout":    c.WriteTimeout,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("admin: invalid %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) parse() error {
	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{c.ReadTimeout, &c.readTimeout},
		{c.WriteTimeout, &c.writeTimeout},
		{c.ShutdownTimeout, &c.shutdownTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("admin: invalid duration %q: %w", d.raw, err)
		}
		*d.dst = v
	}
	return nil
}
