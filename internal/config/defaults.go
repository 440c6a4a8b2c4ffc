package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	DefaultHTTPAddr    = "127.0.0.1:8787"
	DefaultPprofAddr   = "127.0.0.1:6060"
	DefaultServiceName = "notifyd"
	EnvPrefix          = "NOTIFYD_"
)

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "memory"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "none"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.MCP.Name == "" {
		cfg.MCP.Name = DefaultServiceName
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
	if cfg.Pprof.Addr == "" {
		cfg.Pprof.Addr = DefaultPprofAddr
	}
}

// envBinding maps one NOTIFYD_* variable onto a config field.
type envBinding struct {
	key   string
	apply func(cfg *Config, v string) error
}

var envBindings = []envBinding{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = strings.ToLower(v); return nil }},
	{"EVENTS_DRIVER", func(c *Config, v string) error { c.Events.Driver = strings.ToLower(v); return nil }},
	{"EVENTS_URL", func(c *Config, v string) error { c.Events.URL = v; return nil }},
	{"STORAGE_DRIVER", func(c *Config, v string) error { c.Storage.Driver = strings.ToLower(v); return nil }},
	{"STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"HTTP_ENABLED", func(c *Config, v string) error { return setBool(&c.HTTP.Enabled, v) }},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"JWT_SECRET", func(c *Config, v string) error { c.HTTP.JWTSecret = v; return nil }},
	{"MCP_ENABLED", func(c *Config, v string) error { return setBool(&c.MCP.Enabled, v) }},
	{"OTLP_ENDPOINT", func(c *Config, v string) error { c.Tracing.Endpoint = v; return nil }},
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// ApplyEnv overrides config fields from NOTIFYD_* variables.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return &EnvError{Key: EnvPrefix + b.key, Err: err}
		}
	}
	return nil
}

type EnvError struct {
	Key string
	Err error
}

func (e *EnvError) Error() string { return "env " + e.Key + ": " + e.Err.Error() }
func (e *EnvError) Unwrap() error { return e.Err }
