package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig           `json:"logging"`
	Events    EventsConfig            `json:"events"`
	Storage   StorageConfig           `json:"storage"`
	HTTP      HTTPConfig              `json:"http"`
	MCP       MCPConfig               `json:"mcp"`
	Tracing   TracingConfig           `json:"tracing"`
	Pprof     PprofConfig             `json:"pprof"`
	Schedules []ScheduleConfig        `json:"schedules,omitempty" validate:"dive"`
	Plugins   map[string]PluginConfig `json:"plugins,omitempty" validate:"dive"`
}

type LoggingConfig struct {
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Console bool   `json:"console"`
	// Output selects the console stream. MCP stdio mode forces stderr.
	Output string      `json:"output,omitempty" validate:"omitempty,oneof=stdout stderr"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EventsConfig selects the event bus driver.
//
// Example:
//
//	"events": { "driver": "nats", "url": "nats://127.0.0.1:4222", "prefix": "notifyd.events" }
type EventsConfig struct {
	Driver string `json:"driver" validate:"omitempty,oneof=memory nats redis"`
	URL    string `json:"url,omitempty" validate:"required_if=Driver nats"`
	Prefix string `json:"prefix,omitempty"`
}

// StorageConfig controls the notification history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path" validate:"required_unless=Driver none"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"duration"` // Go duration string (sqlite)
}

// HTTPConfig controls the tool-call HTTP API.
//
// JWTSecret enables HS256 bearer auth on the /a2a routes; never logged.
type HTTPConfig struct {
	Enabled         bool     `json:"enabled"`
	Addr            string   `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	ReadTimeout     string   `json:"read_timeout,omitempty" validate:"duration"`
	WriteTimeout    string   `json:"write_timeout,omitempty" validate:"duration"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty" validate:"duration"`
	CORSOrigins     []string `json:"cors_origins,omitempty"`
	RatePerSec      float64  `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst           int      `json:"burst,omitempty" validate:"gte=0"`
	JWTSecret       string   `json:"jwt_secret,omitempty"`
}

// MCPConfig exposes the registered tools over MCP on stdin/stdout.
type MCPConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"`
}

// TracingConfig enables OTLP/HTTP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty" validate:"gte=0,lte=1"`
}

// PprofConfig controls the optional profiling listener. It is hot-reloadable.
//
// A non-loopback Addr needs Token or AllowInsecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// ScheduleConfig sends a fixed notification on a cron schedule.
//
// Example:
//
//	{ "name": "heartbeat", "spec": "@every 1h", "message": "still alive", "level": "info" }
type ScheduleConfig struct {
	Name    string  `json:"name" validate:"required"`
	Spec    string  `json:"spec" validate:"required,cron"`
	Message string  `json:"message" validate:"required"`
	Level   string  `json:"level,omitempty"`
	Channel *string `json:"channel,omitempty"`
	Timeout string  `json:"timeout,omitempty" validate:"duration"`
}

type PluginConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
	// Allow is an optional capability allowlist for this plugin.
	//
	// Notes:
	//   - This is NOT a security boundary (plugins are still in-process).
	//   - If omitted or empty, all capabilities are allowed.
	Allow  []string        `json:"allow,omitempty" validate:"dive,oneof=events.emit a2a.register storage.read"`
	Config json.RawMessage `json:"config,omitempty"`
}

// IsEnabled reports whether the plugin should be initialized.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// UnmarshalJSON disallows unknown fields inside a plugin block.
func (p *PluginConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled *bool           `json:"enabled,omitempty"`
		Allow   []string        `json:"allow,omitempty"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfig{Enabled: t.Enabled, Allow: t.Allow, Config: t.Config}
	return nil
}
