package plugin

import (
	"context"
	"encoding/json"

	"woprnotify/internal/a2a"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

// Plugin is the lifecycle contract every plugin implements.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Init(ctx context.Context, deps Deps) error
	Shutdown(ctx context.Context) error
}

// ConfigurablePlugin receives its config block on init and whenever it changes.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// A2ARegistrar accepts tool server registrations.
type A2ARegistrar interface {
	RegisterA2AServer(cfg a2a.ServerConfig) error
}

// Deps is the capability bundle handed to Init.
//
// A2A is nil when the host offers no tool registration or the plugin lacks
// a2a.register. Store is nil when storage is disabled or storage.read is denied.
type Deps struct {
	Logger logx.Logger
	Events eventbus.Emitter
	A2A    A2ARegistrar
	Store  storage.Reader
	Config json.RawMessage
}

// Base is a small helper for writing plugins.
// Typical usage:
//
//	type Plugin struct { plugin.Base }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
type Base struct {
	Log  logx.Logger
	Deps Deps
}

// InitBase wires deps and a plugin-scoped logger.
func (b *Base) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("plugin", pluginName))
}

// DecodePluginConfig decodes per-plugin raw json into a typed config struct.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
