package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"woprnotify/internal/a2a"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

// Lifecycle event types published on the bus.
const (
	EventInit       = "plugin.init"
	EventInitFailed = "plugin.init_failed"
	EventShutdown   = "plugin.shutdown"
)

// Plugin states reported by Status.
const (
	StateRegistered = "registered"
	StateDisabled   = "disabled"
	StateRunning    = "running"
	StateFailed     = "failed"
	StateStopped    = "stopped"
)

type pluginEvent struct {
	Plugin  string   `json:"plugin"`
	Version string   `json:"version,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Err     string   `json:"err,omitempty"`
	TookMS  int64    `json:"took_ms,omitempty"`
	Servers []string `json:"servers,omitempty"`
}

// ToolHost is the tool registry side the manager needs.
type ToolHost interface {
	A2ARegistrar
	Unregister(name string) bool
}

// Host is what the manager hands out to plugins. Any field may be nil.
type Host struct {
	Bus   eventbus.Bus
	Tools ToolHost
	Store storage.Reader
}

// Status is a snapshot of one registered plugin.
type Status struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	Err         string    `json:"err,omitempty"`
	Servers     []string  `json:"servers,omitempty"`
	Since       time.Time `json:"since"`
}

type entry struct {
	p        Plugin
	state    string
	err      error
	since    time.Time
	caps     *capRef
	reg      *capRegistrar
	hasStore bool
	cfgHash  uint64
	settings Settings
}

// Manager initializes plugins in registration order and shuts them down in
// reverse.
type Manager struct {
	mu sync.Mutex

	log      logx.Logger
	host     Host
	order    []string
	entries  map[string]*entry
	settings map[string]Settings
}

func NewManager(log logx.Logger, host Host) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:      log.With(logx.String("comp", "plugins")),
		host:     host,
		entries:  map[string]*entry{},
		settings: map[string]Settings{},
	}
}

func (pm *Manager) emit(typ string, data pluginEvent) {
	if pm.host.Bus == nil {
		return
	}
	pm.host.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Register adds plugins. A later plugin with a duplicate name is rejected.
func (pm *Manager) Register(ps ...Plugin) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		name := p.Name()
		if name == "" {
			errs = append(errs, errors.New("plugin name is empty"))
			continue
		}
		if _, dup := pm.entries[name]; dup {
			errs = append(errs, fmt.Errorf("plugin %q already registered", name))
			continue
		}
		pm.entries[name] = &entry{p: p, state: StateRegistered, since: time.Now()}
		pm.order = append(pm.order, name)
	}
	return errors.Join(errs...)
}

// Configure replaces the per-plugin settings used by the next InitAll.
func (pm *Manager) Configure(settings map[string]Settings) {
	cp := make(map[string]Settings, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	pm.mu.Lock()
	pm.settings = cp
	pm.mu.Unlock()
}

func (pm *Manager) depsFor(e *entry, s Settings) Deps {
	e.caps = newCapRef(s.Allow)
	e.reg, e.hasStore = nil, false
	d := Deps{Logger: pm.log.With(logx.String("plugin", e.p.Name())), Config: s.Config}
	if pm.host.Bus != nil {
		d.Events = &capEmitter{inner: pm.host.Bus, caps: e.caps}
	}
	// Denied registration looks like a host without tool registration.
	if pm.host.Tools != nil && e.caps.Allows(CapA2ARegister) {
		e.reg = &capRegistrar{inner: pm.host.Tools, caps: e.caps}
		d.A2A = e.reg
	}
	if pm.host.Store != nil && e.caps.Allows(CapStorageRead) {
		d.Store = &capReader{inner: pm.host.Store, caps: e.caps}
		e.hasStore = true
	}
	return d
}

// needsRestart reports whether s changes ports that are only handed out at
// Init: a2a.register either way, storage.read when newly granted. Other
// allowlist changes are enforced by the wrappers in place.
func (pm *Manager) needsRestart(e *entry, s Settings) bool {
	want := newCapRef(s.Allow)
	if pm.host.Tools != nil && want.Allows(CapA2ARegister) != (e.reg != nil) {
		return true
	}
	return pm.host.Store != nil && want.Allows(CapStorageRead) && !e.hasStore
}

// InitAll initializes every enabled plugin that is not already running.
// Failures do not stop later plugins; they are joined into the result.
func (pm *Manager) InitAll(ctx context.Context) error {
	pm.mu.Lock()
	order := append([]string(nil), pm.order...)
	pm.mu.Unlock()

	var errs []error
	for _, name := range order {
		if err := pm.initOne(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (pm *Manager) initOne(ctx context.Context, name string) error {
	pm.mu.Lock()
	e := pm.entries[name]
	s := pm.settings[name]
	if e == nil || e.state == StateRunning {
		pm.mu.Unlock()
		return nil
	}
	if !s.IsEnabled() {
		e.state, e.err, e.since = StateDisabled, nil, time.Now()
		pm.mu.Unlock()
		pm.log.Info("plugin disabled", logx.String("plugin", name))
		return nil
	}
	deps := pm.depsFor(e, s)
	pm.mu.Unlock()

	start := time.Now()
	err := pm.safeCall("plugin.init."+name, func() error {
		if v, ok := e.p.(ConfigValidator); ok {
			if err := v.ValidateConfig(ctx, s.Config); err != nil {
				return fmt.Errorf("config validate: %w", err)
			}
		}
		return e.p.Init(ctx, deps)
	})
	if err == nil {
		if c, ok := e.p.(ConfigurablePlugin); ok {
			err = pm.safeCall("plugin.config."+name, func() error { return c.OnConfigChange(ctx, s.Config) })
		}
	}
	took := time.Since(start)

	pm.mu.Lock()
	e.since = time.Now()
	if err != nil {
		e.state, e.err = StateFailed, err
	} else {
		e.state, e.err = StateRunning, nil
		e.cfgHash = configHash(s.Config)
		e.settings = s
	}
	pm.mu.Unlock()

	if err != nil {
		// Roll back any partial registration.
		e.reg.release()
		pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
		pm.emit(EventInitFailed, pluginEvent{Plugin: name, Version: e.p.Version(), Err: err.Error(), TookMS: took.Milliseconds()})
		return fmt.Errorf("plugin %s: init: %w", name, err)
	}
	pm.log.Debug("plugin initialized", logx.String("plugin", name), logx.Duration("took", took))
	pm.emit(EventInit, pluginEvent{Plugin: name, Version: e.p.Version(), TookMS: took.Milliseconds(), Servers: e.reg.servers()})
	return nil
}

// ShutdownAll stops running plugins in reverse registration order.
func (pm *Manager) ShutdownAll(ctx context.Context, reason string) {
	pm.mu.Lock()
	order := append([]string(nil), pm.order...)
	pm.mu.Unlock()
	for i := len(order) - 1; i >= 0; i-- {
		pm.shutdownOne(ctx, order[i], reason)
	}
}

func (pm *Manager) shutdownOne(ctx context.Context, name, reason string) {
	pm.mu.Lock()
	e := pm.entries[name]
	if e == nil || e.state != StateRunning {
		pm.mu.Unlock()
		return
	}
	pm.mu.Unlock()

	start := time.Now()
	// Do not let a misbehaving plugin block shutdown forever.
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.shutdown."+name, func() error { return e.p.Shutdown(ctx) })
	}()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		pm.log.Warn("plugin shutdown timeout (continuing)", logx.String("plugin", name), logx.Err(err))
	}
	servers := e.reg.release()

	pm.mu.Lock()
	e.state, e.err, e.since = StateStopped, err, time.Now()
	pm.mu.Unlock()

	ev := pluginEvent{Plugin: name, Version: e.p.Version(), Reason: reason, TookMS: time.Since(start).Milliseconds(), Servers: servers}
	if err != nil {
		ev.Err = err.Error()
		pm.log.Warn("plugin shutdown error", logx.String("plugin", name), logx.Err(err))
	}
	pm.emit(EventShutdown, ev)
	pm.log.Debug("plugin stopped", logx.String("plugin", name), logx.String("reason", reason))
}

// Reconfigure applies reloaded settings: allowlists update in place, enable
// flips start or stop plugins, grants that change Init-time ports restart the
// plugin, and changed config blocks reach ConfigurablePlugin implementations.
func (pm *Manager) Reconfigure(ctx context.Context, settings map[string]Settings) error {
	pm.Configure(settings)

	pm.mu.Lock()
	order := append([]string(nil), pm.order...)
	pm.mu.Unlock()

	var errs []error
	for _, name := range order {
		pm.mu.Lock()
		e := pm.entries[name]
		s := pm.settings[name]
		state := e.state
		pm.mu.Unlock()

		switch {
		case state == StateRunning && !s.IsEnabled():
			pm.shutdownOne(ctx, name, "disabled")
			pm.mu.Lock()
			e.state = StateDisabled
			pm.mu.Unlock()
		case state != StateRunning && s.IsEnabled():
			if err := pm.initOne(ctx, name); err != nil {
				errs = append(errs, err)
			}
		case state == StateRunning:
			pm.mu.Lock()
			restart := pm.needsRestart(e, s)
			pm.mu.Unlock()
			if restart {
				pm.log.Info("plugin capabilities changed; restarting", logx.String("plugin", name))
				pm.shutdownOne(ctx, name, "capabilities")
				if err := pm.initOne(ctx, name); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			e.caps.Update(s.Allow)
			h := configHash(s.Config)
			pm.mu.Lock()
			changed := h != e.cfgHash
			e.cfgHash, e.settings = h, s
			pm.mu.Unlock()
			if !changed {
				continue
			}
			if c, ok := e.p.(ConfigurablePlugin); ok {
				if err := pm.safeCall("plugin.config."+name, func() error { return c.OnConfigChange(ctx, s.Config) }); err != nil {
					pm.log.Warn("plugin config change rejected", logx.String("plugin", name), logx.Err(err))
					errs = append(errs, fmt.Errorf("plugin %s: config: %w", name, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateConfig runs plugin config validators without applying anything.
func (pm *Manager) ValidateConfig(ctx context.Context, settings map[string]Settings) error {
	pm.mu.Lock()
	plugins := make(map[string]Plugin, len(pm.entries))
	for name, e := range pm.entries {
		plugins[name] = e.p
	}
	pm.mu.Unlock()

	for name, p := range plugins {
		s := settings[name]
		if !s.IsEnabled() {
			continue
		}
		v, ok := p.(ConfigValidator)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := v.ValidateConfig(cctx, s.Config)
		cancel()
		if err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", name, err)
		}
	}
	return nil
}

// Status returns plugins in registration order.
func (pm *Manager) Status() []Status {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Status, 0, len(pm.order))
	for _, name := range pm.order {
		e := pm.entries[name]
		st := Status{
			Name:        name,
			Version:     e.p.Version(),
			Description: e.p.Description(),
			State:       e.state,
			Since:       e.since,
			Servers:     e.reg.servers(),
		}
		if e.err != nil {
			st.Err = e.err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

var _ ToolHost = (*a2a.Registry)(nil)
