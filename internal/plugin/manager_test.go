package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woprnotify/internal/a2a"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

// journal records lifecycle calls across plugins in order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.calls = append(j.calls, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakePlugin struct {
	Base
	name      string
	j         *journal
	initErr   error
	panicInit bool
	server    bool
	// partial registers its server then fails.
	partial bool

	mu      sync.Mutex
	deps    Deps
	configs []string
}

func (p *fakePlugin) Name() string        { return p.name }
func (p *fakePlugin) Version() string     { return "0.1.0" }
func (p *fakePlugin) Description() string { return "fake " + p.name }

func (p *fakePlugin) Init(_ context.Context, deps Deps) error {
	p.j.add("init:" + p.name)
	p.InitBase(deps, p.name)
	p.mu.Lock()
	p.deps = deps
	p.mu.Unlock()
	if p.panicInit {
		panic("boom")
	}
	if (p.server || p.partial) && deps.A2A != nil {
		if err := deps.A2A.RegisterA2AServer(serverFor(p.name)); err != nil {
			return err
		}
	}
	if p.partial {
		return errors.New("half way")
	}
	return p.initErr
}

func (p *fakePlugin) Shutdown(context.Context) error {
	p.j.add("shutdown:" + p.name)
	return nil
}

func (p *fakePlugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	p.mu.Lock()
	p.configs = append(p.configs, string(raw))
	p.mu.Unlock()
	return nil
}

func (p *fakePlugin) gotDeps() Deps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deps
}

func serverFor(name string) a2a.ServerConfig {
	return a2a.ServerConfig{
		Name:    name,
		Version: "0.1.0",
		Tools: []a2a.Tool{{
			Name:        name,
			InputSchema: a2a.InputSchema{Type: "object"},
			Handler: func(context.Context, json.RawMessage) (a2a.Result, error) {
				return a2a.TextResult("ok"), nil
			},
		}},
	}
}

type fakeReader struct{}

func (fakeReader) ListNotifications(context.Context, int) ([]storage.Notification, error) {
	return []storage.Notification{{ID: "x"}}, nil
}

type fixture struct {
	pm  *Manager
	reg *a2a.Registry
	bus eventbus.Bus
	j   *journal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { _ = bus.Close() })
	reg := a2a.NewRegistry(logx.Nop())
	return &fixture{
		pm:  NewManager(logx.Nop(), Host{Bus: bus, Tools: reg, Store: fakeReader{}}),
		reg: reg,
		bus: bus,
		j:   &journal{},
	}
}

func (f *fixture) plugin(name string) *fakePlugin {
	return &fakePlugin{name: name, j: f.j, server: true}
}

func collect(ch <-chan eventbus.Event, n int) []string {
	var out []string
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e.Type)
		case <-timeout:
			return out
		}
	}
	return out
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pm.Register(f.plugin("a")))
	assert.ErrorContains(t, f.pm.Register(f.plugin("a")), "already registered")
}

func TestInitAllAndShutdownOrder(t *testing.T) {
	f := newFixture(t)
	events, off := f.bus.Subscribe(16)
	defer off()

	a, b := f.plugin("a"), f.plugin("b")
	require.NoError(t, f.pm.Register(a, b))
	require.NoError(t, f.pm.InitAll(context.Background()))

	assert.Len(t, f.reg.Servers(), 2)
	st := f.pm.Status()
	require.Len(t, st, 2)
	assert.Equal(t, StateRunning, st[0].State)
	assert.Equal(t, []string{"a"}, st[0].Servers)

	f.pm.ShutdownAll(context.Background(), "test")
	assert.Equal(t, []string{"init:a", "init:b", "shutdown:b", "shutdown:a"}, f.j.list())
	assert.Empty(t, f.reg.Servers(), "servers unregistered on shutdown")
	assert.Equal(t, StateStopped, f.pm.Status()[0].State)

	assert.Equal(t, []string{EventInit, EventInit, EventShutdown, EventShutdown}, collect(events, 4))
}

func TestDisabledPluginSkipped(t *testing.T) {
	f := newFixture(t)
	off := false
	require.NoError(t, f.pm.Register(f.plugin("a")))
	f.pm.Configure(map[string]Settings{"a": {Enabled: &off}})
	require.NoError(t, f.pm.InitAll(context.Background()))
	assert.Empty(t, f.j.list())
	assert.Equal(t, StateDisabled, f.pm.Status()[0].State)
}

func TestInitFailureRollsBackAndContinues(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	bad := f.plugin("bad")
	bad.partial = true
	good := f.plugin("good")
	require.NoError(t, f.pm.Register(bad, good))

	err := f.pm.InitAll(context.Background())
	assert.ErrorContains(t, err, "half way")

	servers := f.reg.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "good", servers[0].Name)

	st := f.pm.Status()
	assert.Equal(t, StateFailed, st[0].State)
	assert.Equal(t, "half way", st[0].Err)
	assert.Equal(t, StateRunning, st[1].State)
	assert.Equal(t, []string{EventInitFailed, EventInit}, collect(events, 2))
}

func TestInitPanicRecovered(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	p.panicInit = true
	require.NoError(t, f.pm.Register(p))
	err := f.pm.InitAll(context.Background())
	assert.ErrorContains(t, err, "panic")
	assert.Equal(t, StateFailed, f.pm.Status()[0].State)
}

func TestCapabilityAllowlist(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	f.pm.Configure(map[string]Settings{"p": {Allow: []string{CapStorageRead}}})
	require.NoError(t, f.pm.InitAll(context.Background()))

	deps := p.gotDeps()
	assert.Nil(t, deps.A2A, "denied a2a.register looks like no registry")
	assert.Empty(t, f.reg.Servers())
	require.NotNil(t, deps.Store)
	got, err := deps.Store.ListNotifications(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NotNil(t, deps.Events)
	err = deps.Events.EmitCustom(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestStoreWithheldWithoutStorageRead(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	f.pm.Configure(map[string]Settings{"p": {Allow: []string{CapEventsEmit}}})
	require.NoError(t, f.pm.InitAll(context.Background()))
	assert.Nil(t, p.gotDeps().Store)
	assert.NoError(t, p.gotDeps().Events.EmitCustom(context.Background(), "x", nil))
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	f.pm.Configure(map[string]Settings{"p": {Config: json.RawMessage(`{"a":1}`)}})
	require.NoError(t, f.pm.InitAll(context.Background()))
	ctx := context.Background()

	// Same config modulo whitespace is not a change.
	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{"p": {Config: json.RawMessage(`{ "a": 1 }`)}}))
	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{"p": {Config: json.RawMessage(`{"a":2}`), Allow: []string{CapA2ARegister}}}))
	p.mu.Lock()
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, p.configs)
	p.mu.Unlock()

	// Allowlist updates in place.
	assert.ErrorIs(t, p.gotDeps().Events.EmitCustom(ctx, "x", nil), ErrCapabilityDenied)

	off := false
	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{"p": {Enabled: &off}}))
	assert.Equal(t, StateDisabled, f.pm.Status()[0].State)
	assert.Empty(t, f.reg.Servers())

	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{}))
	assert.Equal(t, StateRunning, f.pm.Status()[0].State)
	assert.Equal(t, []string{"init:p", "shutdown:p", "init:p"}, f.j.list())
}

func TestReconfigureRevokesToolRegistration(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	require.NoError(t, f.pm.InitAll(context.Background()))
	ctx := context.Background()
	require.Len(t, f.reg.Servers(), 1)

	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{"p": {Allow: []string{CapEventsEmit}}}))
	assert.Empty(t, f.reg.Servers())
	_, err := f.reg.Call(ctx, "p", "p", nil)
	assert.ErrorIs(t, err, a2a.ErrUnknownTool)
	assert.Nil(t, p.gotDeps().A2A)
	assert.Equal(t, StateRunning, f.pm.Status()[0].State)
	assert.Equal(t, []string{"init:p", "shutdown:p", "init:p"}, f.j.list())
}

func TestReconfigureGrantsToolRegistration(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	f.pm.Configure(map[string]Settings{"p": {Allow: []string{CapEventsEmit}}})
	require.NoError(t, f.pm.InitAll(context.Background()))
	ctx := context.Background()
	require.Empty(t, f.reg.Servers())

	require.NoError(t, f.pm.Reconfigure(ctx, map[string]Settings{}))
	require.Len(t, f.reg.Servers(), 1)
	res, err := f.reg.Call(ctx, "p", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.NotNil(t, p.gotDeps().Store)
}

func TestReconfigureGrantsStorageRead(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	f.pm.Configure(map[string]Settings{"p": {Allow: []string{CapA2ARegister}}})
	require.NoError(t, f.pm.InitAll(context.Background()))
	require.Nil(t, p.gotDeps().Store)

	require.NoError(t, f.pm.Reconfigure(context.Background(), map[string]Settings{"p": {Allow: []string{CapA2ARegister, CapStorageRead}}}))
	require.NotNil(t, p.gotDeps().Store)
	items, err := p.gotDeps().Store.ListNotifications(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, f.reg.Servers(), 1)
}

func TestAllowlistOnlyChangeSkipsOnConfigChange(t *testing.T) {
	f := newFixture(t)
	p := f.plugin("p")
	require.NoError(t, f.pm.Register(p))
	cfg := json.RawMessage(`{"a":1}`)
	f.pm.Configure(map[string]Settings{"p": {Config: cfg}})
	require.NoError(t, f.pm.InitAll(context.Background()))

	// Revoking storage.read is enforced in place: no restart, no config call.
	require.NoError(t, f.pm.Reconfigure(context.Background(), map[string]Settings{"p": {Config: cfg, Allow: []string{CapA2ARegister, CapEventsEmit}}}))
	p.mu.Lock()
	assert.Equal(t, []string{`{"a":1}`}, p.configs)
	p.mu.Unlock()
	assert.Equal(t, []string{"init:p"}, f.j.list())
	_, err := p.gotDeps().Store.ListNotifications(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCapabilityDenied)
}

func TestNoHostPortsGiveNilDeps(t *testing.T) {
	pm := NewManager(logx.Nop(), Host{})
	p := &fakePlugin{name: "p", j: &journal{}, server: true}
	require.NoError(t, pm.Register(p))
	require.NoError(t, pm.InitAll(context.Background()))
	deps := p.gotDeps()
	assert.Nil(t, deps.A2A)
	assert.Nil(t, deps.Events)
	assert.Nil(t, deps.Store)
}

func TestDecodePluginConfig(t *testing.T) {
	type cfg struct {
		Channel string `json:"channel"`
	}
	got, err := DecodePluginConfig[cfg](json.RawMessage(`{"channel":"ops"}`))
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Channel)

	got, err = DecodePluginConfig[cfg](nil)
	require.NoError(t, err)
	assert.Equal(t, cfg{}, got)

	_, err = DecodePluginConfig[cfg](json.RawMessage(`[`))
	assert.Error(t, err)
}
