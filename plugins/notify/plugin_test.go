package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woprnotify/internal/a2a"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/plugin"
	logx "woprnotify/pkg/logx"
)

type emitted struct {
	name    string
	payload any
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []emitted
	err   error
}

func (e *fakeEmitter) EmitCustom(_ context.Context, name string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, emitted{name: name, payload: payload})
	return e.err
}

type fakeRegistrar struct {
	servers []a2a.ServerConfig
}

func (r *fakeRegistrar) RegisterA2AServer(cfg a2a.ServerConfig) error {
	r.servers = append(r.servers, cfg)
	return nil
}

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Plugin  string `json:"plugin"`
}

func parseLogs(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var out []logLine
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var l logLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

type harness struct {
	p    *Plugin
	buf  *bytes.Buffer
	em   *fakeEmitter
	reg  *fakeRegistrar
	tool a2a.Tool
}

func setup(t *testing.T) *harness {
	t.Helper()
	h := &harness{p: New(), buf: &bytes.Buffer{}, em: &fakeEmitter{}, reg: &fakeRegistrar{}}
	deps := plugin.Deps{Logger: logx.NewWriter(h.buf, "debug"), Events: h.em, A2A: h.reg}
	require.NoError(t, h.p.Init(context.Background(), deps))
	require.Len(t, h.reg.servers, 1)
	require.Len(t, h.reg.servers[0].Tools, 1)
	h.tool = h.reg.servers[0].Tools[0]
	h.buf.Reset()
	return h
}

func (h *harness) call(t *testing.T, args string) (a2a.Result, error) {
	t.Helper()
	return h.tool.Handler(context.Background(), json.RawMessage(args))
}

func TestPluginMetadata(t *testing.T) {
	p := New()
	assert.Equal(t, "notify", p.Name())
	assert.Equal(t, "1.0.0", p.Version())
	assert.Contains(t, p.Description(), "Notification")
}

func TestInitRegistersServer(t *testing.T) {
	h := setup(t)
	srv := h.reg.servers[0]
	assert.Equal(t, "notify", srv.Name)
	assert.Equal(t, "1.0.0", srv.Version)
	assert.Equal(t, "notify", h.tool.Name)
	assert.NotNil(t, h.p.Dispatcher())
}

func TestInitWithoutRegistrar(t *testing.T) {
	var buf bytes.Buffer
	p := New()
	err := p.Init(context.Background(), plugin.Deps{Logger: logx.NewWriter(&buf, "debug"), Events: &fakeEmitter{}})
	require.NoError(t, err)
	logs := parseLogs(t, &buf)
	require.Len(t, logs, 1)
	assert.Equal(t, "Notify plugin initialized", logs[0].Message)
}

func TestInitLogsInfo(t *testing.T) {
	var buf bytes.Buffer
	p := New()
	require.NoError(t, p.Init(context.Background(), plugin.Deps{Logger: logx.NewWriter(&buf, "debug"), Events: &fakeEmitter{}, A2A: &fakeRegistrar{}}))
	logs := parseLogs(t, &buf)
	require.Len(t, logs, 1)
	assert.Equal(t, logLine{Level: "info", Message: "Notify plugin initialized", Plugin: "notify"}, logs[0])
}

func TestInitRequiresEmitter(t *testing.T) {
	err := New().Init(context.Background(), plugin.Deps{Logger: logx.Nop()})
	assert.ErrorContains(t, err, "emitter")
}

func TestShutdown(t *testing.T) {
	assert.NoError(t, New().Shutdown(context.Background()))
}

func TestToolSchema(t *testing.T) {
	h := setup(t)
	s := h.tool.InputSchema
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, []string{"message"}, s.Required)
	require.Len(t, s.Properties, 3)
	for _, k := range []string{"message", "level", "channel"} {
		assert.Equal(t, "string", s.Properties[k].Type, k)
		assert.NotEmpty(t, s.Properties[k].Description, k)
	}
	assert.Equal(t, "Send a notification to configured channels.", h.tool.Description)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "Notification message"},
			"level":   {"type": "string", "description": "Level: info, warn, error"},
			"channel": {"type": "string", "description": "Specific channel to notify"}
		},
		"required": ["message"]
	}`, string(b))
}

func TestHandlerDefaultLevel(t *testing.T) {
	h := setup(t)
	res, err := h.call(t, `{"message":"Test notification"}`)
	require.NoError(t, err)
	assert.Equal(t, "Notification sent: [INFO] Test notification", res.Text())

	logs := parseLogs(t, h.buf)
	require.Len(t, logs, 1)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, "[NOTIFY] Test notification", logs[0].Message)
}

func TestHandlerLevels(t *testing.T) {
	cases := []struct {
		args, logLevel, text string
	}{
		{`{"message":"Warning!","level":"warn"}`, "warn", "Notification sent: [WARN] Warning!"},
		{`{"message":"Error!","level":"error"}`, "error", "Notification sent: [ERROR] Error!"},
		{`{"message":"Debug msg","level":"debug"}`, "info", "Notification sent: [DEBUG] Debug msg"},
	}
	for _, tc := range cases {
		h := setup(t)
		res, err := h.call(t, tc.args)
		require.NoError(t, err)
		assert.Equal(t, tc.text, res.Text())
		logs := parseLogs(t, h.buf)
		require.Len(t, logs, 1)
		assert.Equal(t, tc.logLevel, logs[0].Level)
	}
}

func TestHandlerEmitsEvent(t *testing.T) {
	h := setup(t)
	_, err := h.call(t, `{"message":"Event test","level":"error","channel":"alerts"}`)
	require.NoError(t, err)
	require.Len(t, h.em.calls, 1)
	assert.Equal(t, "notification:send", h.em.calls[0].name)

	b, err := json.Marshal(h.em.calls[0].payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Event test","level":"error","channel":"alerts"}`, string(b))
}

func TestHandlerOmitsAbsentChannel(t *testing.T) {
	h := setup(t)
	_, err := h.call(t, `{"message":"no channel"}`)
	require.NoError(t, err)
	b, err := json.Marshal(h.em.calls[0].payload)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.NotContains(t, fields, "channel")
	assert.Equal(t, "no channel", fields["message"])
}

func TestHandlerResultShape(t *testing.T) {
	h := setup(t)
	res, err := h.call(t, `{"message":"shape"}`)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
}

func TestHandlerEmitFailure(t *testing.T) {
	h := setup(t)
	boom := errors.New("bus down")
	h.em.err = boom
	_, err := h.call(t, `{"message":"x"}`)
	assert.Same(t, boom, err)
	assert.Len(t, parseLogs(t, h.buf), 1)
}

func TestHandlerInvalidArgs(t *testing.T) {
	h := setup(t)
	_, err := h.call(t, `{"level":"warn"}`)
	assert.ErrorIs(t, err, a2a.ErrInvalidArgument)
	assert.Empty(t, h.em.calls)
	assert.Empty(t, parseLogs(t, h.buf))
}

func TestPluginUnderManager(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	var got []eventbus.Event
	bus.On("notification:send", func(_ context.Context, e eventbus.Event) error {
		got = append(got, e)
		return nil
	})

	reg := a2a.NewRegistry(logx.Nop())
	pm := plugin.NewManager(logx.Nop(), plugin.Host{Bus: bus, Tools: reg})
	require.NoError(t, pm.Register(New()))
	require.NoError(t, pm.InitAll(context.Background()))

	res, err := reg.Call(context.Background(), "notify", "notify", json.RawMessage(`{"message":"hi","level":"warn"}`))
	require.NoError(t, err)
	assert.Equal(t, "Notification sent: [WARN] hi", res.Text())
	require.Len(t, got, 1)

	pm.ShutdownAll(context.Background(), "test")
	_, err = reg.Call(context.Background(), "notify", "notify", json.RawMessage(`{"message":"hi"}`))
	assert.ErrorIs(t, err, a2a.ErrUnknownTool)
}

func TestPluginWithoutBusFailsInit(t *testing.T) {
	pm := plugin.NewManager(logx.Nop(), plugin.Host{Tools: a2a.NewRegistry(logx.Nop())})
	require.NoError(t, pm.Register(New()))
	assert.Error(t, pm.InitAll(context.Background()))
	assert.Equal(t, plugin.StateFailed, pm.Status()[0].State)
}

func TestPluginEmitDenied(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	reg := a2a.NewRegistry(logx.Nop())
	pm := plugin.NewManager(logx.Nop(), plugin.Host{Bus: bus, Tools: reg})
	require.NoError(t, pm.Register(New()))
	pm.Configure(map[string]plugin.Settings{Name: {Allow: []string{plugin.CapA2ARegister}}})
	require.NoError(t, pm.InitAll(context.Background()))

	_, err := reg.Call(context.Background(), "notify", "notify", json.RawMessage(`{"message":"hi"}`))
	assert.ErrorIs(t, err, plugin.ErrCapabilityDenied)
}
