package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woprnotify/internal/a2a"
	"woprnotify/internal/config"
	"woprnotify/internal/metrics"
	"woprnotify/internal/plugin"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

type fakeTools struct {
	lastArgs string
	err      error
}

func (f *fakeTools) Servers() []a2a.ServerConfig {
	return []a2a.ServerConfig{{Name: "notify", Version: "1.0.0", Tools: []a2a.Tool{{Name: "notify", InputSchema: a2a.InputSchema{Type: "object"}}}}}
}

func (f *fakeTools) Call(_ context.Context, server, tool string, args json.RawMessage) (a2a.Result, error) {
	f.lastArgs = string(args)
	if f.err != nil {
		return a2a.Result{}, f.err
	}
	if server != "notify" || tool != "notify" {
		return a2a.Result{}, fmt.Errorf("%w: %s/%s", a2a.ErrUnknownTool, server, tool)
	}
	return a2a.TextResult("Notification sent: [INFO] hi"), nil
}

type fakeHistory struct{ gotLimit int }

func (f *fakeHistory) ListNotifications(_ context.Context, limit int) ([]storage.Notification, error) {
	f.gotLimit = limit
	return []storage.Notification{{ID: "1", Message: "hi", Level: "info"}}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Options{Tools: &fakeTools{}, Health: func() any { return map[string]int{"plugins": 1} }})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","detail":{"plugins":1}}`, rec.Body.String())
}

func TestListServers(t *testing.T) {
	h := NewRouter(Options{Tools: &fakeTools{}})
	rec := do(t, h, http.MethodGet, "/a2a/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"notify"`)
	assert.Contains(t, rec.Body.String(), `"inputSchema"`)
}

func TestCallTool(t *testing.T) {
	ft := &fakeTools{}
	h := NewRouter(Options{Tools: ft})
	rec := do(t, h, http.MethodPost, "/a2a/notify/tools/notify", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"Notification sent: [INFO] hi"}]}`, rec.Body.String())
	assert.Equal(t, `{"message":"hi"}`, ft.lastArgs)
}

func TestCallToolErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		path   string
		body   string
		status int
	}{
		{"unknown", nil, "/a2a/nope/tools/x", `{}`, http.StatusNotFound},
		{"malformed body", nil, "/a2a/notify/tools/notify", `{`, http.StatusBadRequest},
		{"invalid argument", fmt.Errorf("%w: message is required", a2a.ErrInvalidArgument), "/a2a/notify/tools/notify", `{}`, http.StatusBadRequest},
		{"denied", fmt.Errorf("%w: events.emit", plugin.ErrCapabilityDenied), "/a2a/notify/tools/notify", `{"message":"m"}`, http.StatusForbidden},
		{"downstream", errors.New("bus down"), "/a2a/notify/tools/notify", `{"message":"m"}`, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRouter(Options{Tools: &fakeTools{err: tc.err}})
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestNotifications(t *testing.T) {
	fh := &fakeHistory{}
	h := NewRouter(Options{Tools: &fakeTools{}, History: fh})
	rec := do(t, h, http.MethodGet, "/notifications?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, fh.gotLimit)
	assert.Contains(t, rec.Body.String(), `"message":"hi"`)

	rec = do(t, h, http.MethodGet, "/notifications?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, NewRouter(Options{Tools: &fakeTools{}}), http.MethodGet, "/notifications", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func signed(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth(t *testing.T) {
	h := NewRouter(Options{Tools: &fakeTools{}, Config: config.HTTPConfig{JWTSecret: "s3cret"}})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code, "healthz stays open")
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/a2a/servers", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/a2a/servers", "", "Authorization", "Bearer junk").Code)

	wrong := signed(t, "other", time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/a2a/servers", "", "Authorization", "Bearer "+wrong).Code)

	expired := signed(t, "s3cret", time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/a2a/servers", "", "Authorization", "Bearer "+expired).Code)

	good := signed(t, "s3cret", time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/a2a/servers", "", "Authorization", "Bearer "+good).Code)
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(Options{Tools: &fakeTools{}, Config: config.HTTPConfig{RatePerSec: 0.001, Burst: 2}})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/a2a/servers", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/a2a/servers", "").Code)
	rec := do(t, h, http.MethodGet, "/a2a/servers", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	h := NewRouter(Options{Tools: &fakeTools{}, Config: config.HTTPConfig{CORSOrigins: []string{"https://ops.example"}}})
	rec := do(t, h, http.MethodGet, "/healthz", "", "Origin", "https://ops.example")
	assert.Equal(t, "https://ops.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	h := NewRouter(Options{Tools: &fakeTools{}, Metrics: m, Log: logx.Nop()})
	do(t, h, http.MethodPost, "/a2a/notify/tools/notify", `{"message":"hi"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `notifyd_http_requests_total{method="POST",path="/a2a/{server}/tools/{tool}",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(storage.ErrDisabled))
	assert.Equal(t, StatusClientClosedRequest, StatusFor(context.Canceled))
	assert.Equal(t, StatusClientClosedRequest, StatusFor(fmt.Errorf("emit: %w", context.Canceled)))
}

func TestCanceledCallIsNotLoggedAsFailure(t *testing.T) {
	var buf bytes.Buffer
	h := NewRouter(Options{
		Tools: &fakeTools{err: fmt.Errorf("emit: %w", context.Canceled)},
		Log:   logx.NewWriter(&buf, "debug"),
	})
	rec := do(t, h, http.MethodPost, "/a2a/notify/tools/notify", `{"message":"m"}`)
	assert.Equal(t, StatusClientClosedRequest, rec.Code)
	assert.NotContains(t, buf.String(), "tool call failed")

	buf.Reset()
	h = NewRouter(Options{
		Tools: &fakeTools{err: errors.New("bus down")},
		Log:   logx.NewWriter(&buf, "debug"),
	})
	rec = do(t, h, http.MethodPost, "/a2a/notify/tools/notify", `{"message":"m"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, buf.String(), "tool call failed")
}

func TestServerLifecycle(t *testing.T) {
	s := NewServer(logx.Nop())
	require.NoError(t, s.Listen(config.HTTPConfig{Addr: "127.0.0.1:0"}, NewRouter(Options{Tools: &fakeTools{}})))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
	assert.Empty(t, s.Addr())
}
