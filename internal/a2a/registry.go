package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	logx "woprnotify/pkg/logx"
)

const tracerName = "woprnotify/a2a"

// Observer receives one observation per finished tool call.
type Observer interface {
	ObserveToolCall(server, tool, outcome string, took time.Duration)
}

type Option func(*Registry)

func WithObserver(o Observer) Option { return func(r *Registry) { r.obs = o } }

func WithTracer(t trace.Tracer) Option { return func(r *Registry) { r.tracer = t } }

// Registry holds the A2A servers registered by plugins.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerConfig

	log    logx.Logger
	obs    Observer
	tracer trace.Tracer
}

func NewRegistry(log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{servers: map[string]ServerConfig{}, log: log}
	for _, o := range opts {
		o(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// RegisterA2AServer adds a server and its tools.
func (r *Registry) RegisterA2AServer(cfg ServerConfig) error {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return errors.New("a2a: server name required")
	}
	seen := make(map[string]struct{}, len(cfg.Tools))
	for _, t := range cfg.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("a2a: server %q: tool name required", name)
		}
		if t.Handler == nil {
			return fmt.Errorf("a2a: server %q: tool %q has no handler", name, t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("a2a: server %q: duplicate tool %q", name, t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[name]; exists {
		return fmt.Errorf("a2a: server %q already registered", name)
	}
	cfg.Name = name
	cfg.Tools = append([]Tool(nil), cfg.Tools...)
	r.servers[name] = cfg
	r.log.Info("a2a server registered", logx.String("server", name), logx.String("version", cfg.Version), logx.Int("tools", len(cfg.Tools)))
	return nil
}

// Unregister removes a server. It reports whether the server existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[name]; !ok {
		return false
	}
	delete(r.servers, name)
	return true
}

// Servers returns a snapshot sorted by server name.
func (r *Registry) Servers() []ServerConfig {
	r.mu.RLock()
	out := make([]ServerConfig, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Tool(server, tool string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[server]
	if !ok {
		return Tool{}, false
	}
	for _, t := range s.Tools {
		if t.Name == tool {
			return t, true
		}
	}
	return Tool{}, false
}

// Call invokes server/tool with args. Handler errors are returned unchanged.
func (r *Registry) Call(ctx context.Context, server, tool string, args json.RawMessage) (Result, error) {
	t, ok := r.Tool(server, tool)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s/%s", ErrUnknownTool, server, tool)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	ctx, span := r.tracer.Start(ctx, "a2a.call", trace.WithAttributes(
		attribute.String("a2a.server", server),
		attribute.String("a2a.tool", tool),
	))
	defer span.End()

	start := time.Now()
	res, err := t.Handler(ctx, args)
	took := time.Since(start)

	outcome := Outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		r.log.Debug("a2a tool call failed", logx.String("server", server), logx.String("tool", tool), logx.String("outcome", outcome), logx.Err(err))
	}
	if r.obs != nil {
		r.obs.ObserveToolCall(server, tool, outcome, took)
	}
	return res, err
}

// Outcome classifies a tool call error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
