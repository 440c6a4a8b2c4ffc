// Package httpapi serves the tool-call HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"woprnotify/internal/a2a"
	"woprnotify/internal/config"
	"woprnotify/internal/metrics"
	"woprnotify/internal/plugin"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

const maxBodyBytes = 1 << 20

// StatusClientClosedRequest is nginx's non-standard code for a request the
// client abandoned before the response.
const StatusClientClosedRequest = 499

// Tools is the registry surface the API exposes.
type Tools interface {
	Servers() []a2a.ServerConfig
	Call(ctx context.Context, server, tool string, args json.RawMessage) (a2a.Result, error)
}

// Options wires the router. History, Metrics and Health may be nil.
type Options struct {
	Config  config.HTTPConfig
	Tools   Tools
	History storage.Reader
	Metrics *metrics.Metrics
	Health  func() any
	Log     logx.Logger
}

type api struct {
	tools   Tools
	history storage.Reader
	health  func() any
	log     logx.Logger
}

// NewRouter builds the handler tree.
func NewRouter(opts Options) http.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{tools: opts.Tools, history: opts.History, health: opts.Health, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts.Config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.Config.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(accessLog(log, opts.Metrics))

	r.Get("/healthz", a.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.Config.RatePerSec, opts.Config.Burst))
		if opts.Config.JWTSecret != "" {
			r.Use(jwtAuth([]byte(opts.Config.JWTSecret)))
		}
		r.Get("/a2a/servers", a.listServers)
		r.Post("/a2a/{server}/tools/{tool}", a.callTool)
		r.Get("/notifications", a.listNotifications)
	})

	return otelhttp.NewHandler(r, "notifyd.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.health != nil {
		body["detail"] = a.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) listServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": a.tools.Servers()})
}

func (a *api) callTool(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	tool := chi.URLParam(r, "tool")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("request body is not valid JSON"))
		return
	}

	res, err := a.tools.Call(r.Context(), server, tool, body)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			a.log.Warn("tool call failed",
				logx.String("server", server),
				logx.String("tool", tool),
				logx.String("request_id", middleware.GetReqID(r.Context())),
				logx.Err(err),
			)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) listNotifications(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrDisabled)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	items, err := a.history.ListNotifications(r.Context(), limit)
	if err != nil {
		writeError(w, StatusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, a2a.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, a2a.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrCapabilityDenied):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
