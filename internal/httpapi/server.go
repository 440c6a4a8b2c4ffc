package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"woprnotify/internal/config"
	logx "woprnotify/pkg/logx"
)

// Server owns the listener lifecycle.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
}

func NewServer(log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "http"))}
}

// Listen binds cfg.Addr. Serve must be called afterwards.
func (s *Server) Listen(cfg config.HTTPConfig, h http.Handler) error {
	readTimeout, err := config.ParseDurationOrDefault("http.read_timeout", cfg.ReadTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := config.ParseDurationOrDefault("http.write_timeout", cfg.WriteTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.srv = &http.Server{
		Handler:           h,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	return nil
}

// Serve blocks until Shutdown. It returns nil on a clean shutdown.
func (s *Server) Serve(context.Context) error {
	s.mu.Lock()
	srv, ln, addr := s.srv, s.ln, s.addr
	s.mu.Unlock()
	if srv == nil {
		return errors.New("http: Listen not called")
	}
	s.log.Info("http api listening", logx.String("addr", addr))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	// srv is kept so a late Serve sees ErrServerClosed.
	s.mu.Lock()
	srv := s.srv
	addr := s.addr
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
		return err
	}
	s.log.Info("http api stopped", logx.String("addr", addr))
	return nil
}

// Addr reports the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
