package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"woprnotify/internal/a2a"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/storage"
)

// Capability names.
//
// This is an operational guardrail only (plugins are in-process).
// Capabilities are enforced by wrapping the ports passed via Deps.
const (
	CapEventsEmit  = "events.emit"
	CapA2ARegister = "a2a.register"
	CapStorageRead = "storage.read"
)

var ErrCapabilityDenied = errors.New("capability denied")

// capRef is a mutable capability set shared by wrappers so allowlists can be
// hot-reloaded without re-initializing plugins.
type capRef struct {
	mu       sync.RWMutex
	allowAll bool
	set      map[string]struct{}
}

func newCapRef(allow []string) *capRef {
	r := &capRef{}
	r.Update(allow)
	return r
}

func (r *capRef) Update(allow []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(allow) == 0 {
		r.allowAll = true
		r.set = nil
		return
	}
	r.allowAll = false
	m := make(map[string]struct{}, len(allow))
	for _, s := range allow {
		if s == "" {
			continue
		}
		m[s] = struct{}{}
	}
	r.set = m
}

func (r *capRef) Allows(cap string) bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.allowAll {
		return true
	}
	_, ok := r.set[cap]
	return ok
}

func deny(cap string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityDenied, cap)
}

// --- Wrapped ports ---

type capEmitter struct {
	inner eventbus.Emitter
	caps  *capRef
}

func (e *capEmitter) EmitCustom(ctx context.Context, typ string, payload any) error {
	if !e.caps.Allows(CapEventsEmit) {
		return deny(CapEventsEmit)
	}
	return e.inner.EmitCustom(ctx, typ, payload)
}

// capRegistrar records which servers a plugin owns so the manager can
// unregister them on shutdown.
type capRegistrar struct {
	inner ToolHost
	caps  *capRef

	mu    sync.Mutex
	owned []string
}

func (r *capRegistrar) RegisterA2AServer(cfg a2a.ServerConfig) error {
	if !r.caps.Allows(CapA2ARegister) {
		return deny(CapA2ARegister)
	}
	if err := r.inner.RegisterA2AServer(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	r.owned = append(r.owned, cfg.Name)
	r.mu.Unlock()
	return nil
}

// release unregisters every owned server and returns their names.
func (r *capRegistrar) release() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	owned := r.owned
	r.owned = nil
	r.mu.Unlock()
	for _, name := range owned {
		r.inner.Unregister(name)
	}
	return owned
}

func (r *capRegistrar) servers() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.owned...)
}

type capReader struct {
	inner storage.Reader
	caps  *capRef
}

func (s *capReader) ListNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	if !s.caps.Allows(CapStorageRead) {
		return nil, deny(CapStorageRead)
	}
	return s.inner.ListNotifications(ctx, limit)
}
