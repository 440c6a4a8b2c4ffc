// Package notify is the notification plugin. It exposes one A2A tool that
// logs the message and emits a notification:send event for whatever channel
// adapters are listening.
package notify

import (
	"context"
	"errors"

	"woprnotify/internal/notify"
	"woprnotify/internal/plugin"
)

const (
	Name    = "notify"
	Version = "1.0.0"
)

type Plugin struct {
	plugin.Base
	dispatcher *notify.Dispatcher
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string    { return Name }
func (p *Plugin) Version() string { return Version }
func (p *Plugin) Description() string {
	return "Notification plugin: sends notifications to configured channels via A2A tool"
}

func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error {
	p.InitBase(deps, Name)
	if deps.Events == nil {
		return errors.New("notify: event emitter not available")
	}
	p.dispatcher = notify.NewDispatcher(p.Log, deps.Events)

	// Registration is best-effort: hosts without a tool registry still get
	// an initialized plugin.
	if deps.A2A != nil {
		if err := deps.A2A.RegisterA2AServer(Tools(p.dispatcher)); err != nil {
			return err
		}
	}
	p.Log.Info("Notify plugin initialized")
	return nil
}

// Shutdown holds no resources.
func (p *Plugin) Shutdown(context.Context) error { return nil }

// Dispatcher returns the dispatcher built by Init, or nil before Init.
func (p *Plugin) Dispatcher() *notify.Dispatcher { return p.dispatcher }
