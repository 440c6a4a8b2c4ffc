// Package app wires the notify plugin host: config, logging, event bus,
// history store, tool registry, plugins, schedules and the serving surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"woprnotify/internal/a2a"
	"woprnotify/internal/config"
	"woprnotify/internal/eventbus"
	"woprnotify/internal/httpapi"
	"woprnotify/internal/metrics"
	"woprnotify/internal/notify"
	"woprnotify/internal/observability/pprof"
	"woprnotify/internal/plugin"
	"woprnotify/internal/runtime/supervisor"
	"woprnotify/internal/schedule"
	"woprnotify/internal/storage"
	"woprnotify/internal/tracing"
	logx "woprnotify/pkg/logx"
	notifyplugin "woprnotify/plugins/notify"
)

// Option customizes New.
type Option func(*options)

type options struct {
	version string
	stdin   io.Reader
	stdout  io.Writer
	oneshot bool
	plugins []plugin.Plugin
}

// WithVersion sets the build version reported to tracing and MCP.
func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithStdio replaces os.Stdin/os.Stdout for the MCP stdio server.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(o *options) { o.stdin, o.stdout = in, out }
}

// Oneshot starts plugins only: no HTTP, MCP, schedules or config watch.
// Logs go to stderr.
func Oneshot() Option { return func(o *options) { o.oneshot = true } }

// WithPlugins registers extra plugins after the built-in notify plugin.
func WithPlugins(ps ...plugin.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, ps...) }
}

type App struct {
	opts options

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	metrics *metrics.Metrics
	reg     *a2a.Registry
	pm      *plugin.Manager
	sched   *schedule.Scheduler
	http    *httpapi.Server
	pprof   *pprof.Service

	offRecorder   func()
	traceShutdown tracing.Shutdown
	stopOnce      sync.Once
}

// New loads the config at cfgPath (empty means defaults plus environment)
// and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{version: "dev", stdin: os.Stdin, stdout: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	lc := mapLogConfig(cfg)
	if o.oneshot {
		// stdout carries command output.
		lc.Output = "stderr"
	}
	logSvc, log := logx.New(lc)
	appLog := log.With(logx.String("comp", "app"))

	cleanup := func(closers ...func() error) {
		for _, c := range closers {
			if c != nil {
				_ = c()
			}
		}
		_ = logSvc.Close()
	}

	bus, err := eventbus.Open(ctx, mapEventsConfig(cfg), log.With(logx.String("comp", "eventbus")))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("event bus: %w", err)
	}

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		cleanup(bus.Close)
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			cleanup(bus.Close)
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	m := metrics.New()
	reg := a2a.NewRegistry(log, a2a.WithObserver(m))

	host := plugin.Host{Bus: bus, Tools: reg}
	if store != nil {
		host.Store = store
	}
	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")), host)
	plugins := append([]plugin.Plugin{notifyplugin.New()}, o.plugins...)
	if err := pm.Register(plugins...); err != nil {
		cleanup(bus.Close, closerOf(store))
		return nil, err
	}
	pm.Configure(cfg.Plugins)
	if err := pm.ValidateConfig(ctx, cfg.Plugins); err != nil {
		cleanup(bus.Close, closerOf(store))
		return nil, err
	}

	sched := schedule.New(reg, log)
	entries, err := schedule.FromConfig(cfg.Schedules)
	if err == nil {
		err = sched.Apply(entries)
	}
	if err != nil {
		cleanup(bus.Close, closerOf(store))
		return nil, err
	}

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(reloadValidator(pm))

	return &App{
		opts:    o,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: m,
		reg:     reg,
		pm:      pm,
		sched:   sched,
		http:    httpapi.NewServer(log),
		pprof:   pprof.New(log),
	}, nil
}

func closerOf(s storage.Store) func() error {
	if s == nil {
		return nil
	}
	return s.Close
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Registry() *a2a.Registry { return a.reg }

func (a *App) Plugins() *plugin.Manager { return a.pm }

func (a *App) Scheduler() *schedule.Scheduler { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// History returns the notification store, or nil when storage is disabled.
func (a *App) History() storage.Reader {
	if a.store == nil {
		return nil
	}
	return a.store
}

// HTTPAddr is the bound API address, or "" when the API is off.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Health is the /healthz detail body.
type Health struct {
	Storage   string                 `json:"storage"`
	Events    string                 `json:"events"`
	Plugins   []plugin.Status        `json:"plugins"`
	Schedules []schedule.Status      `json:"schedules"`
	Tasks     []supervisor.TaskStats `json:"tasks"`
	Pprof     string                 `json:"pprof,omitempty"`
}

func (a *App) Health() Health {
	cfg := a.cfgm.Get()
	h := Health{
		Storage:   "none",
		Events:    "memory",
		Plugins:   a.pm.Status(),
		Schedules: a.sched.Snapshot(),
	}
	if cfg != nil {
		if cfg.Storage.Driver != "" {
			h.Storage = cfg.Storage.Driver
		}
		if cfg.Events.Driver != "" {
			h.Events = cfg.Events.Driver
		}
	}
	if a.sup != nil {
		h.Tasks = a.sup.Snapshot()
	}
	h.Pprof = a.pprof.Addr()
	return h
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing, a.opts.version, a.log)
	if err != nil {
		return err
	}
	a.traceShutdown = shutdown

	if a.store != nil {
		a.offRecorder = a.bus.On(notify.EventSend, historyRecorder(a.store, a.log.With(logx.String("comp", "history"))))
	}
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("eventbus.watch", func(c context.Context) error {
		defer unsub()
		return watchEvents(c, events, a.metrics, a.log)
	})

	if err := a.pm.InitAll(a.sup.Context()); err != nil {
		// Failed plugins are rolled back individually.
		a.log.Warn("some plugins failed to initialize", logx.Err(err))
	}

	if a.opts.oneshot {
		a.log.Info("started", logx.Bool("oneshot", true))
		return nil
	}

	if cfg.HTTP.Enabled {
		h := httpapi.NewRouter(httpapi.Options{
			Config:  cfg.HTTP,
			Tools:   a.reg,
			History: a.History(),
			Metrics: a.metrics,
			Health:  func() any { return a.Health() },
			Log:     a.log,
		})
		if err := a.http.Listen(cfg.HTTP, h); err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
		a.sup.Go("http.serve", a.http.Serve)
	}

	if cfg.MCP.Enabled {
		s := a2a.NewMCPServer(a.reg, cfg.MCP.Name, a.opts.version)
		a.sup.Go("mcp.stdio", func(c context.Context) error {
			err := a2a.ServeStdio(c, s, a.opts.stdin, a.opts.stdout, a.log)
			if err == nil && c.Err() == nil {
				a.log.Info("mcp client disconnected", logx.String("reason", string(StopClientClosed)))
				a.sup.Cancel()
			}
			return err
		})
	}

	if err := a.pprof.Reconfigure(ctx, pprof.FromConfig(cfg.Pprof)); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error { return a.reloadLoop(c, sub) })
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.log.Info("started",
		logx.Bool("http", cfg.HTTP.Enabled),
		logx.Bool("mcp", cfg.MCP.Enabled),
		logx.Int("schedules", len(cfg.Schedules)),
	)
	return nil
}

// Stop shuts everything down in reverse dependency order. Safe to call twice.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	var errs []error

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	httpTimeout := 5 * time.Second
	if cfg := a.cfgm.Get(); cfg != nil {
		if d, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, httpTimeout); err == nil {
			httpTimeout = d
		}
	}
	step("http", httpTimeout, a.http.Shutdown)
	step("schedules", 2*time.Second, a.sched.Stop)
	step("pprof", time.Second, a.pprof.Stop)

	if a.sup != nil {
		a.sup.Cancel()
	}
	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.ShutdownAll(c, string(reason)); return nil })
	if a.offRecorder != nil {
		a.offRecorder()
	}
	step("eventbus", time.Second, func(context.Context) error { return a.bus.Close() })
	step("storage", time.Second, func(context.Context) error { return closeStore(a.store) })
	if a.traceShutdown != nil {
		step("tracing", 2*time.Second, func(c context.Context) error { return a.traceShutdown(c) })
	}
	if a.sup != nil {
		// A fatal task error is already reported through Err.
		step("supervisor", 2*time.Second, func(c context.Context) error {
			if err := a.sup.Wait(c); err != nil && c.Err() != nil {
				return err
			}
			return nil
		})
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func closeStore(s storage.Store) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
