package app

import (
	"context"
	"slices"
	"strings"

	"woprnotify/internal/config"
	"woprnotify/internal/observability/pprof"
	"woprnotify/internal/schedule"
	logx "woprnotify/pkg/logx"
)

// Sections that are only read at startup.
var restartSections = []string{"events", "storage", "http", "mcp", "tracing"}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	if slices.Contains(sections, "logging") && a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if slices.Contains(sections, "schedules") {
		entries, err := schedule.FromConfig(newCfg.Schedules)
		if err == nil {
			err = a.sched.Apply(entries)
		}
		if err != nil {
			a.log.Warn("schedules not reloaded", logx.Err(err))
		} else {
			a.log.Info("schedules reloaded", logx.Int("count", len(entries)))
		}
	}
	if slices.Contains(sections, "pprof") {
		if err := a.pprof.Reconfigure(ctx, pprof.FromConfig(newCfg.Pprof)); err != nil {
			a.log.Warn("pprof not reconfigured", logx.Err(err))
		}
	}
	if len(pluginChanged) > 0 {
		if err := a.pm.Reconfigure(ctx, newCfg.Plugins); err != nil {
			a.log.Warn("plugin reconfigure failed", logx.Any("plugins", pluginChanged), logx.Err(err))
		} else {
			a.log.Info("plugins reconfigured", logx.Any("plugins", pluginChanged))
		}
	}
	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required to apply", logx.String("section", s))
		}
	}
}
