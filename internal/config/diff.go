package config

import (
	"reflect"
	"sort"
	"strings"

	logx "woprnotify/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe attrs
// for logging (never secrets) and (3) the plugins whose block changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		attrs = append(attrs, logx.String("events.driver", newCfg.Events.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	// Compare HTTP without the secret, then report only whether it is set.
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	secretChanged := oh.JWTSecret != nh.JWTSecret
	oh.JWTSecret, nh.JWTSecret = "", ""
	if secretChanged || !reflect.DeepEqual(oh, nh) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", nh.Addr),
			logx.Bool("http.auth", strings.TrimSpace(newCfg.HTTP.JWTSecret) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.MCP, newCfg.MCP) {
		changed = append(changed, "mcp")
	}
	if !reflect.DeepEqual(oldCfg.Tracing, newCfg.Tracing) {
		changed = append(changed, "tracing")
		attrs = append(attrs, logx.Bool("tracing.enabled", newCfg.Tracing.Endpoint != ""))
	}
	op, np := oldCfg.Pprof, newCfg.Pprof
	tokenChanged := op.Token != np.Token
	op.Token, np.Token = "", ""
	if tokenChanged || op != np {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np.Enabled),
			logx.String("pprof.addr", np.Addr),
			logx.Bool("pprof.token_set", newCfg.Pprof.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}

	var plugins []string
	names := map[string]struct{}{}
	for n := range oldCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range newCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range names {
		o, ook := oldCfg.Plugins[n]
		c, cok := newCfg.Plugins[n]
		if ook != cok || o.IsEnabled() != c.IsEnabled() ||
			!reflect.DeepEqual(o.Allow, c.Allow) || string(o.Config) != string(c.Config) {
			plugins = append(plugins, n)
		}
	}
	sort.Strings(plugins)
	if len(plugins) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs, logx.String("plugins.changed", strings.Join(plugins, ",")))
	}
	return changed, attrs, plugins
}
