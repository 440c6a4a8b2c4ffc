package plugin

import "woprnotify/internal/config"

// Settings is the per-plugin config block. It lives in the config package to
// keep the schema centralized.
type Settings = config.PluginConfig
