package notify

import (
	"context"
	"encoding/json"

	"woprnotify/internal/a2a"
	"woprnotify/internal/notify"
)

const ToolName = "notify"

// Tools describes the A2A server exposing the notify tool.
func Tools(d *notify.Dispatcher) a2a.ServerConfig {
	return a2a.ServerConfig{
		Name:    Name,
		Version: Version,
		Tools: []a2a.Tool{{
			Name:        ToolName,
			Description: "Send a notification to configured channels.",
			InputSchema: a2a.InputSchema{
				Type: "object",
				Properties: map[string]a2a.Property{
					"message": {Type: "string", Description: "Notification message"},
					"level":   {Type: "string", Description: "Level: info, warn, error"},
					"channel": {Type: "string", Description: "Specific channel to notify"},
				},
				Required: []string{"message"},
			},
			Handler: func(ctx context.Context, args json.RawMessage) (a2a.Result, error) {
				return d.DispatchArgs(ctx, args)
			},
		}},
	}
}
