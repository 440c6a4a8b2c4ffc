package main

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"woprnotify/internal/a2a"
	"woprnotify/internal/app"
	"woprnotify/internal/storage"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools registered by enabled plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOneshotApp(cmd, func(_ context.Context, a *app.App) error {
				renderTools(cmd.OutOrStdout(), a.Registry().Servers())
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withOneshotApp(cmd, func(ctx context.Context, a *app.App) error {
				h := a.History()
				if h == nil {
					return errors.New("history: storage is disabled (set storage.driver)")
				}
				items, err := h.ListNotifications(ctx, limit)
				if err != nil {
					return err
				}
				renderHistory(cmd.OutOrStdout(), items)
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", storage.DefaultListLimit, "Maximum rows")
	return cmd
}

func renderTools(w io.Writer, servers []a2a.ServerConfig) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Server", "Version", "Tool", "Arguments", "Description"})
	for _, s := range servers {
		for _, tool := range s.Tools {
			t.AppendRow(table.Row{s.Name, s.Version, tool.Name, toolArgs(tool.InputSchema), tool.Description})
		}
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, WidthMax: 60},
	})
	t.Render()
}

// toolArgs lists properties, marking required ones with '*'.
func toolArgs(s a2a.InputSchema) string {
	required := map[string]bool{}
	for _, r := range s.Required {
		required[r] = true
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if required[name] {
			names[i] = name + "*"
		}
	}
	return strings.Join(names, ", ")
}

func renderHistory(w io.Writer, items []storage.Notification) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Level", "Channel", "Message"})
	for _, n := range items {
		channel := "-"
		if n.Channel != nil {
			channel = *n.Channel
		}
		t.AppendRow(table.Row{n.At.Local().Format("2006-01-02 15:04:05"), levelColor(n.Level).Sprint(n.Level), channel, n.Message})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 80},
	})
	t.Render()
}

func levelColor(level string) text.Colors {
	switch level {
	case "error":
		return text.Colors{text.FgRed}
	case "warn":
		return text.Colors{text.FgYellow}
	default:
		return text.Colors{}
	}
}
