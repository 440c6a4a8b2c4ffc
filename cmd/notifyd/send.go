package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"woprnotify/internal/app"
	"woprnotify/internal/notify"
	"woprnotify/internal/schedule"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "Send one notification through the notify tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := notify.Request{Message: notify.Str(args[0])}
			if cmd.Flags().Changed("level") {
				level, _ := cmd.Flags().GetString("level")
				req.Level = &level
			}
			if cmd.Flags().Changed("channel") {
				channel, _ := cmd.Flags().GetString("channel")
				req.Channel = &channel
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			raw, err := json.Marshal(req)
			if err != nil {
				return err
			}
			return withOneshotApp(cmd, func(ctx context.Context, a *app.App) error {
				cctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				res, err := a.Registry().Call(cctx, schedule.Server, schedule.Tool, raw)
				if err != nil {
					return err
				}
				for _, c := range res.Content {
					fmt.Fprintln(cmd.OutOrStdout(), c.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringP("level", "l", "", "Severity label (info, warn, error or any label); default info")
	cmd.Flags().String("channel", "", "Routing hint passed through unchanged")
	cmd.Flags().Duration("timeout", 10*time.Second, "Call timeout")
	return cmd
}
