package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"woprnotify/internal/app"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host (HTTP API, MCP stdio, schedules)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")
			return serve(cmd.Context(), cfgPath, stopTimeout)
		},
	}
	cmd.Flags().Duration("stop-timeout", 15*time.Second, "Upper bound for graceful shutdown")
	return cmd
}

func serve(ctx context.Context, cfgPath string, stopTimeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(ctx, cfgPath, app.WithVersion(version))
	if err != nil {
		return err
	}
	stop := func(reason app.StopReason) error {
		sdNotify(daemon.SdNotifyStopping)
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return a.Stop(stopCtx, reason)
	}

	if err := a.Start(ctx); err != nil {
		_ = stop(app.StopFatalError)
		return err
	}
	sdNotify(daemon.SdNotifyReady)

	reason := app.StopAppStop
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		switch {
		case a.Err() != nil:
			reason = app.StopFatalError
		case ctx.Err() == nil:
			reason = app.StopClientClosed
		}
	case <-ctx.Done():
	}

	stopErr := stop(reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

// sdNotify is a no-op outside systemd.
func sdNotify(state string) {
	_, _ = daemon.SdNotify(false, state)
}
