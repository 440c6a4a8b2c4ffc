package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"woprnotify/internal/app"
	"woprnotify/internal/config"
	"woprnotify/internal/schedule"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notifyd",
		Short:         "notifyd: notification plugin host",
		Long:          "notifyd hosts the notify plugin and exposes its tool over HTTP, MCP stdio and cron schedules.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return config.LoadDotEnv(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to config file (json or yaml); empty uses defaults and NOTIFYD_* env")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newToolsCmd(),
		newHistoryCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notifyd version %s\n", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.NewManager(cfgPath).Parse()
			if err != nil {
				return err
			}
			if _, err := schedule.FromConfig(cfg.Schedules); err != nil {
				return err
			}
			if cfgPath == "" {
				cfgPath = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config validation passed: %s\n", cfgPath)
			return nil
		},
	}
}

// withOneshotApp runs fn against a started app without serving surfaces.
func withOneshotApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfgPath, app.Oneshot(), app.WithVersion(version))
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopAppStop)
	}()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
