package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"roadie/internal/daemonctl"
	"roadie/internal/daemonrun"
)

const (
	daemonStartWait = 10 * time.Second
	daemonStopGrace = 5 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the roadie daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newDaemonRunCommand(ctx))
	cmd.AddCommand(newDaemonStartCommand(ctx))
	cmd.AddCommand(newDaemonStopCommand(ctx))
	cmd.AddCommand(newDaemonRestartCommand(ctx))
	cmd.AddCommand(newDaemonStatusCommand(ctx))
	return cmd
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the daemon in the foreground",
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   logLevel,
				SocketPath: ctx.socketOverride(),
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the roadie daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, logLevel),
				daemonStartWait,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				if result.PID > 0 {
					fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon started")
				}
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the roadie daemon and every unit it supervises",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), daemonStopGrace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killing daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the roadie daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, logLevel),
				daemonStopGrace,
				daemonStartWait,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killing daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			socket := ctx.socketPath()

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}

			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), socket, ctx.configValue())
			if err != nil {
				return err
			}
			if snapshot.Running {
				detail := fmt.Sprintf("Running (pid %d)", snapshot.PID)
				if snapshot.Uptime > 0 {
					detail = fmt.Sprintf("Running (pid %d, up %s)", snapshot.PID, formatDuration(snapshot.Uptime))
				}
				fmt.Fprintln(stdout, renderStatusLine("Process", statusOK, detail, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Process", statusWarn, "Not running; start it with `roadie daemon start`", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, socket, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Units directory", statusInfo, snapshot.UnitsDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("History database", statusInfo, snapshot.HistoryDBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Supervised units", statusInfo, fmt.Sprintf("%d", len(snapshot.Units)), colorize))
			if cfg := ctx.configValue(); cfg != nil {
				pushes := strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""
				fmt.Fprintln(stdout, renderStatusLine("Notifications", statusInfo, yesNo(pushes), colorize))
			}
			return nil
		},
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		SocketPath: ctx.socketOverride(),
		ConfigPath: ctx.configPath(),
		LogLevel:   logLevel,
	}
}
