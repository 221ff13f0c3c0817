package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"roadie/internal/daemonctl"
	"roadie/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and unit status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snapshot.Running {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK,
					fmt.Sprintf("Running (pid %d, up %s)", snapshot.PID, formatDuration(snapshot.Uptime)), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn,
					"Not running; showing installed units from disk", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, snapshot.SocketPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Units directory", statusInfo, snapshot.UnitsDir, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Units", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if len(snapshot.Units) == 0 {
				fmt.Fprintln(stdout, "No units installed; scaffold one with `roadie unit init`")
				return nil
			}

			rows := buildUnitRows(snapshot.Units)
			tableText := renderTable(
				[]string{"Unit", "State", "PID", "Uptime", "Restart", "Status", "Last Exit"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(stdout, tableText)
			return nil
		},
	}
}

func buildUnitRows(units []ipc.UnitStatus) [][]string {
	rows := make([][]string, 0, len(units))
	for _, us := range units {
		pid := "-"
		if us.PID > 0 {
			pid = strconv.Itoa(us.PID)
		}
		rows = append(rows, []string{
			us.Unit,
			unitStateLabel(us),
			pid,
			formatDuration(us.Uptime),
			string(us.Restart),
			orDash(us.StatusText),
			orDash(us.LastExit),
		})
	}
	return rows
}
