package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"roadie/internal/ipc"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <unit>",
		Short: "Start supervising a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartUnit(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unit %s started\n", resp.Unit)
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <unit>",
		Short: "Stop a supervised unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("stop requires a unit name; `roadie daemon stop` stops the daemon itself")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StopUnit(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unit %s stopped\n", resp.Unit)
				return nil
			})
		},
	}
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <unit>",
		Short: "Restart a supervised unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RestartUnit(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unit %s restarted\n", resp.Unit)
				return nil
			})
		},
	}
}
