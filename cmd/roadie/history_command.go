package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"roadie/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var stats bool

	cmd := &cobra.Command{
		Use:   "history [unit]",
		Short: "Show recent unit instance history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitName := ""
			if len(args) == 1 {
				unitName = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				if stats {
					return renderHistoryStats(stdout, client)
				}

				resp, err := client.History(unitName, limit)
				if err != nil {
					return err
				}
				if len(resp.Records) == 0 {
					fmt.Fprintln(stdout, "No history recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Records))
				for _, rec := range resp.Records {
					ready := "-"
					if rec.ReadyAt != nil {
						ready = formatDuration(rec.ReadyAt.Sub(rec.StartedAt))
					}
					ended := "-"
					if rec.ExitedAt != nil {
						ended = formatTimestamp(*rec.ExitedAt)
					}
					rows = append(rows, []string{
						rec.Unit,
						strconv.Itoa(rec.Attempt),
						formatTimestamp(rec.StartedAt),
						ready,
						ended,
						outcomeLabel(rec.Outcome),
						orDash(rec.ExitDescription),
					})
				}
				tableText := renderTable(
					[]string{"Unit", "Attempt", "Started", "Ready After", "Ended", "Outcome", "Exit"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, tableText)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show per-unit attempt and failure totals instead of records")
	return cmd
}

func renderHistoryStats(stdout io.Writer, client *ipc.Client) error {
	resp, err := client.HistoryStats()
	if err != nil {
		return err
	}
	if len(resp.Stats) == 0 {
		fmt.Fprintln(stdout, "No history recorded")
		return nil
	}
	rows := make([][]string, 0, len(resp.Stats))
	for _, st := range resp.Stats {
		rows = append(rows, []string{
			st.Unit,
			strconv.Itoa(st.Attempts),
			strconv.Itoa(st.Failures),
			outcomeLabel(st.LastOutcome),
		})
	}
	tableText := renderTable(
		[]string{"Unit", "Attempts", "Failures", "Last Outcome"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	)
	fmt.Fprintln(stdout, tableText)
	return nil
}
