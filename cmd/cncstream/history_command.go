package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arloliu/go-cnc/journal"
	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var pruneDays int

	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show streaming runs recorded in the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal.path is not set")
			}

			store, err := journal.Open(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if pruneDays > 0 {
				n, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -pruneDays))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs\n", n)
				return nil
			}

			if len(args) == 1 {
				return printRun(cmd, store, args[0])
			}

			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.JobID,
					r.StartedAt.Local().Format(time.DateTime),
					r.Program,
					string(r.Status),
					fmt.Sprintf("%d/%d", r.AckedLines, r.TotalLines),
					strconv.Itoa(r.ErrorCount),
					formatRunDuration(r),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Job", "Started", "Program", "Status", "Lines", "Errors", "Duration"}, rows, 5, 6, 7))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	cmd.Flags().IntVar(&pruneDays, "prune", 0, "Delete finished runs older than this many days")
	return cmd
}

func printRun(cmd *cobra.Command, store *journal.Store, jobID string) error {
	run, err := store.Run(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	lineErrors, err := store.LineErrors(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Job", run.JobID},
		{"Session", run.SessionID},
		{"Program", run.Program},
		{"Port", run.Port},
		{"Firmware", run.Firmware},
		{"Status", string(run.Status)},
		{"Lines", fmt.Sprintf("%d/%d", run.AckedLines, run.TotalLines)},
		{"Started", run.StartedAt.Local().Format(time.DateTime)},
		{"Duration", formatRunDuration(*run)},
	}
	if run.Reason != "" {
		rows = append(rows, []string{"Reason", run.Reason})
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows))

	if len(lineErrors) > 0 {
		errRows := make([][]string, 0, len(lineErrors))
		for _, le := range lineErrors {
			errRows = append(errRows, []string{strconv.Itoa(le.Line), strconv.Itoa(le.Code), le.Message})
		}
		fmt.Fprintln(out, renderTable([]string{"Line", "Code", "Message"}, errRows, 1, 2))
	}

	return nil
}

func formatRunDuration(r journal.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.Duration().Round(time.Second).String()
}
