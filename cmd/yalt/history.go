package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yalt-io/yalt/internal/history"
)

const defaultHistoryFile = "yalt-history.db"

func newHistoryCommand(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "history [id]",
		Short:         "List past runs recorded with --history",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
	}
	file := cmd.Flags().String("file", defaultHistoryFile, "Run history database")
	limit := cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	asJSON := cmd.Flags().Bool("json", false, "Print entries as JSON")
	cmd.SetOut(stdout)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		hs, err := history.Open(*file)
		if err != nil {
			return err
		}
		defer hs.Close()

		var entries []history.Entry
		if len(args) == 1 {
			e, err := hs.Get(args[0])
			if err != nil {
				return err
			}
			entries = []history.Entry{e}
		} else if entries, err = hs.List(*limit); err != nil {
			return err
		}

		if *asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		return printHistory(stdout, entries)
	}
	return cmd
}

func printHistory(w io.Writer, entries []history.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tRATE\tDURATION\tSENT\tAVG RPS\tFAILURES\tP99 MS\tTHRESHOLDS")
	for _, e := range entries {
		status := "pass"
		if !e.ThresholdsPassed {
			status = "fail"
		}
		if e.Interrupted {
			status += " (interrupted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%ds\t%d\t%.2f\t%d\t%.2f\t%s\n",
			e.ID, e.StartedAt.Local().Format(time.DateTime), e.Rate, e.DurationSeconds,
			e.Sent, e.AverageRPS, e.Failures, e.P99LatencyMs, status)
	}
	return tw.Flush()
}

func runHistory(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newHistoryCommand(stdout)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
