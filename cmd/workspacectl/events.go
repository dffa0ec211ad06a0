package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewEventsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Show the journaled lifecycle events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, recorder, err := deps.journal()
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := recorder.ForSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintf(deps.Out, "No events for session %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(deps.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tFROM\tTO")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.OccurredAt.UTC().Format(time.RFC3339), e.Kind, e.FromState, e.ToState)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(newEventsStatsCmd(deps))
	cmd.AddCommand(newEventsPruneCmd(deps))
	return cmd
}

func newEventsStatsCmd(deps *Dependencies) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count journaled events by kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, recorder, err := deps.journal()
			if err != nil {
				return err
			}
			defer db.Close()

			counts, err := recorder.CountByKind(cmd.Context(), deps.now().Add(-since))
			if err != nil {
				return err
			}

			kinds := make([]string, 0, len(counts))
			for kind := range counts {
				kinds = append(kinds, kind)
			}
			sort.Strings(kinds)

			w := tabwriter.NewWriter(deps.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tCOUNT")
			for _, kind := range kinds {
				fmt.Fprintf(w, "%s\t%d\n", kind, counts[kind])
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to count over")
	return cmd
}

func newEventsPruneCmd(deps *Dependencies) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journaled events older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			db, recorder, err := deps.journal()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := recorder.Prune(cmd.Context(), deps.now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "%d events pruned\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of an event to prune")
	return cmd
}
