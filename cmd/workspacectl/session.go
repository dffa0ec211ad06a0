package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lgulliver/cliniprompt/internal/common"
)

func NewSessionCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show the live snapshot of a session published to Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !deps.Config.Redis.Enabled {
				return fmt.Errorf("redis is not enabled; the session mirror is unavailable")
			}
			cache, err := common.NewCache(&deps.Config.Redis)
			if err != nil {
				return err
			}
			defer cache.Close()

			s, err := common.NewSessionMirror(cache).Lookup(cmd.Context(), args[0])
			if errors.Is(err, common.ErrCacheMiss) {
				fmt.Fprintf(deps.Out, "Session %s is not live\n", args[0])
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading session mirror: %w", err)
			}

			w := tabwriter.NewWriter(deps.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s\n", s.ID)
			fmt.Fprintf(w, "STATE\t%s\n", s.State)
			fmt.Fprintf(w, "CREATED\t%s\n", s.CreatedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "EXPIRES\t%s (in %s)\n", s.ExpiresAt.UTC().Format(time.RFC3339), s.ExpiresAt.Sub(deps.now()).Round(time.Second))
			return w.Flush()
		},
	}
}
