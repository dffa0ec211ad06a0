package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lgulliver/cliniprompt/pkg/types"
)

func NewPurgeCmd(deps *Dependencies) *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete session workspaces created before a cutoff",
		Long: `Deletes every workspace whose metadata created_at is older than --older-than.
Workspaces without readable metadata are skipped. Do not run against a storage
root that a live gateway is serving; the gateway keeps no record of the purge.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			ctx := cmd.Context()
			store, err := deps.store()
			if err != nil {
				return err
			}

			ids, err := store.ListSessions(ctx)
			if err != nil {
				return err
			}

			cutoff := deps.now().Add(-olderThan)
			removed := 0
			for _, id := range ids {
				raw, err := store.ReadMetadata(ctx, id)
				if err != nil {
					log.Warn().Err(err).Str("session_id", id).Msg("skipping workspace without metadata")
					continue
				}
				var s types.Session
				if err := json.Unmarshal(raw, &s); err != nil || s.CreatedAt.IsZero() {
					log.Warn().Err(err).Str("session_id", id).Msg("skipping workspace with unreadable metadata")
					continue
				}
				if !s.CreatedAt.Before(cutoff) {
					continue
				}

				if dryRun {
					fmt.Fprintf(deps.Out, "would remove %s (created %s)\n", id, s.CreatedAt.Format(time.RFC3339))
					removed++
					continue
				}
				if err := store.RemoveSession(ctx, id); err != nil {
					return fmt.Errorf("removing %s: %w", id, err)
				}
				fmt.Fprintf(deps.Out, "removed %s (created %s)\n", id, s.CreatedAt.Format(time.RFC3339))
				removed++
			}

			fmt.Fprintf(deps.Out, "%d of %d workspaces purged\n", removed, len(ids))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of a workspace to purge")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list workspaces without deleting them")

	return cmd
}
