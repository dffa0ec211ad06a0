package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lgulliver/cliniprompt/pkg/utils"
)

func NewUsageCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show per-session and total workspace sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := deps.store()
			if err != nil {
				return err
			}

			ids, err := store.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(deps.Out, "No session workspaces found")
			}

			type row struct {
				id   string
				size int64
			}
			rows := make([]row, 0, len(ids))
			for _, id := range ids {
				size, err := store.SessionSize(ctx, id)
				if err != nil {
					return fmt.Errorf("measuring %s: %w", id, err)
				}
				rows = append(rows, row{id: id, size: size})
			}
			// largest first
			sort.Slice(rows, func(i, j int) bool {
				if rows[i].size != rows[j].size {
					return rows[i].size > rows[j].size
				}
				return rows[i].id < rows[j].id
			})

			total, err := store.TotalSize(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(deps.Out, 0, 0, 2, ' ', 0)
			if len(rows) > 0 {
				fmt.Fprintln(w, "SESSION\tSIZE\tBYTES")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\n", r.id, utils.FormatBytes(r.size), r.size)
				}
			}
			fmt.Fprintf(w, "TOTAL\t%s\t%d\n", utils.FormatBytes(total), total)
			fmt.Fprintf(w, "QUOTA\t%s\t%d\n", utils.FormatBytes(deps.Config.Session.GlobalStorageQuota), deps.Config.Session.GlobalStorageQuota)
			return w.Flush()
		},
	}
}
