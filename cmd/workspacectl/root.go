package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/lgulliver/cliniprompt/internal/history"
	"github.com/lgulliver/cliniprompt/internal/storage"
	"github.com/lgulliver/cliniprompt/pkg/config"
)

// Dependencies are shared by every subcommand
type Dependencies struct {
	Config *config.Config
	Out    io.Writer
	Now    func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dependencies) store() (storage.WorkspaceStore, error) {
	return storage.NewStorageFactory(&d.Config.Storage).CreateWorkspaceStore()
}

// journal opens the event database; the caller closes it
func (d *Dependencies) journal() (*common.Database, *history.Recorder, error) {
	db, err := common.NewDatabase(&d.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, history.NewRecorder(db.DB), nil
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "workspacectl",
		Short:         "Inspect and maintain CliniPrompt session workspaces",
		Long:          "Administrative tool for the storage root and session event journal used by the CliniPrompt API gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&deps.Config.Storage.Root, "root", deps.Config.Storage.Root, "storage root")
	rootCmd.SetOut(deps.Out)

	rootCmd.AddCommand(NewUsageCmd(deps))
	rootCmd.AddCommand(NewPurgeCmd(deps))
	rootCmd.AddCommand(NewEventsCmd(deps))
	rootCmd.AddCommand(NewSessionCmd(deps))
	rootCmd.AddCommand(NewMigrateCmd(deps))

	return rootCmd
}

func NewMigrateCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session event journal schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := deps.journal()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Fprintln(deps.Out, "Migrations completed successfully")
			return nil
		},
	}
}
