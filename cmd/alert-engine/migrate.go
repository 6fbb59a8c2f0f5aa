package main

import (
	"github.com/spf13/cobra"

	"github.com/sensorhub/alert-engine/internal/datastore"
	"github.com/sensorhub/alert-engine/internal/logger"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(*cobra.Command, []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			db, err := datastore.Open(settings.Database)
			if err != nil {
				return err
			}
			defer func() { _ = datastore.Close(db) }()

			if err := datastore.Migrate(db); err != nil {
				return err
			}
			log.Info("schema migrated", logger.String("driver", settings.Database.Driver))
			return nil
		},
	}
}
