package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensorhub/alert-engine/internal/alerting"
	"github.com/sensorhub/alert-engine/internal/datastore"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
)

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var tenants []string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register demo devices and alert rules for tenants",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			devices := repository.NewDeviceRepository(db)
			rules := repository.NewAlertRuleRepository(db)
			for _, tenantID := range tenants {
				result, err := alerting.SeedTenant(cmd.Context(), devices, rules, tenantID, log)
				if err != nil {
					return fmt.Errorf("seed tenant %s: %w", tenantID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d devices, %d new rules\n", tenantID, result.Devices, result.Rules)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tenants, "tenant", []string{"demo"}, "tenant IDs to seed")
	return cmd
}
