package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/ad-auth-bridge/internal/provision"
	"github.com/isometry/ad-auth-bridge/internal/repository"
)

func newMigrateCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run database migrations for the local user repository (SQLite or PostgreSQL)
and create the configured default group if it does not exist yet.

Examples:
  # Run migrations with default config
  adbridge migrate

  # Run migrations with custom config
  adbridge migrate --config /etc/adbridge/adbridge.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := loadConfig(cmd.Context(), configPath())
			if err != nil {
				return err
			}

			// Opening the store applies the schema.
			store, err := repository.Open(&cfg.Database)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Healthcheck(ctx); err != nil {
				return fmt.Errorf("migration verification failed: %w", err)
			}

			synchronizer := provision.NewSynchronizer(store, cfg.Provisioning.ToProvisionConfig())
			group, created, err := synchronizer.EnsureDefaultGroup(ctx)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Created default group %q\n", group.Name)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
			return nil
		},
	}
}
