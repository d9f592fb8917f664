package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digcoord/digcoord/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := postgres.Migrate(cmd.Context(), cfg.Database.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Println("Migrations applied")
		return nil
	},
}
