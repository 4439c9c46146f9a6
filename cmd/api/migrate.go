package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/evidence-ingest-service/internal/config"
	"github.com/PratikDhanave/evidence-ingest-service/internal/logger"
	"github.com/PratikDhanave/evidence-ingest-service/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending ledger migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == config.MemoryDatabaseURL {
				return errors.New("migrate needs a Postgres DATABASE_URL")
			}
			log := logger.New(cfg.LogLevel)

			db, err := store.NewPostgresStore(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range applied {
				log.Info("migration applied", "name", name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))
			return nil
		},
	}
}
