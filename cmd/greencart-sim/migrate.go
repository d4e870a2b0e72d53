package main

import (
	"errors"

	"github.com/spf13/cobra"

	"greencart-sim/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres run schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.DSN == "" {
			return errors.New("migrate: store.dsn (or DATABASE_URL) is required")
		}
		pg, err := store.OpenPostgres(cmd.Context(), cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.InitSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema ready")
		return nil
	},
}
