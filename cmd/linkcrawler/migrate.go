package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/nested-link-crawler/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.DB.DSN == "" {
				return errors.New("db.dsn must be set to run migrations")
			}
			pool, err := pgstore.NewPool(cmd.Context(), pgstore.Config{DSN: e.cfg.DB.DSN, MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.Migrate(cmd.Context(), pool, e.logger.Named("migrate")); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			e.logger.Info("migrations applied")
			return nil
		},
	}
}
