package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"chain-reactor/internal/storage/migrations"
	pgstore "chain-reactor/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded postgres and clickhouse migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc := cfg.Storage
		if sc.PostgresDSN == "" && sc.ClickhouseDSN == "" {
			return errors.New("nothing to migrate: set storage.postgres_dsn or storage.clickhouse_dsn")
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if sc.PostgresDSN != "" {
			pool, err := pgstore.NewPool(ctx, sc.PostgresDSN, 2)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(out, "postgres: migrated")
		}

		if sc.ClickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, sc.ClickhouseDSN)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintln(out, "clickhouse: migrated")
		}
		return nil
	},
}
