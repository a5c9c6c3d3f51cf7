package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/metagram-net/metagram.net-sub000/internal/config"
	"github.com/metagram-net/metagram.net-sub000/migrations"
)

func migrateCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		Long:  "Applies every pending migration. With --down N, rolls back N migrations instead.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrate(steps)
		},
	}
	cmd.Flags().IntVar(&steps, "down", 0, "roll back this many migrations instead of migrating up")
	return cmd
}

func runMigrate(down int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	slog.Info("running migrations")

	// Source: embedded SQL files from the migrations package.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide.
	connCfg, err := pgx.ParseConfig(cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	// Migration files hold several statements; only the simple protocol runs them in one Exec.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if down > 0 {
		err = m.Steps(-down)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	version, dirty, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version, "dirty", dirty)
	return nil
}
