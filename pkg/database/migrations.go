package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the migration runner
)

// Migration files are embedded so deployments never depend on files on
// disk. The schema is SQL-first: tables, trigger functions and triggers all
// live here, because the notification fabric cannot be expressed any other
// way.
//
//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending embedded migrations. Safe to run from every
// service at startup: golang-migrate serializes concurrent runners with an
// advisory lock.
func (c *Client) Migrate(ctx context.Context) error {
	// The runner needs database/sql; open a short-lived connection rather
	// than borrowing from the pgx pool.
	db, err := stdsql.Open("pgx", c.dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migration connection: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		return fmt.Errorf("database is dirty at migration version %d; resolve manually", version)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source; closing m would also close db, which the
	// deferred db.Close already handles.
	if err := source.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}

	newVersion, _, _ := m.Version()
	if newVersion != version {
		c.log.Info("Applied database migrations", "from", version, "to", newVersion)
	}
	return nil
}
