package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/database"
	"github.com/tickwire/tickwire/test/util"
)

// SharedTestDB creates a single PostgreSQL schema that can be shared by
// multiple service instances under test. Each instance gets its own
// connection pool via NewClient, but all pools point to the same schema —
// enabling cross-service tests that exercise NOTIFY/LISTEN event delivery.
type SharedTestDB struct {
	dsn string
}

// NewSharedTestDB creates a shared test schema and runs migrations once.
// The schema is dropped via t.Cleanup after all clients have shut down.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()

	dsn := util.CreateTestSchema(t)

	// Run migrations once through a throwaway client.
	migrator, err := database.New(context.Background(), config.DatabaseConfig{
		URL:      dsn,
		MaxConns: 2,
		MinConns: 1,
	})
	require.NoError(t, err)
	migrator.Close()

	return &SharedTestDB{dsn: dsn}
}

// DSN returns the schema-scoped connection string, for components that open
// dedicated connections (the notification listener).
func (s *SharedTestDB) DSN() string { return s.dsn }

// NewClient creates an independent client backed by a fresh pool to the
// shared schema, closed via t.Cleanup. Migrations are skipped; NewSharedTestDB
// already ran them.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	noMigrate := false
	client, err := database.New(context.Background(), config.DatabaseConfig{
		URL:         s.dsn,
		MaxConns:    10,
		MinConns:    2,
		AutoMigrate: &noMigrate,
	})
	require.NoError(t, err)

	t.Cleanup(client.Close)
	return client
}
