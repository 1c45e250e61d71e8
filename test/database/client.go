package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickwire/tickwire/pkg/config"
	"github.com/tickwire/tickwire/pkg/database"
	"github.com/tickwire/tickwire/test/util"
)

// NewTestClient creates a test database client on its own schema, with the
// embedded migrations applied.
// In CI (when CI_DATABASE_URL is set): connects to the external PostgreSQL
// service container. In local dev: spins up a shared testcontainer.
// Schema drop and connection close happen via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	dsn := util.CreateTestSchema(t)

	client, err := database.New(context.Background(), config.DatabaseConfig{
		URL:      dsn,
		MaxConns: 10,
		MinConns: 2,
	})
	require.NoError(t, err)

	t.Cleanup(client.Close)
	return client
}
