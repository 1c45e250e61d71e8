package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/tickwire/tickwire/test/database"
)

func TestAccountSnapshotUpsert(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	s := New(client.Pool())

	_, err := s.Accounts.Get(ctx, "SPOT")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Accounts.Upsert(ctx, "SPOT", json.RawMessage(`{"balances": [{"asset": "BTC", "free": 0.5}]}`)))

	snap, err := s.Accounts.Get(ctx, "SPOT")
	require.NoError(t, err)
	assert.Equal(t, "SPOT", snap.AccountType)
	assert.JSONEq(t, `{"balances": [{"asset": "BTC", "free": 0.5}]}`, string(snap.Data))
	firstWrite := snap.UpdatedAt

	// Overwrite keeps a single row per account type.
	require.NoError(t, s.Accounts.Upsert(ctx, "SPOT", json.RawMessage(`{"balances": []}`)))

	snap, err = s.Accounts.Get(ctx, "SPOT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"balances": []}`, string(snap.Data))
	assert.False(t, snap.UpdatedAt.Before(firstWrite))
}
