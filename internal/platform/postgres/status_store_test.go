//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
	"github.com/phrazzld/asyncbg/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationDB returns a migrated test database.
func setupIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	db := testdb.GetTestDBWithT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(context.Background(), db, logger))
	return db
}

func TestStatusStore_Integration_WriteRead(t *testing.T) {
	db := setupIntegrationDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		store := NewStatusStore(tx, time.Hour, nil)
		ctx := context.Background()
		taskID := uuid.NewString()

		require.NoError(t, store.Write(ctx, taskID, "user_1", task.StatusCreated, nil))

		rec, err := store.Read(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCreated, rec.Status)
		assert.False(t, rec.HasResponse())

		require.NoError(t, store.Write(ctx, taskID, "user_1", task.StatusCompleted, json.RawMessage(`{"echo":1}`)))

		rec, err = store.Read(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, rec.Status)
		assert.JSONEq(t, `{"echo":1}`, string(rec.Response))
	})
}

// Expiry depends on NOW() advancing, so it cannot run inside a transaction.
func TestStatusStore_Integration_Expiry(t *testing.T) {
	store := NewStatusStore(setupIntegrationDB(t), time.Second, nil)
	ctx := context.Background()
	taskID := uuid.NewString()

	require.NoError(t, store.Write(ctx, taskID, "c", task.StatusPending, nil))
	time.Sleep(1500 * time.Millisecond)

	_, err := store.Read(ctx, taskID)
	assert.ErrorIs(t, err, status.ErrNotFound)

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestStatusStore_Integration_Overwrite(t *testing.T) {
	db := setupIntegrationDB(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		store := NewStatusStore(tx, time.Hour, nil)
		ctx := context.Background()
		taskID := uuid.NewString()

		require.NoError(t, store.Write(ctx, taskID, "user_1", task.StatusPending, nil))
		require.NoError(t, store.Write(ctx, taskID, "user_1", task.StatusFailed, task.ErrorResponse(errors.New("boom"))))

		rec, err := store.Read(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusFailed, rec.Status)
		assert.True(t, rec.HasResponse())

		_, err = store.Read(ctx, uuid.NewString())
		assert.ErrorIs(t, err, status.ErrNotFound)
	})
}
