package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the database named by TEST_DATABASE_URL, skipping
// the test when none is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	return &DB{pool: pool}
}

func TestRunRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	require.NoError(t, repo.EnsureSchema(ctx))

	run := &Run{InputPath: "inputs.csv", OutputDir: "/tmp/out"}
	require.NoError(t, repo.Create(ctx, run))
	assert.Equal(t, RunQueued, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	require.NoError(t, repo.MarkRunning(ctx, run.ID))

	summary := json.RawMessage(`{"total_urls": 3, "succeeded": 3}`)
	require.NoError(t, repo.MarkSucceeded(ctx, run.ID, "out/products.csv", "out/images.zip", summary))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunSucceeded, got.Status)
	assert.Equal(t, "out/products.csv", got.ExportCSV.String)
	assert.True(t, got.FinishedAt.Valid)

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}

func TestRunRepositoryMarkRunningRequiresQueued(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRunRepository(db)
	require.NoError(t, repo.EnsureSchema(ctx))

	run := &Run{InputPath: "inputs.csv", OutputDir: "/tmp/out"}
	require.NoError(t, repo.Create(ctx, run))
	require.NoError(t, repo.MarkRunning(ctx, run.ID))

	err := repo.MarkRunning(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
