package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/pkg/logger"
)

// testPool connects to the database named by TEST_DATABASE_URL and
// applies the embedded migrations. Tests are skipped when the variable
// is unset, so the unit suite stays runnable without Postgres.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, storage.Migrate(ctx, pool, "schema_migrations", logger.NewNop()))
	return pool
}

func createTestSystem(t *testing.T, repo *storage.SystemRepository, codes ...string) *storage.AuthorizedSystem {
	t.Helper()

	system, err := repo.Create(context.Background(), storage.CreateSystemParams{
		Name:            "it-" + uuid.NewString(),
		Description:     "integration fixture",
		APIKeyHash:      "$2a$10$" + uuid.NewString(),
		PermissionCodes: codes,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Delete(context.Background(), system.ID)
	})
	return system
}

func TestSystemRepository_Integration(t *testing.T) {
	pool := testPool(t)
	repo := storage.NewSystemRepository(pool)
	ctx := context.Background()

	t.Run("create grants permissions atomically", func(t *testing.T) {
		system := createTestSystem(t, repo, "send_direct", "view_logs")

		found, err := repo.FindByID(ctx, system.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"send_direct", "view_logs"}, found.Permissions)
		assert.True(t, found.IsActive)
	})

	t.Run("unknown permission code aborts creation", func(t *testing.T) {
		_, err := repo.Create(ctx, storage.CreateSystemParams{
			Name:            "it-" + uuid.NewString(),
			APIKeyHash:      "hash",
			PermissionCodes: []string{"send_direct", "launch_rockets"},
		})
		assert.ErrorIs(t, err, storage.ErrUnknownPermissions)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		system := createTestSystem(t, repo, "send_direct")

		_, err := repo.Create(ctx, storage.CreateSystemParams{
			Name:            system.Name,
			APIKeyHash:      "hash",
			PermissionCodes: []string{"send_direct"},
		})
		assert.ErrorIs(t, err, storage.ErrDuplicateName)
	})

	t.Run("update replaces the permission set wholesale", func(t *testing.T) {
		system := createTestSystem(t, repo, "send_direct", "send_template")

		codes := []string{"view_logs"}
		updated, err := repo.Update(ctx, system.ID, storage.UpdateSystemParams{
			PermissionCodes: &codes,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"view_logs"}, updated.Permissions)

		found, err := repo.FindByID(ctx, system.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"view_logs"}, found.Permissions)
	})

	t.Run("update without codes leaves grants alone", func(t *testing.T) {
		system := createTestSystem(t, repo, "send_direct")

		inactive := false
		updated, err := repo.Update(ctx, system.ID, storage.UpdateSystemParams{
			IsActive: &inactive,
		})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		assert.ElementsMatch(t, []string{"send_direct"}, updated.Permissions)
	})
}

func TestLogRepository_Integration(t *testing.T) {
	pool := testPool(t)
	systems := storage.NewSystemRepository(pool)
	logs := storage.NewLogRepository(pool)
	ctx := context.Background()

	system := createTestSystem(t, systems, "send_direct")

	createLog := func(t *testing.T, jobID int64) *storage.EmailLog {
		t.Helper()
		l, err := logs.Create(ctx, storage.CreateLogParams{
			JobID:     &jobID,
			Recipient: "ada@example.com",
			Subject:   "Your invoice",
			Body:      "<p>Attached.</p>",
			Metadata:  map[string]any{"source": "integration"},
			SystemID:  system.ID,
		})
		require.NoError(t, err)
		return l
	}

	t.Run("update merges metadata into the existing map", func(t *testing.T) {
		l := createLog(t, time.Now().UnixNano())

		_, err := logs.Update(ctx, l.ID, storage.StatusQueued, storage.LogUpdate{
			Metadata: map[string]any{"message_id": "msg-1"},
		})
		require.NoError(t, err)

		updated, err := logs.Update(ctx, l.ID, storage.StatusDelivered, storage.LogUpdate{
			Metadata: map[string]any{"smtp_response": "250 OK"},
		})
		require.NoError(t, err)

		assert.Equal(t, "integration", updated.Metadata["source"])
		assert.Equal(t, "msg-1", updated.Metadata["message_id"])
		assert.Equal(t, "250 OK", updated.Metadata["smtp_response"])
	})

	t.Run("update without metadata keeps the stored map", func(t *testing.T) {
		l := createLog(t, time.Now().UnixNano())

		updated, err := logs.Update(ctx, l.ID, storage.StatusQueued, storage.LogUpdate{})
		require.NoError(t, err)
		assert.Equal(t, "integration", updated.Metadata["source"])
	})

	t.Run("timestamps persist across later updates", func(t *testing.T) {
		l := createLog(t, time.Now().UnixNano())

		sentAt := time.Now().UTC().Truncate(time.Millisecond)
		_, err := logs.Update(ctx, l.ID, storage.StatusQueued, storage.LogUpdate{SentAt: &sentAt})
		require.NoError(t, err)

		updated, err := logs.Update(ctx, l.ID, storage.StatusDelivered, storage.LogUpdate{})
		require.NoError(t, err)
		require.NotNil(t, updated.SentAt)
		assert.WithinDuration(t, sentAt, *updated.SentAt, time.Millisecond)
	})

	t.Run("job id is unique across logs", func(t *testing.T) {
		jobID := time.Now().UnixNano()
		createLog(t, jobID)

		_, err := logs.Create(ctx, storage.CreateLogParams{
			JobID:     &jobID,
			Recipient: "ada@example.com",
			Subject:   "Duplicate",
			SystemID:  system.ID,
		})
		assert.Error(t, err)

		found, err := logs.FindByJobID(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, "Your invoice", found.Subject)
	})
}
