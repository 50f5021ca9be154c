package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/pkg/models"
)

// runRepositoryContract exercises the behaviour every Repository must share.
func runRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))
	require.NoError(t, repo.Ping(ctx))

	t.Run("Upsert and Get", func(t *testing.T) {
		key := "user-" + uuid.New().String() + ":chan"
		at := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, repo.UpsertState(ctx, &StateRow{Key: key, State: []byte(`{"step":1}`), UpdatedAt: at}))
		require.NoError(t, repo.UpsertState(ctx, &StateRow{Key: key, State: []byte(`{"step":2}`), UpdatedAt: at.Add(time.Second)}))

		row, err := repo.GetState(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, row.Key)
		assert.JSONEq(t, `{"step":2}`, string(row.State))
		assert.WithinDuration(t, at.Add(time.Second), row.UpdatedAt, time.Millisecond)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := repo.GetState(ctx, "missing-"+uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		key := "user-" + uuid.New().String()
		require.NoError(t, repo.UpsertState(ctx, &StateRow{Key: key, State: []byte(`{}`), UpdatedAt: time.Now()}))
		require.NoError(t, repo.DeleteState(ctx, key))
		require.NoError(t, repo.DeleteState(ctx, key))
		_, err := repo.GetState(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteStatesBefore only removes old rows", func(t *testing.T) {
		now := time.Now().UTC()
		oldKey := "old-" + uuid.New().String()
		freshKey := "fresh-" + uuid.New().String()
		require.NoError(t, repo.UpsertState(ctx, &StateRow{Key: oldKey, State: []byte(`{}`), UpdatedAt: now.Add(-2 * time.Hour)}))
		require.NoError(t, repo.UpsertState(ctx, &StateRow{Key: freshKey, State: []byte(`{}`), UpdatedAt: now}))

		n, err := repo.DeleteStatesBefore(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = repo.GetState(ctx, oldKey)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetState(ctx, freshKey)
		assert.NoError(t, err)
	})

	t.Run("Reminders", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		due := &models.Reminder{ID: uuid.New().String(), UserID: "u1", ChannelID: "c1", Text: "stand-up", FireAt: now.Add(-time.Minute), CreatedAt: now}
		later := &models.Reminder{ID: uuid.New().String(), UserID: "u1", ChannelID: "c1", Text: "lunch", FireAt: now.Add(time.Hour), CreatedAt: now}
		require.NoError(t, repo.CreateReminder(ctx, due))
		require.NoError(t, repo.CreateReminder(ctx, later))

		got, err := repo.DueReminders(ctx, now, 100)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, due.ID)
		assert.NotContains(t, ids, later.ID)

		require.NoError(t, repo.MarkReminderDelivered(ctx, due.ID, now))
		got, err = repo.DueReminders(ctx, now, 100)
		require.NoError(t, err)
		for _, r := range got {
			assert.NotEqual(t, due.ID, r.ID)
		}

		assert.ErrorIs(t, repo.MarkReminderDelivered(ctx, "nope", now), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runRepositoryContract(t, NewMemoryStore())
}
