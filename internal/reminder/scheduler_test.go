package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/pkg/models"
)

type recorder struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (r *recorder) Notify(_ context.Context, rem *models.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("offline")
	}
	r.got = append(r.got, rem.Text)
	return nil
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestScheduler_DeliversDueOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryStore()
	s := NewScheduler(repo, nil, WithClock(func() time.Time { return now }))
	discord := &recorder{}
	s.Route("discord", discord)

	_, err := s.Schedule(ctx, "u1", "discord:42", "stand up", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "u1", "discord:42", "later", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, "u2", "api:c1", "fallback", now.Add(-time.Second))
	require.NoError(t, err)

	n, err := s.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"stand up"}, discord.texts())

	n, err = s.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduler_FailedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryStore()
	s := NewScheduler(repo, nil, WithClock(func() time.Time { return now }))
	tg := &recorder{fail: true}
	s.Route("telegram", tg)

	_, err := s.Schedule(ctx, "u1", "telegram:7", "drink water", now)
	require.NoError(t, err)

	n, err := s.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tg.mu.Lock()
	tg.fail = false
	tg.mu.Unlock()
	n, err = s.DeliverDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"drink water"}, tg.texts())
}

func TestScheduler_RunRecoversMissedReminders(t *testing.T) {
	repo := repository.NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.CreateReminder(context.Background(), &models.Reminder{
		ID: "missed", UserID: "u1", ChannelID: "discord:1", Text: "missed while down", FireAt: past, CreatedAt: past,
	}))

	s := NewScheduler(repo, nil)
	discord := &recorder{}
	s.Route("discord", discord)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(discord.texts()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestScheduler_RejectsEmptyText(t *testing.T) {
	s := NewScheduler(repository.NewMemoryStore(), nil)
	_, err := s.Schedule(context.Background(), "u", "c", "  ", time.Now())
	assert.ErrorIs(t, err, ErrEmptyText)
}
