package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/internal/telemetry"
	"workflow-assistant/backend/pkg/models"
)

// ErrEmptyText is returned when a reminder has nothing to say.
var ErrEmptyText = errors.New("reminder text is empty")

// Notifier delivers a due reminder to its user.
type Notifier interface {
	Notify(ctx context.Context, r *models.Reminder) error
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(ctx context.Context, r *models.Reminder) error

func (f NotifierFunc) Notify(ctx context.Context, r *models.Reminder) error { return f(ctx, r) }

// Scheduler persists reminders and delivers them once due. Reminders are
// routed to a notifier by the transport prefix of their channel id
// ("discord:123"); anything else goes to the fallback notifier.
type Scheduler struct {
	repo      repository.ReminderRepository
	mu        sync.RWMutex
	routes    map[string]Notifier
	fallback  Notifier
	now       func() time.Time
	batch     int
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTelemetry counts delivered reminders.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Scheduler) { s.telemetry = t }
}

// NewScheduler creates a Scheduler. Reminders with no matching route are
// written to the log.
func NewScheduler(repo repository.ReminderRepository, logger *logging.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Scheduler{
		repo:   repo,
		routes: make(map[string]Notifier),
		now:    time.Now,
		batch:  100,
		logger: logger.Component("reminder"),
	}
	s.fallback = NotifierFunc(func(_ context.Context, r *models.Reminder) error {
		s.logger.Info("reminder due", "user_id", r.UserID, "channel_id", r.ChannelID, "text", r.Text)
		return nil
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route sends reminders whose channel id starts with prefix + ":" to n.
func (s *Scheduler) Route(prefix string, n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[prefix] = n
}

func (s *Scheduler) notifierFor(channelID string) Notifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := strings.IndexByte(channelID, ':'); i > 0 {
		if n, ok := s.routes[channelID[:i]]; ok {
			return n
		}
	}
	return s.fallback
}

// Schedule stores a reminder to fire at fireAt.
func (s *Scheduler) Schedule(ctx context.Context, userID, channelID, text string, fireAt time.Time) (*models.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	r := &models.Reminder{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		Text:      text,
		FireAt:    fireAt,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateReminder(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to store reminder: %w", err)
	}
	s.logger.Info("reminder scheduled", "id", r.ID, "user_id", userID, "fire_at", fireAt)
	return r, nil
}

// DeliverDue sends every reminder that is due and returns how many were
// delivered. Failed deliveries stay pending and are retried on the next call.
func (s *Scheduler) DeliverDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.DueReminders(ctx, now, s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to load due reminders: %w", err)
	}

	delivered := 0
	for _, r := range due {
		if err := s.notifierFor(r.ChannelID).Notify(ctx, r); err != nil {
			s.logger.Error("reminder delivery failed", "id", r.ID, "error", err)
			continue
		}
		if err := s.repo.MarkReminderDelivered(ctx, r.ID, now); err != nil {
			s.logger.Error("failed to mark reminder delivered", "id", r.ID, "error", err)
			continue
		}
		delivered++
		if s.telemetry != nil {
			s.telemetry.ReminderDelivered(ctx)
		}
	}
	return delivered, nil
}

// Run delivers due reminders immediately, which picks up anything missed
// while the process was down, and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.logger.Info("reminder scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.DeliverDue(ctx); err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("reminders delivered", "count", n)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
