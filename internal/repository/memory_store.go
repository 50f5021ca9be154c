package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"workflow-assistant/backend/pkg/models"
)

// MemoryStore is an in-process Repository. State does not survive a restart;
// it backs the "memory" driver and tests.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]StateRow
	reminders map[string]models.Reminder
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]StateRow),
		reminders: make(map[string]models.Reminder),
	}
}

func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }
func (s *MemoryStore) Ping(context.Context) error         { return nil }

func (s *MemoryStore) UpsertState(_ context.Context, row *StateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	cp.State = append([]byte(nil), row.State...)
	s.states[row.Key] = cp
	return nil
}

func (s *MemoryStore) GetState(_ context.Context, key string) (*StateRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}
	row.State = append([]byte(nil), row.State...)
	return &row, nil
}

func (s *MemoryStore) DeleteState(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func (s *MemoryStore) DeleteStatesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, row := range s.states {
		if row.UpdatedAt.Before(cutoff) {
			delete(s.states, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateReminder(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = *r
	return nil
}

func (s *MemoryStore) DueReminders(_ context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.Reminder
	for _, r := range s.reminders {
		if r.DeliveredAt == nil && !r.FireAt.After(now) {
			cp := r
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) MarkReminderDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return ErrNotFound
	}
	r.DeliveredAt = &at
	s.reminders[id] = r
	return nil
}
