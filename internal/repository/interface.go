package repository

import (
	"context"
	"errors"
	"time"

	"workflow-assistant/backend/pkg/models"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// StateRow is one persisted workflow state. State holds the serialized
// models.WorkflowState; UpdatedAt drives TTL sweeps.
type StateRow struct {
	Key       string
	State     []byte
	UpdatedAt time.Time
}

// StateRepository is the durable backing of the conversational state store.
type StateRepository interface {
	// UpsertState inserts or replaces the row for row.Key.
	UpsertState(ctx context.Context, row *StateRow) error
	// GetState returns the row for key or ErrNotFound.
	GetState(ctx context.Context, key string) (*StateRow, error)
	// DeleteState removes the row for key. Deleting a missing row is not an error.
	DeleteState(ctx context.Context, key string) error
	// DeleteStatesBefore removes every row last written before cutoff and
	// returns how many were removed.
	DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReminderRepository persists scheduled reminders so they survive restarts.
type ReminderRepository interface {
	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	// DueReminders returns undelivered reminders with FireAt <= now, oldest first.
	DueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error)
	MarkReminderDelivered(ctx context.Context, id string, at time.Time) error
}

// Repository is the full durable store used by the service.
type Repository interface {
	StateRepository
	ReminderRepository
	// EnsureSchema creates the tables if they do not exist.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}
