package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workflow-assistant/backend/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflow_states (
	user_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_states_updated_at ON workflow_states (updated_at);

CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	text TEXT NOT NULL,
	fire_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders (fire_at) WHERE delivered_at IS NULL;
`

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// UpsertState inserts or replaces a state row.
func (s *PostgresStore) UpsertState(ctx context.Context, row *StateRow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflow_states (user_id, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		row.Key, string(row.State), row.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

// GetState retrieves a state row by key.
func (s *PostgresStore) GetState(ctx context.Context, key string) (*StateRow, error) {
	var row StateRow
	var state string
	err := s.db.QueryRow(ctx, "SELECT user_id, state, updated_at FROM workflow_states WHERE user_id = $1", key).
		Scan(&row.Key, &state, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	row.State = []byte(state)
	return &row, nil
}

// DeleteState removes a state row.
func (s *PostgresStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM workflow_states WHERE user_id = $1", key); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// DeleteStatesBefore removes rows last written before cutoff.
func (s *PostgresStore) DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM workflow_states WHERE updated_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired states: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateReminder stores a new reminder.
func (s *PostgresStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO reminders (id, user_id, channel_id, text, fire_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		r.ID, r.UserID, r.ChannelID, r.Text, r.FireAt.UTC(), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// DueReminders returns undelivered reminders that should have fired by now.
func (s *PostgresStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, channel_id, text, fire_at, created_at FROM reminders
		WHERE delivered_at IS NULL AND fire_at <= $1
		ORDER BY fire_at LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.UserID, &r.ChannelID, &r.Text, &r.FireAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}

// MarkReminderDelivered records the delivery time of a reminder.
func (s *PostgresStore) MarkReminderDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE reminders SET delivered_at = $1 WHERE id = $2", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
