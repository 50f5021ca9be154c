package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"workflow-assistant/backend/pkg/models"
)

// Timestamps are stored as unix nanoseconds so range predicates compare
// numerically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_states (
	user_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_states_updated_at ON workflow_states(updated_at);

CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	text TEXT NOT NULL,
	fire_at INTEGER NOT NULL,
	delivered_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_fire_at ON reminders(fire_at);
`

// SQLiteStore is a SQLite implementation of the Repository interface for
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertState inserts or replaces a state row.
func (s *SQLiteStore) UpsertState(ctx context.Context, row *StateRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_states (user_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		row.Key, string(row.State), row.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

// GetState retrieves a state row by key.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (*StateRow, error) {
	var row StateRow
	var state string
	var updated int64
	err := s.db.QueryRowContext(ctx, "SELECT user_id, state, updated_at FROM workflow_states WHERE user_id = ?", key).
		Scan(&row.Key, &state, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	row.State = []byte(state)
	row.UpdatedAt = time.Unix(0, updated).UTC()
	return &row, nil
}

// DeleteState removes a state row.
func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM workflow_states WHERE user_id = ?", key); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// DeleteStatesBefore removes rows last written before cutoff.
func (s *SQLiteStore) DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflow_states WHERE updated_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired states: %w", err)
	}
	return res.RowsAffected()
}

// CreateReminder stores a new reminder.
func (s *SQLiteStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reminders (id, user_id, channel_id, text, fire_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.UserID, r.ChannelID, r.Text, r.FireAt.UnixNano(), r.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// DueReminders returns undelivered reminders that should have fired by now.
func (s *SQLiteStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, channel_id, text, fire_at, created_at FROM reminders
		WHERE delivered_at IS NULL AND fire_at <= ?
		ORDER BY fire_at LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		var r models.Reminder
		var fireAt, createdAt int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ChannelID, &r.Text, &fireAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		r.FireAt = time.Unix(0, fireAt).UTC()
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		reminders = append(reminders, &r)
	}
	return reminders, rows.Err()
}

// MarkReminderDelivered records the delivery time of a reminder.
func (s *SQLiteStore) MarkReminderDelivered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE reminders SET delivered_at = ? WHERE id = ?", at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
