package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"workflow-assistant/backend/internal/logging"
	"workflow-assistant/backend/internal/repository"
	"workflow-assistant/backend/pkg/models"
)

// DefaultTTL is how long a state stays live after its last write.
const DefaultTTL = 30 * time.Minute

// Key builds the store key for a (user, channel) pair.
func Key(userID, channelID string) string {
	return userID + ":" + channelID
}

type entry struct {
	raw       []byte
	updatedAt time.Time
}

// Store keeps one workflow state per key in memory, backed by an optional
// durable repository. Reads hit the cache first and repopulate it from the
// repository on a miss.
type Store struct {
	mu      sync.Mutex
	cache   map[string]entry
	durable repository.StateRepository
	ttl     time.Duration
	now     func() time.Time
	onSweep func(removed int)
	logger  *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepHook is called after every sweep with the number of removed states.
func WithSweepHook(fn func(removed int)) Option {
	return func(s *Store) { s.onSweep = fn }
}

// NewStore creates a store. durable may be nil for a cache-only store; a
// non-positive ttl selects DefaultTTL.
func NewStore(durable repository.StateRepository, ttl time.Duration, logger *logging.Logger, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		cache:   make(map[string]entry),
		durable: durable,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Component("state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured time to live.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) expired(updatedAt time.Time) bool {
	return s.now().Sub(updatedAt) > s.ttl
}

// Save stamps state with the current time and stores it under key. A failed
// durable write is logged; the cached state still serves later reads.
func (s *Store) Save(ctx context.Context, key string, state *models.WorkflowState) error {
	if state == nil {
		return fmt.Errorf("state for %s is nil", key)
	}
	stamped := *state
	stamped.Timestamp = s.now()
	raw, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = entry{raw: raw, updatedAt: stamped.Timestamp}
	s.mu.Unlock()
	state.Timestamp = stamped.Timestamp

	if s.durable == nil {
		return nil
	}
	row := &repository.StateRow{Key: key, State: raw, UpdatedAt: stamped.Timestamp}
	if err := s.durable.UpsertState(ctx, row); err != nil {
		s.logger.Error("durable store write failed", "key", key, "error", err)
	}
	return nil
}

// Get returns the live state for key, or nil when there is none. Expired and
// undecodable states are deleted and reported as absent.
func (s *Store) Get(ctx context.Context, key string) (*models.WorkflowState, error) {
	s.mu.Lock()
	e, ok := s.cache[key]
	s.mu.Unlock()

	if !ok {
		if s.durable == nil {
			return nil, nil
		}
		row, err := s.durable.GetState(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read state for %s: %w", key, err)
		}
		e = s.fill(key, entry{raw: row.State, updatedAt: row.UpdatedAt})
	}

	if s.expired(e.updatedAt) {
		s.logger.Debug("state expired", "key", key, "updated_at", e.updatedAt)
		s.remove(ctx, key)
		return nil, nil
	}

	var st models.WorkflowState
	if err := json.Unmarshal(e.raw, &st); err != nil {
		s.logger.Error("state corrupt, discarding", "key", key, "error", err)
		s.remove(ctx, key)
		return nil, nil
	}
	return &st, nil
}

// fill caches a durable row unless a Save stored something at least as new
// while the row was being read. It returns the entry that is now cached.
func (s *Store) fill(key string, e entry) entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[key]; ok && !cur.updatedAt.Before(e.updatedAt) {
		return cur
	}
	s.cache[key] = e
	return e
}

// Clear removes the state for key from both tiers.
func (s *Store) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	if s.durable == nil {
		return nil
	}
	if err := s.durable.DeleteState(ctx, key); err != nil {
		return fmt.Errorf("failed to clear state for %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string) {
	if err := s.Clear(ctx, key); err != nil {
		s.logger.Error("failed to delete state", "key", key, "error", err)
	}
}

// SweepExpired deletes every state whose last write is older than the TTL
// and returns how many were removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)

	cached := 0
	s.mu.Lock()
	for key, e := range s.cache {
		if e.updatedAt.Before(cutoff) {
			delete(s.cache, key)
			cached++
		}
	}
	s.mu.Unlock()

	removed := cached
	if s.durable != nil {
		n, err := s.durable.DeleteStatesBefore(ctx, cutoff)
		if err != nil {
			return cached, fmt.Errorf("failed to sweep expired states: %w", err)
		}
		removed = int(n)
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("state sweeper started", "interval", interval, "ttl", s.ttl)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("state sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("state sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired states removed", "count", n)
			}
		}
	}
}
