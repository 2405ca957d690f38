package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/logging"
)

// ErrPersistence marks a failed durable write. The triggering mutation has
// been rolled back; memory and the durable document still agree.
var ErrPersistence = errors.New("persist access state")

// MutationResult reports the effect of an allow-list mutation.
type MutationResult int

const (
	// Added means the id was absent and has been added.
	Added MutationResult = iota
	// AlreadyPresent means the id was already a member; nothing changed.
	AlreadyPresent
	// Removed means the id was present and has been removed.
	Removed
	// NotPresent means the id was not a member; nothing changed.
	NotPresent
)

// Persister writes the full access-control state durably. Implementations
// must replace the previous document entirely.
type Persister interface {
	Persist(ctx context.Context, state State) error
}

// Store holds the access-control state and applies mutations. Every mutation
// persists the full resulting state synchronously before reporting success;
// a mutation and its persist are atomic under the store mutex.
type Store struct {
	mu        sync.Mutex
	state     State
	persister Persister
	logger    *logrus.Entry
}

// NewStore constructs a Store around an initial state and a persister.
func NewStore(state State, persister Persister, logger *logrus.Entry) *Store {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Store{
		state:     state.Clone(),
		persister: persister,
		logger:    logger,
	}
}

// OwnerID returns the configured owner principal id.
func (s *Store) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OwnerID
}

// OwnerName returns the owner display name used in reply texts.
func (s *Store) OwnerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OwnerName
}

// IsUserAllowed reports membership in the user allow-list.
func (s *Store) IsUserAllowed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Users[id]
	return ok
}

// IsGroupAllowed reports membership in the group allow-list.
func (s *Store) IsGroupAllowed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Groups[id]
	return ok
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// AllowUser adds a user id to the allow-list. Idempotent: a second call for
// the same id reports AlreadyPresent without persisting.
func (s *Store) AllowUser(ctx context.Context, id string) (MutationResult, error) {
	return s.mutate(ctx, "allow user", id, func(st State) (MutationResult, func(State)) {
		if _, ok := st.Users[id]; ok {
			return AlreadyPresent, nil
		}
		st.Users[id] = struct{}{}
		return Added, func(st State) { delete(st.Users, id) }
	})
}

// DisallowUser removes a user id from the allow-list.
func (s *Store) DisallowUser(ctx context.Context, id string) (MutationResult, error) {
	return s.mutate(ctx, "disallow user", id, func(st State) (MutationResult, func(State)) {
		if _, ok := st.Users[id]; !ok {
			return NotPresent, nil
		}
		delete(st.Users, id)
		return Removed, func(st State) { st.Users[id] = struct{}{} }
	})
}

// AllowGroup adds a group id to the allow-list.
func (s *Store) AllowGroup(ctx context.Context, id string) (MutationResult, error) {
	return s.mutate(ctx, "allow group", id, func(st State) (MutationResult, func(State)) {
		if _, ok := st.Groups[id]; ok {
			return AlreadyPresent, nil
		}
		st.Groups[id] = struct{}{}
		return Added, func(st State) { delete(st.Groups, id) }
	})
}

// DisallowGroup removes a group id from the allow-list.
func (s *Store) DisallowGroup(ctx context.Context, id string) (MutationResult, error) {
	return s.mutate(ctx, "disallow group", id, func(st State) (MutationResult, func(State)) {
		if _, ok := st.Groups[id]; !ok {
			return NotPresent, nil
		}
		delete(st.Groups, id)
		return Removed, func(st State) { st.Groups[id] = struct{}{} }
	})
}

// mutate applies a change under the mutex, persists the resulting state, and
// rolls the change back when the durable write fails.
func (s *Store) mutate(ctx context.Context, op, id string, apply func(State) (MutationResult, func(State))) (MutationResult, error) {
	if s == nil || s.persister == nil {
		return NotPresent, errors.New("access store is not initialized")
	}
	if ctx == nil {
		return NotPresent, errors.New("context is required")
	}
	if id == "" {
		return NotPresent, fmt.Errorf("%s: id is required", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, rollback := apply(s.state)
	if rollback == nil {
		return result, nil
	}

	if err := s.persister.Persist(ctx, s.state.Clone()); err != nil {
		rollback(s.state)
		s.logger.WithFields(logging.Fields{
			"event": "access_persist_failed",
			"op":    op,
			"id":    id,
		}).WithError(err).Error("durable write failed, mutation rolled back")

		return result, fmt.Errorf("%s %s: %w", op, id, errors.Join(ErrPersistence, err))
	}

	s.logger.WithFields(logging.Fields{
		"event": "access_mutation",
		"op":    op,
		"id":    id,
	}).Info("access state persisted")

	return result, nil
}
