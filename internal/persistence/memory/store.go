// Package memory provides an in-process UserStore for local development and tests.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"example.com/momentum/internal/domain"
)

// Store keeps user records in a map guarded by a mutex.
type Store struct {
	mu    sync.RWMutex
	users map[string]domain.UserRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{users: make(map[string]domain.UserRecord)}
}

// Get implements domain.UserStore.
func (s *Store) Get(ctx context.Context, userID string) (*domain.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := user.Clone()
	return &out, nil
}

// Create implements domain.UserStore. An existing record is left untouched.
func (s *Store) Create(ctx context.Context, record domain.UserRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[record.ID]; exists {
		return nil
	}
	if record.History == nil {
		record.History = []domain.RunRecord{}
	}
	s.users[record.ID] = record.Clone()
	return nil
}

// Save implements domain.UserStore as a compare-and-swap on Version.
func (s *Store) Save(ctx context.Context, mutation domain.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[mutation.Next.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if current.Version != mutation.ExpectedVersion {
		return domain.ErrConflict
	}

	next := mutation.Next.Clone()
	// History is append-only: rebuild it from what is stored rather than trusting the
	// caller's copy.
	next.History = append([]domain.RunRecord(nil), current.History...)
	if mutation.Appended != nil {
		next.History = append(next.History, *mutation.Appended)
	}
	s.users[next.ID] = next
	return nil
}

// Users implements domain.UserStore. The id set is fixed when iteration starts; each
// record is read as it is yielded.
func (s *Store) Users(ctx context.Context) iter.Seq2[domain.UserRecord, error] {
	return func(yield func(domain.UserRecord, error) bool) {
		s.mu.RLock()
		ids := make([]string, 0, len(s.users))
		for id := range s.users {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		sort.Strings(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(domain.UserRecord{}, err)
				return
			}

			s.mu.RLock()
			user, ok := s.users[id]
			s.mu.RUnlock()
			if !ok {
				continue
			}

			out := user.Clone()
			out.History = nil
			if !yield(out, nil) {
				return
			}
		}
	}
}
