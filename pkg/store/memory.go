package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridianerp/entitlements/pkg/tenant"
)

// MemoryStore is an in-memory repository implementation. It backs tests and
// single-process demos; production uses SQLStore.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[tenant.ID][]User
	groups      map[tenant.ID][]Group
	assignments map[tenant.ID][]Assignment
	nextID      int64

	// FailReads makes every read return ErrUnavailable, simulating a backing
	// store outage.
	FailReads bool
}

// ErrUnavailable simulates a repository outage in tests.
var ErrUnavailable = errUnavailable{}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "store unavailable" }

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[tenant.ID][]User),
		groups:      make(map[tenant.ID][]Group),
		assignments: make(map[tenant.ID][]Assignment),
		nextID:      1,
	}
}

// Repositories returns the store wired as the engine's repository bundle.
func (s *MemoryStore) Repositories() Repositories {
	return Repositories{Users: s, Groups: s, Assignments: s}
}

// PutUser inserts or replaces a user record.
func (s *MemoryStore) PutUser(t tenant.ID, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Tenant = t
	for i, existing := range s.users[t] {
		if existing.ID == u.ID {
			s.users[t][i] = u
			return
		}
	}
	s.users[t] = append(s.users[t], u)
}

// PutGroup inserts or replaces a group record.
func (s *MemoryStore) PutGroup(t tenant.ID, g Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Tenant = t
	for i, existing := range s.groups[t] {
		if existing.ID == g.ID {
			s.groups[t][i] = g
			return
		}
	}
	s.groups[t] = append(s.groups[t], g)
}

// ListUsers implements UserRepository.
func (s *MemoryStore) ListUsers(ctx context.Context, t tenant.ID) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, ErrUnavailable
	}
	return append([]User(nil), s.users[t]...), nil
}

// ListGroups implements GroupRepository.
func (s *MemoryStore) ListGroups(ctx context.Context, t tenant.ID) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, ErrUnavailable
	}
	groups := make([]Group, len(s.groups[t]))
	for i, g := range s.groups[t] {
		g.MemberIDs = append([]int64(nil), g.MemberIDs...)
		groups[i] = g
	}
	return groups, nil
}

// ListAssignments implements AssignmentRepository, ordered by user id.
func (s *MemoryStore) ListAssignments(ctx context.Context, t tenant.ID) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, ErrUnavailable
	}
	out := append([]Assignment(nil), s.assignments[t]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].RightID < out[j].RightID
	})
	return out, nil
}

// ListUserAssignments implements AssignmentRepository.
func (s *MemoryStore) ListUserAssignments(ctx context.Context, t tenant.ID, userID int64) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, ErrUnavailable
	}
	var out []Assignment
	for _, a := range s.assignments[t] {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RightID < out[j].RightID })
	return out, nil
}

// Upsert implements AssignmentRepository.
func (s *MemoryStore) Upsert(ctx context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.UpdatedAt = time.Now().UTC()
	rows := s.assignments[a.Tenant]
	for i, existing := range rows {
		if existing.UserID == a.UserID && existing.RightID == a.RightID {
			a.ID = existing.ID
			rows[i] = *a
			return nil
		}
	}
	a.ID = s.nextID
	s.nextID++
	s.assignments[a.Tenant] = append(rows, *a)
	return nil
}

// NullValue implements AssignmentRepository.
func (s *MemoryStore) NullValue(ctx context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.assignments[a.Tenant]
	for i, existing := range rows {
		if existing.UserID == a.UserID && existing.RightID == a.RightID {
			rows[i].Value = nil
			rows[i].UpdatedAt = time.Now().UTC()
			a.Value = nil
			return nil
		}
	}
	return nil
}
