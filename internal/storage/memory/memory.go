// Package memory is an in-process LedgerStore used by tests and DATA_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pairxpenses/internal/core"
	"pairxpenses/internal/storage"
)

type Store struct {
	mu      sync.Mutex
	users   map[int64]core.User
	entries map[core.EntryKind]map[int64]core.Entry
	nextID  map[core.EntryKind]int64
	now     func() time.Time
}

var _ storage.LedgerStore = (*Store)(nil)

// New returns a store seeded with "User A" (id 1) and "User B" (id 2).
func New() *Store {
	return &Store{
		users: map[int64]core.User{
			1: {ID: 1, Name: "User A", Party: core.PartyA},
			2: {ID: 2, Name: "User B", Party: core.PartyB},
		},
		entries: map[core.EntryKind]map[int64]core.Entry{
			core.KindPayment: {},
			core.KindDebt:    {},
		},
		nextID: map[core.EntryKind]int64{},
		now:    time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) ListUsers(_ context.Context) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Party < out[j].Party })
	return out, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user(id)
}

func (s *Store) user(id int64) (core.User, error) {
	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) RenameUser(_ context.Context, id int64, name string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.user(id)
	if err != nil {
		return core.User{}, err
	}
	u.Name = name
	s.users[id] = u
	return u, nil
}

func (s *Store) ListEntries(_ context.Context, kind core.EntryKind, userID int64) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.user(userID); err != nil {
		return nil, err
	}
	out := []core.Entry{}
	for _, e := range s.entries[kind] {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateEntry(_ context.Context, e core.Entry) (core.Entry, error) {
	if err := e.Validate(); err != nil {
		return core.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.user(e.UserID); err != nil {
		return core.Entry{}, err
	}
	s.nextID[e.Kind]++
	e.ID = s.nextID[e.Kind]
	e.CreatedAt = s.now().UTC().Truncate(time.Second)
	s.entries[e.Kind][e.ID] = e
	return e, nil
}

func (s *Store) UpdateEntry(_ context.Context, kind core.EntryKind, id int64, name string, value core.Money) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kind][id]
	if !ok {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
	}
	e.Name = name
	e.Value = value
	s.entries[kind][id] = e
	return e, nil
}

func (s *Store) DeleteEntry(_ context.Context, kind core.EntryKind, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[kind][id]; !ok {
		return fmt.Errorf("%s %d: %w", kind, id, storage.ErrNotFound)
	}
	delete(s.entries[kind], id)
	return nil
}

func (s *Store) DeleteAllEntries(_ context.Context, kind core.EntryKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries[kind]))
	s.entries[kind] = map[int64]core.Entry{}
	return n, nil
}

func (s *Store) TotalFor(_ context.Context, kind core.EntryKind, userID int64) (core.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.user(userID); err != nil {
		return core.Money{}, err
	}
	var total core.Money
	for _, e := range s.entries[kind] {
		if e.UserID == userID {
			total = total.Add(e.Value)
		}
	}
	return total, nil
}

// Snapshot holds the lock for the whole read, so totals are consistent.
func (s *Store) Snapshot(_ context.Context) (core.PairSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap core.PairSnapshot
	party := map[int64]core.Party{}
	for id, u := range s.users {
		snap.Users = snap.Users.With(u.Party, u)
		party[id] = u.Party
	}
	for kind, byID := range s.entries {
		for _, e := range byID {
			p := party[e.UserID]
			snap.Totals = snap.Totals.With(p, snap.Totals.Of(p).Add(kind, e.Value))
		}
	}
	return snap, nil
}

func (s *Store) ResetPeriod(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind := range s.entries {
		s.entries[kind] = map[int64]core.Entry{}
	}
	return nil
}
