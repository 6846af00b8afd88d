package storage

import (
	"context"
	"errors"

	"pairxpenses/internal/core"
)

// ErrNotFound is returned when a user or entry does not exist.
var ErrNotFound = errors.New("not found")

type UserStore interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	GetUser(ctx context.Context, id int64) (core.User, error)
	RenameUser(ctx context.Context, id int64, name string) (core.User, error)
}

// EntryStore manages payments and debts. Ids are scoped by kind.
type EntryStore interface {
	ListEntries(ctx context.Context, kind core.EntryKind, userID int64) ([]core.Entry, error)
	CreateEntry(ctx context.Context, e core.Entry) (core.Entry, error)
	UpdateEntry(ctx context.Context, kind core.EntryKind, id int64, name string, value core.Money) (core.Entry, error)
	DeleteEntry(ctx context.Context, kind core.EntryKind, id int64) error
	DeleteAllEntries(ctx context.Context, kind core.EntryKind) (int64, error)
	TotalFor(ctx context.Context, kind core.EntryKind, userID int64) (core.Money, error)
}

// SnapshotReader returns both users and the four totals read together.
type SnapshotReader interface {
	Snapshot(ctx context.Context) (core.PairSnapshot, error)
}

// Resetter clears every payment and debt in one step.
type Resetter interface {
	ResetPeriod(ctx context.Context) error
}

// LedgerStore is the full persistence surface used by the service.
type LedgerStore interface {
	UserStore
	EntryStore
	SnapshotReader
	Resetter
	Ping(ctx context.Context) error
	Close() error
}
