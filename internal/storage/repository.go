package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pairxpenses/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the LedgerStore backed by a single SQLite file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ LedgerStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection serialises writes in-process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := Migrate(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("Ledger schema ready", "path", dbPath, "version", version)

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var (
		u     core.User
		party string
	)
	if err := row.Scan(&u.ID, &u.Name, &party); err != nil {
		return core.User{}, err
	}
	p, err := core.ParseParty(party)
	if err != nil {
		return core.User{}, err
	}
	u.Party = p
	return u, nil
}

func scanEntry(row rowScanner) (core.Entry, error) {
	var (
		e       core.Entry
		kind    string
		created int64
	)
	if err := row.Scan(&e.ID, &kind, &e.UserID, &e.Name, &e.Value.Units, &created); err != nil {
		return core.Entry{}, err
	}
	e.Kind = core.EntryKind(kind)
	e.CreatedAt = time.Unix(created, 0).UTC()
	return e, nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %d: %w", what, id, err)
}

// ListUsers returns both users ordered by party.
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, party FROM users ORDER BY party`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT id, name, party FROM users WHERE id = ?`, id))
	if err != nil {
		return core.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (r *SQLiteRepository) RenameUser(ctx context.Context, id int64, name string) (core.User, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET name = ?, updated_at = ? WHERE id = ?`, name, r.now().Unix(), id)
	if err != nil {
		return core.User{}, fmt.Errorf("rename user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	slog.InfoContext(ctx, "User renamed", "id", id, "name", name)
	return r.GetUser(ctx, id)
}

// ListEntries returns the entries of one kind for a user, oldest first.
func (r *SQLiteRepository) ListEntries(ctx context.Context, kind core.EntryKind, userID int64) ([]core.Entry, error) {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, user_id, name, value, created_at FROM entries
		 WHERE kind = ? AND user_id = ? ORDER BY created_at, id`, string(kind), userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Plural(), err)
	}
	defer rows.Close()

	entries := []core.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) getEntry(ctx context.Context, kind core.EntryKind, id int64) (core.Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT id, kind, user_id, name, value, created_at FROM entries WHERE id = ? AND kind = ?`, id, string(kind)))
	if err != nil {
		return core.Entry{}, notFound(err, string(kind), id)
	}
	return e, nil
}

func (r *SQLiteRepository) CreateEntry(ctx context.Context, e core.Entry) (core.Entry, error) {
	if _, err := r.GetUser(ctx, e.UserID); err != nil {
		return core.Entry{}, err
	}
	now := r.now().UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO entries (kind, user_id, name, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.UserID, e.Name, e.Value.Units, now.Unix(), now.Unix())
	if err != nil {
		return core.Entry{}, fmt.Errorf("create %s: %w", e.Kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Entry{}, fmt.Errorf("create %s: %w", e.Kind, err)
	}
	e.ID = id
	e.CreatedAt = now

	slog.InfoContext(ctx, "Entry saved to SQLite",
		"id", e.ID,
		"kind", e.Kind,
		"user_id", e.UserID,
		"value", e.Value.Units)
	return e, nil
}

func (r *SQLiteRepository) UpdateEntry(ctx context.Context, kind core.EntryKind, id int64, name string, value core.Money) (core.Entry, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET name = ?, value = ?, updated_at = ? WHERE id = ? AND kind = ?`,
		name, value.Units, r.now().Unix(), id, string(kind))
	if err != nil {
		return core.Entry{}, fmt.Errorf("update %s %d: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Entry{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return r.getEntry(ctx, kind, id)
}

func (r *SQLiteRepository) DeleteEntry(ctx context.Context, kind core.EntryKind, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND kind = ?`, id, string(kind))
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// DeleteAllEntries removes every entry of kind and returns how many were removed.
func (r *SQLiteRepository) DeleteAllEntries(ctx context.Context, kind core.EntryKind) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE kind = ?`, string(kind))
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", kind.Plural(), err)
	}
	n, _ := res.RowsAffected()
	slog.InfoContext(ctx, "Entries deleted", "kind", kind, "count", n)
	return n, nil
}

func (r *SQLiteRepository) TotalFor(ctx context.Context, kind core.EntryKind, userID int64) (core.Money, error) {
	if _, err := r.GetUser(ctx, userID); err != nil {
		return core.Money{}, err
	}
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM entries WHERE kind = ? AND user_id = ?`,
		string(kind), userID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("total %s for user %d: %w", kind.Plural(), userID, err)
	}
	return core.NewMoney(total), nil
}

// Snapshot reads both users and the four totals inside one transaction.
func (r *SQLiteRepository) Snapshot(ctx context.Context) (core.PairSnapshot, error) {
	var snap core.PairSnapshot

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, name, party FROM users`)
	if err != nil {
		return snap, fmt.Errorf("snapshot users: %w", err)
	}
	seen := map[core.Party]bool{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return snap, fmt.Errorf("snapshot users: %w", err)
		}
		snap.Users = snap.Users.With(u.Party, u)
		seen[u.Party] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("snapshot users: %w", err)
	}
	if !seen[core.PartyA] || !seen[core.PartyB] {
		return snap, fmt.Errorf("snapshot users: expected two users, got %d", len(seen))
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT u.party, e.kind, COALESCE(SUM(e.value), 0)
		 FROM entries e JOIN users u ON u.id = e.user_id
		 GROUP BY u.party, e.kind`)
	if err != nil {
		return snap, fmt.Errorf("snapshot totals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			party, kind string
			sum         int64
		)
		if err := rows.Scan(&party, &kind, &sum); err != nil {
			return snap, fmt.Errorf("snapshot totals: %w", err)
		}
		p, err := core.ParseParty(party)
		if err != nil {
			return snap, fmt.Errorf("snapshot totals: %w", err)
		}
		snap.Totals = snap.Totals.With(p, snap.Totals.Of(p).Add(core.EntryKind(kind), core.NewMoney(sum)))
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("snapshot totals: %w", err)
	}

	return snap, tx.Commit()
}

// ResetPeriod deletes all payments and debts atomically.
func (r *SQLiteRepository) ResetPeriod(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	var removed int64
	for _, kind := range []core.EntryKind{core.KindDebt, core.KindPayment} {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE kind = ?`, string(kind))
		if err != nil {
			return fmt.Errorf("reset %s: %w", kind.Plural(), err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}

	slog.InfoContext(ctx, "Period reset", "removed", removed)
	return nil
}
