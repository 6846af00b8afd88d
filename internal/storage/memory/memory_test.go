package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pairxpenses/internal/core"
	"pairxpenses/internal/storage"
)

func TestMemoryStoreSeedsUsers(t *testing.T) {
	s := New()
	users, err := s.ListUsers(context.Background())
	if err != nil || len(users) != 2 {
		t.Fatalf("unexpected users: %v err=%v", users, err)
	}
	if users[0].Party != core.PartyA || users[0].Name != "User A" {
		t.Fatalf("unexpected first user: %+v", users[0])
	}
}

func TestMemoryStoreEntries(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, err := s.CreateEntry(ctx, core.Entry{Kind: core.KindPayment, UserID: 1, Name: "Rent", Value: core.NewMoney(800)})
	if err != nil || p.ID != 1 {
		t.Fatalf("unexpected create: %+v err=%v", p, err)
	}
	d, err := s.CreateEntry(ctx, core.Entry{Kind: core.KindDebt, UserID: 1, Name: "Loan", Value: core.NewMoney(50)})
	if err != nil || d.ID != 1 {
		t.Fatalf("ids are scoped by kind, got %+v err=%v", d, err)
	}

	if _, err := s.UpdateEntry(ctx, core.KindPayment, 1, "Rent March", core.NewMoney(900)); err != nil {
		t.Fatalf("update: %v", err)
	}
	total, _ := s.TotalFor(ctx, core.KindPayment, 1)
	if total.Units != 900 {
		t.Fatalf("expected 900, got %d", total.Units)
	}

	if err := s.DeleteEntry(ctx, core.KindPayment, 42); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ListEntries(ctx, core.KindDebt, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := s.CreateEntry(ctx, core.Entry{Kind: core.KindDebt, UserID: 1, Name: "", Value: core.NewMoney(1)}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestMemoryStoreSnapshotAndReset(t *testing.T) {
	ctx := context.Background()
	s := New()
	mustCreate := func(kind core.EntryKind, user int64, v int64) {
		t.Helper()
		if _, err := s.CreateEntry(ctx, core.Entry{Kind: kind, UserID: user, Name: "x", Value: core.NewMoney(v)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustCreate(core.KindPayment, 1, 500)
	mustCreate(core.KindPayment, 1, 300)
	mustCreate(core.KindPayment, 2, 200)
	mustCreate(core.KindDebt, 2, 70)

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := core.Pair[core.PartyTotals]{
		A: core.PartyTotals{Payments: core.NewMoney(800)},
		B: core.PartyTotals{Payments: core.NewMoney(200), Debts: core.NewMoney(70)},
	}
	if snap.Totals != want {
		t.Fatalf("unexpected totals: %+v", snap.Totals)
	}
	if snap.Users.B.Name != "User B" {
		t.Fatalf("unexpected users: %+v", snap.Users)
	}

	if err := s.ResetPeriod(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap, _ = s.Snapshot(ctx)
	if !snap.Totals.A.IsZero() || !snap.Totals.B.IsZero() {
		t.Fatalf("expected zero totals after reset, got %+v", snap.Totals)
	}
}

func TestMemoryStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CreateEntry(ctx, core.Entry{Kind: core.KindPayment, UserID: 2, Name: "x", Value: core.NewMoney(2)})
		}()
	}
	wg.Wait()
	total, _ := s.TotalFor(ctx, core.KindPayment, 2)
	if total.Units != 100 {
		t.Fatalf("expected 100, got %d", total.Units)
	}
}
