package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/transfa/rental-service/internal/domain"
)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	if _, err := repo.EnsureLedgerState(context.Background(), "owner-1"); err != nil {
		t.Fatalf("EnsureLedgerState returned error: %v", err)
	}
	return repo
}

func mustEvent(t *testing.T, eventType domain.EventType, propertyID string) domain.LedgerEvent {
	t.Helper()
	event, err := domain.NewLedgerEvent(eventType, propertyID, map[string]string{"property_id": propertyID}, 100)
	if err != nil {
		t.Fatalf("NewLedgerEvent returned error: %v", err)
	}
	return event
}

func TestMemoryRepositoryRequiresInitializedLedger(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.WithinLedgerTx(context.Background(), func(tx LedgerTx) error { return nil })
	if !errors.Is(err, ErrLedgerNotInitialized) {
		t.Fatalf("expected ErrLedgerNotInitialized, got %v", err)
	}
	if _, err := repo.GetLedgerState(context.Background()); !errors.Is(err, ErrLedgerNotInitialized) {
		t.Fatalf("expected ErrLedgerNotInitialized from GetLedgerState, got %v", err)
	}
}

func TestMemoryRepositoryEnsureLedgerStateKeepsOwner(t *testing.T) {
	repo := newTestRepo(t)
	state, err := repo.EnsureLedgerState(context.Background(), "someone-else")
	if err != nil {
		t.Fatalf("EnsureLedgerState returned error: %v", err)
	}
	if state.Owner != "owner-1" {
		t.Fatalf("expected owner to stay owner-1, got %q", state.Owner)
	}
}

func TestMemoryRepositoryCommitsStagedWrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.WithinLedgerTx(ctx, func(tx LedgerTx) error {
		rental := domain.Rental{PropertyID: "p1", Tenant: "t1", RentAmount: 10, RentInterval: 60, Status: domain.RentalStatusPending}
		if err := tx.InsertRental(ctx, rental); err != nil {
			return err
		}
		if err := tx.SetDepositBalance(ctx, "t1", 25); err != nil {
			return err
		}
		if err := tx.SetCustodyBalance(ctx, 25); err != nil {
			return err
		}
		got, err := tx.FindRental(ctx, "p1")
		if err != nil || got.Tenant != "t1" {
			t.Fatalf("expected staged rental to be visible inside tx, got %+v err %v", got, err)
		}
		total, _ := tx.TotalDeposits(ctx)
		if total != 25 {
			t.Fatalf("expected staged total deposits 25, got %d", total)
		}
		return tx.AppendEvent(ctx, mustEvent(t, domain.EventRentalCreated, "p1"))
	})
	if err != nil {
		t.Fatalf("WithinLedgerTx returned error: %v", err)
	}

	rental, err := repo.FindRental(ctx, "p1")
	if err != nil {
		t.Fatalf("FindRental returned error: %v", err)
	}
	if rental.Status != domain.RentalStatusPending {
		t.Fatalf("expected pending rental, got %s", rental.Status)
	}
	if balance, _ := repo.DepositBalance(ctx, "t1"); balance != 25 {
		t.Fatalf("expected deposit 25, got %d", balance)
	}
	state, _ := repo.GetLedgerState(ctx)
	if state.CustodyBalance != 25 {
		t.Fatalf("expected custody 25, got %d", state.CustodyBalance)
	}
	events, _ := repo.ListEvents(ctx, 0, 0)
	if len(events) != 1 || events[0].Seq != 1 {
		t.Fatalf("expected one event with seq 1, got %+v", events)
	}
}

func TestMemoryRepositoryDiscardsWritesOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("transfer failed")

	err := repo.WithinLedgerTx(ctx, func(tx LedgerTx) error {
		_ = tx.InsertRental(ctx, domain.Rental{PropertyID: "p1", Tenant: "t1", RentInterval: 60, Status: domain.RentalStatusPending})
		_ = tx.SetDepositBalance(ctx, "t1", 5)
		_ = tx.SetPaused(ctx, true)
		_ = tx.AppendEvent(ctx, mustEvent(t, domain.EventRentalCreated, "p1"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error back, got %v", err)
	}

	if _, err := repo.FindRental(ctx, "p1"); !errors.Is(err, domain.ErrRentalNotFound) {
		t.Fatalf("expected rental to be discarded, got %v", err)
	}
	if balance, _ := repo.DepositBalance(ctx, "t1"); balance != 0 {
		t.Fatalf("expected no deposit, got %d", balance)
	}
	if state, _ := repo.GetLedgerState(ctx); state.Paused {
		t.Fatal("expected pause flag to be discarded")
	}
	if events, _ := repo.ListEvents(ctx, 0, 0); len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestMemoryRepositoryInsertRentalRejectsDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rental := domain.Rental{PropertyID: "p1", Tenant: "t1", RentInterval: 60, Status: domain.RentalStatusPending}

	if err := repo.WithinLedgerTx(ctx, func(tx LedgerTx) error { return tx.InsertRental(ctx, rental) }); err != nil {
		t.Fatalf("first insert returned error: %v", err)
	}
	err := repo.WithinLedgerTx(ctx, func(tx LedgerTx) error { return tx.InsertRental(ctx, rental) })
	if !errors.Is(err, domain.ErrAlreadyRented) {
		t.Fatalf("expected ErrAlreadyRented, got %v", err)
	}
}

func TestMemoryRepositoryZeroDepositIsRemoved(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.WithinLedgerTx(ctx, func(tx LedgerTx) error { return tx.SetDepositBalance(ctx, "t1", 7) })
	_ = repo.WithinLedgerTx(ctx, func(tx LedgerTx) error { return tx.SetDepositBalance(ctx, "t1", 0) })

	if total, _ := repo.TotalDeposits(ctx); total != 0 {
		t.Fatalf("expected total deposits 0, got %d", total)
	}
	if _, ok := repo.deposits["t1"]; ok {
		t.Fatal("expected zero balance entry to be deleted")
	}
}

func TestMemoryRepositoryListEventsPaginates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = repo.WithinLedgerTx(ctx, func(tx LedgerTx) error {
			return tx.AppendEvent(ctx, mustEvent(t, domain.EventContractPaused, ""))
		})
	}

	page, _ := repo.ListEvents(ctx, 2, 2)
	if len(page) != 2 || page[0].Seq != 3 || page[1].Seq != 4 {
		t.Fatalf("expected seqs 3,4, got %+v", page)
	}
	tail, _ := repo.ListEvents(ctx, 4, 10)
	if len(tail) != 1 || tail[0].Seq != 5 {
		t.Fatalf("expected seq 5 only, got %+v", tail)
	}
}

func TestMemoryRepositoryListOverdueRentals(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_ = repo.WithinLedgerTx(ctx, func(tx LedgerTx) error {
		for _, rental := range []domain.Rental{
			{PropertyID: "late-b", Tenant: "t", RentInterval: 1, RentDueDate: 50, Status: domain.RentalStatusActive},
			{PropertyID: "late-a", Tenant: "t", RentInterval: 1, RentDueDate: 50, Status: domain.RentalStatusActive},
			{PropertyID: "later", Tenant: "t", RentInterval: 1, RentDueDate: 10, Status: domain.RentalStatusActive},
			{PropertyID: "on-time", Tenant: "t", RentInterval: 1, RentDueDate: 100, Status: domain.RentalStatusActive},
			{PropertyID: "expired", Tenant: "t", RentInterval: 1, RentDueDate: 5, Status: domain.RentalStatusExpired},
		} {
			if err := tx.InsertRental(ctx, rental); err != nil {
				return err
			}
		}
		return nil
	})

	overdue, err := repo.ListOverdueRentals(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ListOverdueRentals returned error: %v", err)
	}
	want := []string{"later", "late-a", "late-b"}
	if len(overdue) != len(want) {
		t.Fatalf("expected %d overdue rentals, got %d", len(want), len(overdue))
	}
	for i, id := range want {
		if overdue[i].PropertyID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, overdue[i].PropertyID)
		}
	}

	limited, err := repo.ListOverdueRentals(ctx, 100, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected the scan limit to apply, got %d rentals err %v", len(limited), err)
	}
	count, err := repo.CountOverdueRentals(ctx, 100)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 overdue rentals counted, got %d err %v", count, err)
	}
}

func TestMemoryRepositoryOutboxLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	repo.now = func() time.Time { return now }

	_ = repo.WithinLedgerTx(ctx, func(tx LedgerTx) error {
		_ = tx.AppendEvent(ctx, mustEvent(t, domain.EventRentalCreated, "p1"))
		return tx.AppendEvent(ctx, mustEvent(t, domain.EventRentPaid, "p1"))
	})

	claimed, _ := repo.ClaimOutboxEvents(ctx, 10, 30)
	if len(claimed) != 2 || claimed[0].Attempts != 1 {
		t.Fatalf("expected two claimed events on first attempt, got %+v", claimed)
	}
	if again, _ := repo.ClaimOutboxEvents(ctx, 10, 30); len(again) != 0 {
		t.Fatalf("expected claimed events to be leased, got %d", len(again))
	}

	_ = repo.MarkOutboxPublished(ctx, claimed[0].Seq)
	_ = repo.MarkOutboxFailed(ctx, claimed[1].Seq, 5, "broker down")

	now = now.Add(6 * time.Second)
	retry, _ := repo.ClaimOutboxEvents(ctx, 10, 30)
	if len(retry) != 1 || retry[0].Seq != claimed[1].Seq || retry[0].Attempts != 2 {
		t.Fatalf("expected only the failed event on its second attempt, got %+v", retry)
	}
}
