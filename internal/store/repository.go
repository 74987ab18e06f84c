/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access required
 * by the rental ledger. Mutations only happen through `WithinLedgerTx`, which gives the
 * ledger a serialized, all-or-nothing view of its state.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/transfa/rental-service/internal/domain"
)

// LedgerTx is the staged view of the ledger inside one operation.
// Nothing written through it is visible to other callers until the enclosing
// WithinLedgerTx returns nil.
type LedgerTx interface {
	// State returns the control record as loaded (and locked) at the start of the transaction,
	// including any changes staged since.
	State() domain.LedgerState
	SetPaused(ctx context.Context, paused bool) error
	SetCustodyBalance(ctx context.Context, balance int64) error

	FindRental(ctx context.Context, propertyID string) (*domain.Rental, error)
	InsertRental(ctx context.Context, rental domain.Rental) error
	UpdateRental(ctx context.Context, rental domain.Rental) error

	DepositBalance(ctx context.Context, account string) (int64, error)
	SetDepositBalance(ctx context.Context, account string, balance int64) error
	TotalDeposits(ctx context.Context) (int64, error)

	// AppendEvent stages an entry of the notification log.
	AppendEvent(ctx context.Context, event domain.LedgerEvent) error
}

// OutboxEvent is a ledger event awaiting broker delivery.
type OutboxEvent struct {
	domain.LedgerEvent
	Attempts int
}

// Repository defines the set of methods for interacting with ledger storage.
type Repository interface {
	// WithinLedgerTx runs fn with exclusive access to the ledger. If fn returns an error
	// every staged write is discarded.
	WithinLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// EnsureLedgerState creates the control record on first boot. An existing owner is kept.
	EnsureLedgerState(ctx context.Context, owner string) (domain.LedgerState, error)

	// Read surface
	GetLedgerState(ctx context.Context) (domain.LedgerState, error)
	FindRental(ctx context.Context, propertyID string) (*domain.Rental, error)
	DepositBalance(ctx context.Context, account string) (int64, error)
	TotalDeposits(ctx context.Context) (int64, error)
	ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error)
	ListOverdueRentals(ctx context.Context, now int64, limit int) ([]domain.Rental, error)
	CountOverdueRentals(ctx context.Context, now int64) (int, error)

	// Outbox methods
	ClaimOutboxEvents(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, seq int64) error
	MarkOutboxFailed(ctx context.Context, seq int64, retryAfterSeconds int, reason string) error
}
