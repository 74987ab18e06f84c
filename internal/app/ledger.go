/**
 * @description
 * This file contains the rental ledger: the lifecycle state machine of every rental
 * and the custody of the funds paid into it. The `Ledger` struct runs each operation
 * inside one repository transaction, so an operation either applies completely
 * (state, deposits, events, outgoing transfer) or not at all.
 *
 * Key features:
 * - Owner operations: create and end rentals, pause the ledger, withdraw uncommitted funds.
 * - Tenant operations: activate a rental, pay rent (late fee once past due), read the deposit.
 * - Every mutation appends notification events that the outbox dispatcher delivers later.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/metrics: Prometheus counters for operations and transfers.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/metrics"
	"github.com/transfa/rental-service/internal/store"
)

// Ledger owns the rental records, the deposit balances and the custody balance.
type Ledger struct {
	repo      store.Repository
	transfers Transferer
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.LedgerMetrics
}

// NewLedger creates a new ledger instance. A nil clock, logger or transferer falls back
// to the wall clock, slog.Default() and LoggingTransferer respectively.
func NewLedger(repo store.Repository, transfers Transferer, clock Clock, logger *slog.Logger, m *metrics.LedgerMetrics) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if transfers == nil {
		transfers = LoggingTransferer{Logger: logger}
	}
	return &Ledger{
		repo:      repo,
		transfers: transfers,
		clock:     clock,
		logger:    logger,
		metrics:   m,
	}
}

// CreateRental inserts a pending rental. Owner only.
func (l *Ledger) CreateRental(ctx context.Context, caller string, params domain.CreateRentalParams) (*domain.Rental, error) {
	params.Normalize()

	var created domain.Rental
	err := l.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		state := tx.State()
		if err := requireNotPaused(state); err != nil {
			return err
		}
		if err := requireOwner(state, caller); err != nil {
			return err
		}
		if err := params.Validate(); err != nil {
			return err
		}

		existing, err := tx.FindRental(ctx, params.PropertyID)
		switch {
		case err == nil && existing.Tenant != "":
			return fmt.Errorf("%w: %s", domain.ErrAlreadyRented, params.PropertyID)
		case err != nil && !errors.Is(err, domain.ErrRentalNotFound):
			return fmt.Errorf("failed to look up rental: %w", err)
		}

		created = domain.NewPendingRental(params)
		if err := tx.InsertRental(ctx, created); err != nil {
			return err
		}
		return l.emit(ctx, tx, domain.EventRentalCreated, created.PropertyID, domain.RentalCreatedEvent{
			PropertyID:    created.PropertyID,
			Tenant:        created.Tenant,
			RentAmount:    created.RentAmount,
			DepositAmount: created.DepositAmount,
		})
	})
	l.observe("create_rental", caller, params.PropertyID, err)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ActivateRental moves a pending rental to active. The tenant pays rent plus deposit;
// the rent goes to the owner, the deposit is held for the tenant, and any excess stays
// in custody where it becomes withdrawable by the owner.
func (l *Ledger) ActivateRental(ctx context.Context, caller, propertyID string, payment int64) (*domain.Rental, error) {
	var activated domain.Rental
	err := l.withTransfer(ctx, func(tx store.LedgerTx, pending *[]TransferOrder) error {
		state := tx.State()
		if err := requireNotPaused(state); err != nil {
			return err
		}
		rental, err := tx.FindRental(ctx, propertyID)
		if err != nil {
			return err
		}
		if err := requireTenant(rental, caller); err != nil {
			return err
		}
		if err := requireStatus(rental, domain.RentalStatusPending); err != nil {
			return err
		}
		if err := requireNonNegative(payment); err != nil {
			return err
		}
		if err := requirePayment(payment, rental.ActivationAmount()); err != nil {
			return err
		}
		if state.CustodyBalance > math.MaxInt64-payment {
			return fmt.Errorf("%w: custody balance would overflow", domain.ErrInvalidAmount)
		}
		now := l.now()
		if err := requireSchedulable(rental, now); err != nil {
			return err
		}

		deposit, err := tx.DepositBalance(ctx, caller)
		if err != nil {
			return err
		}
		if err := tx.SetDepositBalance(ctx, caller, deposit+rental.DepositAmount); err != nil {
			return err
		}
		// The payment enters custody and the rent leaves it in the same step.
		if err := tx.SetCustodyBalance(ctx, state.CustodyBalance+payment-rental.RentAmount); err != nil {
			return err
		}

		rental.Status = domain.RentalStatusActive
		rental.StartTime = now
		rental.RentDueDate = now + rental.RentInterval
		if err := tx.UpdateRental(ctx, *rental); err != nil {
			return err
		}
		if err := l.emit(ctx, tx, domain.EventRentPaid, rental.PropertyID, domain.RentPaidEvent{
			PropertyID: rental.PropertyID,
			Amount:     rental.RentAmount,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		activated = *rental
		*pending = append(*pending, TransferOrder{
			To:         state.Owner,
			Amount:     rental.RentAmount,
			Kind:       TransferKindRent,
			PropertyID: rental.PropertyID,
		})
		return nil
	})
	l.observe("activate_rental", caller, propertyID, err)
	if err != nil {
		return nil, err
	}
	return &activated, nil
}

// PayRent settles one rent period. The whole payment is forwarded to the owner and
// the due date advances by exactly one interval.
func (l *Ledger) PayRent(ctx context.Context, caller, propertyID string, payment int64) (*domain.Rental, error) {
	var paid domain.Rental
	err := l.withTransfer(ctx, func(tx store.LedgerTx, pending *[]TransferOrder) error {
		state := tx.State()
		if err := requireNotPaused(state); err != nil {
			return err
		}
		rental, err := tx.FindRental(ctx, propertyID)
		if err != nil {
			return err
		}
		if err := requireTenant(rental, caller); err != nil {
			return err
		}
		if err := requireStatus(rental, domain.RentalStatusActive); err != nil {
			return err
		}
		now := l.now()
		if err := requireNonNegative(payment); err != nil {
			return err
		}
		if err := requirePayment(payment, rental.AmountDue(now)); err != nil {
			return err
		}
		if err := requireSchedulable(rental, rental.RentDueDate); err != nil {
			return err
		}

		rental.RentDueDate += rental.RentInterval
		if err := tx.UpdateRental(ctx, *rental); err != nil {
			return err
		}
		if err := l.emit(ctx, tx, domain.EventRentPaid, rental.PropertyID, domain.RentPaidEvent{
			PropertyID: rental.PropertyID,
			Amount:     payment,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		paid = *rental
		*pending = append(*pending, TransferOrder{
			To:         state.Owner,
			Amount:     payment,
			Kind:       TransferKindRent,
			PropertyID: rental.PropertyID,
		})
		return nil
	})
	l.observe("pay_rent", caller, propertyID, err)
	if err != nil {
		return nil, err
	}
	return &paid, nil
}

// EndRental expires an active rental and refunds the tenant's whole deposit balance. Owner only.
func (l *Ledger) EndRental(ctx context.Context, caller, propertyID string) (*domain.Rental, error) {
	var ended domain.Rental
	err := l.withTransfer(ctx, func(tx store.LedgerTx, pending *[]TransferOrder) error {
		state := tx.State()
		if err := requireNotPaused(state); err != nil {
			return err
		}
		if err := requireOwner(state, caller); err != nil {
			return err
		}
		rental, err := tx.FindRental(ctx, propertyID)
		if err != nil {
			return err
		}
		if err := requireStatus(rental, domain.RentalStatusActive); err != nil {
			return err
		}

		now := l.now()
		rental.Status = domain.RentalStatusExpired
		rental.EndTime = now
		if err := tx.UpdateRental(ctx, *rental); err != nil {
			return err
		}

		refund, err := tx.DepositBalance(ctx, rental.Tenant)
		if err != nil {
			return err
		}
		if refund > 0 {
			if err := tx.SetDepositBalance(ctx, rental.Tenant, 0); err != nil {
				return err
			}
			if err := tx.SetCustodyBalance(ctx, state.CustodyBalance-refund); err != nil {
				return err
			}
			if err := l.emit(ctx, tx, domain.EventDepositRefunded, rental.PropertyID, domain.DepositRefundedEvent{
				PropertyID: rental.PropertyID,
				Tenant:     rental.Tenant,
				Amount:     refund,
			}); err != nil {
				return err
			}
			*pending = append(*pending, TransferOrder{
				To:         rental.Tenant,
				Amount:     refund,
				Kind:       TransferKindDepositRefund,
				PropertyID: rental.PropertyID,
			})
		}
		if err := l.emit(ctx, tx, domain.EventRentalEnded, rental.PropertyID, domain.RentalEndedEvent{
			PropertyID: rental.PropertyID,
			Timestamp:  now,
		}); err != nil {
			return err
		}

		ended = *rental
		return nil
	})
	l.observe("end_rental", caller, propertyID, err)
	if err != nil {
		return nil, err
	}
	return &ended, nil
}

// GetDeposit returns the caller's deposit balance. Only the tenant of propertyID may ask.
func (l *Ledger) GetDeposit(ctx context.Context, caller, propertyID string) (int64, error) {
	rental, err := l.repo.FindRental(ctx, propertyID)
	if err != nil {
		return 0, err
	}
	if err := requireTenant(rental, caller); err != nil {
		return 0, err
	}
	return l.repo.DepositBalance(ctx, caller)
}

// WithdrawFunds sends the uncommitted custody balance (custody minus outstanding deposits)
// to the owner and returns the amount sent. It is not gated by the pause flag.
func (l *Ledger) WithdrawFunds(ctx context.Context, caller string) (int64, error) {
	var withdrawn int64
	err := l.withTransfer(ctx, func(tx store.LedgerTx, pending *[]TransferOrder) error {
		state := tx.State()
		if err := requireOwner(state, caller); err != nil {
			return err
		}
		committed, err := tx.TotalDeposits(ctx)
		if err != nil {
			return err
		}
		available := state.CustodyBalance - committed
		if available <= 0 {
			return domain.ErrNothingToWithdraw
		}
		if err := tx.SetCustodyBalance(ctx, committed); err != nil {
			return err
		}

		withdrawn = available
		*pending = append(*pending, TransferOrder{
			To:     state.Owner,
			Amount: available,
			Kind:   TransferKindWithdrawal,
		})
		return nil
	})
	l.observe("withdraw_funds", caller, "", err)
	if err != nil {
		return 0, err
	}
	return withdrawn, nil
}

// SetPaused sets the global pause flag. Owner only; allowed while paused.
func (l *Ledger) SetPaused(ctx context.Context, caller string, paused bool) error {
	err := l.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		if err := requireOwner(tx.State(), caller); err != nil {
			return err
		}
		if err := tx.SetPaused(ctx, paused); err != nil {
			return err
		}
		return l.emit(ctx, tx, domain.EventContractPaused, "", domain.ContractPausedEvent{Paused: paused})
	})
	l.observe("set_paused", caller, "", err)
	return err
}

// GetRental returns the record for propertyID, including expired ones.
func (l *Ledger) GetRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	return l.repo.FindRental(ctx, propertyID)
}

// DepositOf returns the deposit balance held for account.
func (l *Ledger) DepositOf(ctx context.Context, account string) (int64, error) {
	return l.repo.DepositBalance(ctx, account)
}

// Summary returns the ledger control record with its committed and withdrawable amounts.
func (l *Ledger) Summary(ctx context.Context) (domain.LedgerSummary, error) {
	state, err := l.repo.GetLedgerState(ctx)
	if err != nil {
		return domain.LedgerSummary{}, err
	}
	committed, err := l.repo.TotalDeposits(ctx)
	if err != nil {
		return domain.LedgerSummary{}, err
	}
	withdrawable := state.CustodyBalance - committed
	if withdrawable < 0 {
		withdrawable = 0
	}
	return domain.LedgerSummary{
		LedgerState:         state,
		OutstandingDeposits: committed,
		Withdrawable:        withdrawable,
	}, nil
}

// Events returns the notification log after sequence number after.
func (l *Ledger) Events(ctx context.Context, after int64, limit int) ([]domain.LedgerEvent, error) {
	return l.repo.ListEvents(ctx, after, limit)
}

// withTransfer runs fn in a ledger transaction and executes the transfers it queues
// as the last step before commit. A failed transfer aborts the whole transaction.
func (l *Ledger) withTransfer(ctx context.Context, fn func(tx store.LedgerTx, pending *[]TransferOrder) error) error {
	var executed []TransferOrder
	err := l.repo.WithinLedgerTx(ctx, func(tx store.LedgerTx) error {
		var pending []TransferOrder
		if err := fn(tx, &pending); err != nil {
			return err
		}
		for _, order := range pending {
			order.Reference = uuid.New()
			if err := l.transfer(ctx, order); err != nil {
				return err
			}
			executed = append(executed, order)
		}
		return nil
	})
	if err != nil && len(executed) > 0 {
		// Funds already left custody but the ledger did not record it.
		for _, order := range executed {
			l.logger.Error("ledger transaction failed after transfer; manual reconciliation required",
				"reference", order.Reference,
				"to", order.To,
				"amount", order.Amount,
				"kind", order.Kind,
				"property_id", order.PropertyID,
				"error", err,
			)
		}
	}
	return err
}

func (l *Ledger) transfer(ctx context.Context, order TransferOrder) error {
	if order.Amount == 0 {
		return nil
	}
	err := l.transfers.Transfer(ctx, order)
	l.metrics.ObserveTransfer(string(order.Kind), order.Amount, err)
	if err != nil {
		l.logger.Error("outgoing transfer failed",
			"reference", order.Reference,
			"to", order.To,
			"amount", order.Amount,
			"kind", order.Kind,
			"property_id", order.PropertyID,
			"error", err,
		)
		return fmt.Errorf("%w: %s of %d to %s: %v", ErrTransferFailed, order.Kind, order.Amount, order.To, err)
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, tx store.LedgerTx, eventType domain.EventType, propertyID string, payload interface{}) error {
	event, err := domain.NewLedgerEvent(eventType, propertyID, payload, l.now())
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, event)
}

func (l *Ledger) observe(operation, caller, propertyID string, err error) {
	kind := domain.ErrorKind(err)
	if errors.Is(err, ErrTransferFailed) {
		kind = "transfer_failed"
	}
	l.metrics.ObserveOperation(operation, kind)
	if err != nil {
		l.logger.Warn("ledger operation rejected",
			"operation", operation,
			"caller", caller,
			"property_id", propertyID,
			"kind", kind,
			"error", err,
		)
	}
}

func (l *Ledger) now() int64 {
	return l.clock.Now().Unix()
}
