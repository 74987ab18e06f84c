package app

import (
	"fmt"
	"math"

	"github.com/transfa/rental-service/internal/domain"
)

// Precondition checks shared by the ledger operations. Each returns a wrapped
// domain sentinel so callers can match the failure kind with errors.Is.

func requireNotPaused(state domain.LedgerState) error {
	if state.Paused {
		return domain.ErrPaused
	}
	return nil
}

func requireOwner(state domain.LedgerState, caller string) error {
	if caller == "" || caller != state.Owner {
		return fmt.Errorf("%w: owner only", domain.ErrUnauthorized)
	}
	return nil
}

func requireTenant(rental *domain.Rental, caller string) error {
	if caller == "" || caller != rental.Tenant {
		return fmt.Errorf("%w: tenant of %s only", domain.ErrUnauthorized, rental.PropertyID)
	}
	return nil
}

func requireStatus(rental *domain.Rental, want domain.RentalStatus) error {
	if rental.Status != want {
		return fmt.Errorf("%w: rental %s is %s, want %s", domain.ErrInvalidState, rental.PropertyID, rental.Status, want)
	}
	return nil
}

func requirePayment(payment, required int64) error {
	if payment < required {
		return fmt.Errorf("%w: paid %d, required %d", domain.ErrInsufficientPayment, payment, required)
	}
	return nil
}

func requireNonNegative(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: payment must not be negative", domain.ErrInvalidAmount)
	}
	return nil
}

func requireSchedulable(rental *domain.Rental, from int64) error {
	if from > math.MaxInt64-rental.RentInterval {
		return fmt.Errorf("%w: next due date of %s would overflow", domain.ErrInvalidRental, rental.PropertyID)
	}
	return nil
}
