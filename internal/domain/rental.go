/**
 * @description
 * This file defines the core domain models for the rental-service.
 * A Rental is one property's agreement; its identity is the property id.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit (kobo).
 * - Timestamps are Unix seconds. Zero means "not set yet".
 */

package domain

import (
	"fmt"
	"math"
	"strings"
)

// RentalStatus is the lifecycle state of a rental agreement.
type RentalStatus string

const (
	RentalStatusPending RentalStatus = "pending"
	RentalStatusActive  RentalStatus = "active"
	RentalStatusExpired RentalStatus = "expired"
)

// Rental represents one property's rental agreement.
// This struct maps directly to the `rentals` table in the database.
type Rental struct {
	PropertyID    string       `json:"property_id"`
	Tenant        string       `json:"tenant"`
	RentAmount    int64        `json:"rent_amount"`
	DepositAmount int64        `json:"deposit_amount"`
	LateFee       int64        `json:"late_fee"`
	RentInterval  int64        `json:"rent_interval"` // seconds between due dates
	RentDueDate   int64        `json:"rent_due_date"`
	Status        RentalStatus `json:"status"`
	StartTime     int64        `json:"start_time"`
	EndTime       int64        `json:"end_time"`
}

// ActivationAmount is the minimum payment accepted by activation.
func (r Rental) ActivationAmount() int64 {
	return r.RentAmount + r.DepositAmount
}

// IsOverdue reports whether rent is late at the given time.
func (r Rental) IsOverdue(now int64) bool {
	return r.Status == RentalStatusActive && now > r.RentDueDate
}

// AmountDue is the rent owed at the given time, including the late fee once the due date has passed.
func (r Rental) AmountDue(now int64) int64 {
	total := r.RentAmount
	if now > r.RentDueDate {
		total += r.LateFee
	}
	return total
}

// CreateRentalParams is the input of a rental creation.
type CreateRentalParams struct {
	PropertyID    string `json:"property_id"`
	Tenant        string `json:"tenant"`
	RentAmount    int64  `json:"rent_amount"`
	DepositAmount int64  `json:"deposit_amount"`
	LateFee       int64  `json:"late_fee"`
	RentInterval  int64  `json:"rent_interval"`
}

// Normalize trims identifiers in place.
func (p *CreateRentalParams) Normalize() {
	p.PropertyID = strings.TrimSpace(p.PropertyID)
	p.Tenant = strings.TrimSpace(p.Tenant)
}

// Validate checks the static invariants of a new rental.
func (p CreateRentalParams) Validate() error {
	switch {
	case p.PropertyID == "":
		return fmt.Errorf("%w: property id is required", ErrInvalidRental)
	case p.Tenant == "":
		return fmt.Errorf("%w: tenant is required", ErrInvalidRental)
	case p.RentAmount < 0 || p.DepositAmount < 0 || p.LateFee < 0:
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidRental)
	case p.RentInterval <= 0:
		return fmt.Errorf("%w: rent interval must be positive", ErrInvalidRental)
	case p.RentAmount > math.MaxInt64-p.DepositAmount || p.RentAmount > math.MaxInt64-p.LateFee:
		return fmt.Errorf("%w: amounts overflow", ErrInvalidRental)
	}
	return nil
}

// NewPendingRental builds the record inserted by a successful creation.
func NewPendingRental(p CreateRentalParams) Rental {
	return Rental{
		PropertyID:    p.PropertyID,
		Tenant:        p.Tenant,
		RentAmount:    p.RentAmount,
		DepositAmount: p.DepositAmount,
		LateFee:       p.LateFee,
		RentInterval:  p.RentInterval,
		Status:        RentalStatusPending,
	}
}

// LedgerState is the global control record of the ledger.
type LedgerState struct {
	Owner          string `json:"owner"`
	Paused         bool   `json:"paused"`
	CustodyBalance int64  `json:"custody_balance"`
}

// LedgerSummary is the read view returned by the API.
type LedgerSummary struct {
	LedgerState
	OutstandingDeposits int64 `json:"outstanding_deposits"`
	Withdrawable        int64 `json:"withdrawable"`
}
