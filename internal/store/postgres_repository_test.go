package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/rental-service/internal/domain"
)

// rowStub is a pgx.Row that either fails or copies fixed values into the scan targets.
type rowStub struct {
	err    error
	values []any
}

func (r rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, target := range dest {
		switch p := target.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

func TestInsertRentalResult(t *testing.T) {
	cases := []struct {
		name         string
		rowsAffected int64
		err          error
		want         error
	}{
		{name: "inserted", rowsAffected: 1},
		{name: "conflict skipped", rowsAffected: 0, want: domain.ErrAlreadyRented},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", ConstraintName: "rentals_pkey"}, want: domain.ErrAlreadyRented},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := insertRentalResult(tc.rowsAffected, tc.err)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInsertRentalResultWrapsOtherErrors(t *testing.T) {
	dbErr := &pgconn.PgError{Code: "23514", Message: "check constraint"}
	err := insertRentalResult(0, dbErr)
	if errors.Is(err, domain.ErrAlreadyRented) {
		t.Fatalf("check violation must not read as already rented: %v", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("expected the driver error to stay in the chain, got %v", err)
	}
}

func TestScanRentalNoRows(t *testing.T) {
	_, err := scanRental(rowStub{err: pgx.ErrNoRows})
	if !errors.Is(err, domain.ErrRentalNotFound) {
		t.Fatalf("expected ErrRentalNotFound, got %v", err)
	}
}

func TestScanRentalMapsColumns(t *testing.T) {
	rental, err := scanRental(rowStub{values: []any{
		"prop-9", "tenant-9", int64(100), int64(50), int64(10), int64(60), int64(1060), "active", int64(1000), int64(0),
	}})
	if err != nil {
		t.Fatalf("scanRental returned error: %v", err)
	}
	if rental.PropertyID != "prop-9" || rental.Status != domain.RentalStatusActive || rental.RentDueDate != 1060 {
		t.Fatalf("unexpected rental: %+v", rental)
	}
}
