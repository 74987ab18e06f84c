package domain

import "errors"

var (
	ErrUnauthorized        = errors.New("caller is not authorized")
	ErrInvalidState        = errors.New("rental is not in a valid state for this operation")
	ErrAlreadyRented       = errors.New("property is already rented")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrPaused              = errors.New("ledger is paused")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrRentalNotFound      = errors.New("rental not found")
	ErrInvalidRental       = errors.New("invalid rental")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// ErrorKind returns a stable label for err, used in API bodies and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyRented):
		return "already_rented"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, ErrRentalNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRental), errors.Is(err, ErrInvalidAmount):
		return "invalid_input"
	default:
		return "internal"
	}
}
