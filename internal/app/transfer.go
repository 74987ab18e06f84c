package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// TransferKind labels why funds leave custody.
type TransferKind string

const (
	TransferKindRent          TransferKind = "rent"
	TransferKindDepositRefund TransferKind = "deposit_refund"
	TransferKindWithdrawal    TransferKind = "withdrawal"
)

// ErrTransferFailed wraps any failure of the outgoing transfer primitive.
var ErrTransferFailed = errors.New("transfer failed")

// TransferOrder is one outgoing movement of funds from custody.
type TransferOrder struct {
	Reference  uuid.UUID    `json:"reference"`
	To         string       `json:"to"`
	Amount     int64        `json:"amount"`
	Kind       TransferKind `json:"kind"`
	PropertyID string       `json:"property_id,omitempty"`
}

// Transferer moves funds out of custody. It must either complete the transfer
// or return an error; the ledger rolls the operation back on error.
type Transferer interface {
	Transfer(ctx context.Context, order TransferOrder) error
}

// LoggingTransferer is used when no payout provider is configured. It records the order and succeeds.
type LoggingTransferer struct {
	Logger *slog.Logger
}

func (t LoggingTransferer) Transfer(ctx context.Context, order TransferOrder) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("transfer recorded without payout provider",
		"reference", order.Reference,
		"to", order.To,
		"amount", order.Amount,
		"kind", order.Kind,
		"property_id", order.PropertyID,
	)
	return nil
}
