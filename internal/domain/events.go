package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType names a ledger notification.
type EventType string

const (
	EventRentalCreated   EventType = "RentalCreated"
	EventRentPaid        EventType = "RentPaid"
	EventRentalEnded     EventType = "RentalEnded"
	EventDepositRefunded EventType = "DepositRefunded"
	EventContractPaused  EventType = "ContractPaused"
)

// RoutingKey is the broker routing key the event is published under.
func (t EventType) RoutingKey() string {
	switch t {
	case EventRentalCreated:
		return "rental.created"
	case EventRentPaid:
		return "rental.rent_paid"
	case EventRentalEnded:
		return "rental.ended"
	case EventDepositRefunded:
		return "rental.deposit_refunded"
	case EventContractPaused:
		return "ledger.paused"
	default:
		return "ledger.unknown"
	}
}

// RentOverdueRoutingKey is used by the overdue sweep; it is a reminder, not a ledger event.
const RentOverdueRoutingKey = "rental.rent_overdue"

type RentalCreatedEvent struct {
	PropertyID    string `json:"property_id"`
	Tenant        string `json:"tenant"`
	RentAmount    int64  `json:"rent_amount"`
	DepositAmount int64  `json:"deposit_amount"`
}

type RentPaidEvent struct {
	PropertyID string `json:"property_id"`
	Amount     int64  `json:"amount"`
	Timestamp  int64  `json:"timestamp"`
}

type RentalEndedEvent struct {
	PropertyID string `json:"property_id"`
	Timestamp  int64  `json:"timestamp"`
}

type DepositRefundedEvent struct {
	PropertyID string `json:"property_id"`
	Tenant     string `json:"tenant"`
	Amount     int64  `json:"amount"`
}

type ContractPausedEvent struct {
	Paused bool `json:"paused"`
}

// RentOverdueNotice is published by the overdue sweep for every late rental.
type RentOverdueNotice struct {
	PropertyID  string `json:"property_id"`
	Tenant      string `json:"tenant"`
	RentDueDate int64  `json:"rent_due_date"`
	AmountDue   int64  `json:"amount_due"`
	CheckedAt   int64  `json:"checked_at"`
}

// LedgerEvent is one entry of the append-only notification log.
// Seq is assigned by the store when the emitting operation commits.
type LedgerEvent struct {
	Seq        int64           `json:"seq"`
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"type"`
	PropertyID string          `json:"property_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt int64           `json:"occurred_at"`
}

// NewLedgerEvent wraps a typed payload into a log entry.
func NewLedgerEvent(eventType EventType, propertyID string, payload interface{}, occurredAt int64) (LedgerEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return LedgerEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return LedgerEvent{
		ID:         uuid.New(),
		Type:       eventType,
		PropertyID: propertyID,
		Payload:    body,
		OccurredAt: occurredAt,
	}, nil
}
