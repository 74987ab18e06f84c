package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/metrics"
	"github.com/transfa/rental-service/internal/store"
	"github.com/transfa/rental-service/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
	maxRetryDelaySeconds   = 300
)

// OutboxMessage is the envelope published for every ledger event.
type OutboxMessage struct {
	ID         string           `json:"id"`
	Seq        int64            `json:"seq"`
	Type       domain.EventType `json:"type"`
	PropertyID string           `json:"property_id,omitempty"`
	OccurredAt int64            `json:"occurred_at"`
	Payload    any              `json:"payload"`
}

// OutboxDispatcher delivers committed ledger events to the broker, at least once and in sequence order per batch.
type OutboxDispatcher struct {
	repo                store.Repository
	producer            rabbitmq.Publisher
	exchange            string
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	logger              *slog.Logger
	metrics             *metrics.LedgerMetrics
}

func NewOutboxDispatcher(repo store.Repository, producer rabbitmq.Publisher, exchange string, logger *slog.Logger, m *metrics.LedgerMetrics) *OutboxDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		repo:                repo,
		producer:            producer,
		exchange:            exchange,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
		logger:              logger,
		metrics:             m,
	}
}

// WithBatchSize overrides the number of events claimed per poll. Non-positive values are ignored.
func (d *OutboxDispatcher) WithBatchSize(size int) *OutboxDispatcher {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

// WithPollInterval overrides the polling period. Non-positive values are ignored.
func (d *OutboxDispatcher) WithPollInterval(interval time.Duration) *OutboxDispatcher {
	if interval > 0 {
		d.pollInterval = interval
	}
	return d
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started", "exchange", d.exchange, "batch_size", d.batchSize, "poll_interval", d.pollInterval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				d.logger.Error("outbox flush error", "error", err)
			}
		}
	}
}

// FlushOnce claims one batch and publishes it. It returns the number of events published.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	events, err := d.repo.ClaimOutboxEvents(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := d.publish(ctx, event); err != nil {
			d.metrics.ObserveOutbox(false)
			retryAfter := retryDelaySeconds(event.Attempts)
			d.logger.Warn("outbox publish failed",
				"seq", event.Seq,
				"type", event.Type,
				"attempts", event.Attempts,
				"retry_after_seconds", retryAfter,
				"error", err,
			)
			if markErr := d.repo.MarkOutboxFailed(ctx, event.Seq, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to mark outbox event as failed", "seq", event.Seq, "error", markErr)
			}
			continue
		}
		d.metrics.ObserveOutbox(true)
		published++
		if err := d.repo.MarkOutboxPublished(ctx, event.Seq); err != nil {
			d.logger.Error("failed to mark outbox event as published", "seq", event.Seq, "error", err)
		}
	}
	return published, nil
}

// MessageID lets the producer stamp the event id on the AMQP message.
func (m OutboxMessage) MessageID() string {
	return m.ID
}

func (d *OutboxDispatcher) publish(ctx context.Context, event store.OutboxEvent) error {
	message := OutboxMessage{
		ID:         event.ID.String(),
		Seq:        event.Seq,
		Type:       event.Type,
		PropertyID: event.PropertyID,
		OccurredAt: event.OccurredAt,
		Payload:    event.Payload,
	}
	return d.producer.Publish(ctx, d.exchange, event.Type.RoutingKey(), message)
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > maxRetryDelaySeconds {
		return maxRetryDelaySeconds
	}
	return delay
}
