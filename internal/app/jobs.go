/**
 * @description
 * Scheduled job implementations for the rental-service.
 * Jobs only observe the ledger; lateness is never acted on automatically.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/transfa/rental-service/internal/domain"
	"github.com/transfa/rental-service/internal/metrics"
	"github.com/transfa/rental-service/internal/store"
	"github.com/transfa/rental-service/pkg/rabbitmq"
)

const defaultOverdueScanLimit = 500

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	exchange  string
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.LedgerMetrics
	scanLimit int
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, publisher rabbitmq.Publisher, exchange string, clock Clock, logger *slog.Logger, m *metrics.LedgerMetrics) *Jobs {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		repo:      repo,
		publisher: publisher,
		exchange:  exchange,
		clock:     clock,
		logger:    logger,
		metrics:   m,
		scanLimit: defaultOverdueScanLimit,
	}
}

// ProcessOverdueRentals is the cron entrypoint of the overdue sweep.
func (j *Jobs) ProcessOverdueRentals() {
	j.logger.Info("starting overdue rent sweep")
	notified, err := j.SweepOverdueRentals(context.Background())
	if err != nil {
		j.logger.Error("overdue rent sweep failed", "error", err)
		return
	}
	j.logger.Info("overdue rent sweep finished", "notified", notified)
}

// SweepOverdueRentals publishes a reminder for every active rental past its due date
// and returns how many reminders were published.
func (j *Jobs) SweepOverdueRentals(ctx context.Context) (int, error) {
	now := j.clock.Now().Unix()
	total, err := j.repo.CountOverdueRentals(ctx, now)
	if err != nil {
		return 0, err
	}
	j.metrics.SetOverdue(total)
	if total == 0 {
		j.logger.Info("no overdue rentals")
		return 0, nil
	}

	// Notices go out for the oldest scanLimit rentals; the rest wait for the next run.
	rentals, err := j.repo.ListOverdueRentals(ctx, now, j.scanLimit)
	if err != nil {
		return 0, err
	}
	j.logger.Info("found overdue rentals", "count", total, "notifying", len(rentals))

	notified := 0
	for _, rental := range rentals {
		notice := domain.RentOverdueNotice{
			PropertyID:  rental.PropertyID,
			Tenant:      rental.Tenant,
			RentDueDate: rental.RentDueDate,
			AmountDue:   rental.AmountDue(now),
			CheckedAt:   now,
		}
		if err := j.publisher.Publish(ctx, j.exchange, domain.RentOverdueRoutingKey, notice); err != nil {
			j.logger.Error("failed to publish overdue notice", "property_id", rental.PropertyID, "tenant", rental.Tenant, "error", err)
			continue
		}
		notified++
	}
	return notified, nil
}
