/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Every ledger mutation runs in one pg transaction that first locks the single
 * `ledger_state` row, so operations are applied strictly one after another.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/rental-service/internal/domain"
)

var (
	ErrLedgerNotInitialized = errors.New("ledger state not initialized")
)

const (
	uniqueViolationCode    = "23505"
	defaultOverdueScanSize = 500
	rentalColumns          = `property_id, tenant, rent_amount, deposit_amount, late_fee, rent_interval,
		rent_due_date, status, start_time, end_time`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureLedgerState inserts the control row on first boot and returns the stored state.
func (r *PostgresRepository) EnsureLedgerState(ctx context.Context, owner string) (domain.LedgerState, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ledger_state (id, owner_account)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, owner)
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("failed to initialize ledger state: %w", err)
	}
	return r.GetLedgerState(ctx)
}

// WithinLedgerTx locks the ledger, runs fn and commits only if fn succeeds.
func (r *PostgresRepository) WithinLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var state domain.LedgerState
	err = tx.QueryRow(ctx, `
		SELECT owner_account, paused, custody_balance
		FROM ledger_state
		WHERE id = 1
		FOR UPDATE
	`).Scan(&state.Owner, &state.Paused, &state.CustodyBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLedgerNotInitialized
		}
		return fmt.Errorf("failed to lock ledger state: %w", err)
	}

	if err := fn(&postgresTx{tx: tx, state: state}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetLedgerState(ctx context.Context) (domain.LedgerState, error) {
	var state domain.LedgerState
	err := r.db.QueryRow(ctx, `SELECT owner_account, paused, custody_balance FROM ledger_state WHERE id = 1`).
		Scan(&state.Owner, &state.Paused, &state.CustodyBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerState{}, ErrLedgerNotInitialized
		}
		return domain.LedgerState{}, err
	}
	return state, nil
}

func (r *PostgresRepository) FindRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	row := r.db.QueryRow(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE property_id = $1`, propertyID)
	return scanRental(row)
}

func (r *PostgresRepository) DepositBalance(ctx context.Context, account string) (int64, error) {
	return queryDepositBalance(ctx, r.db, account)
}

func (r *PostgresRepository) TotalDeposits(ctx context.Context) (int64, error) {
	return queryTotalDeposits(ctx, r.db)
}

// ListEvents returns the notification log in sequence order, starting after afterSeq.
func (r *PostgresRepository) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	rows, err := r.db.Query(ctx, `
		SELECT seq, id, event_type, COALESCE(property_id, ''), payload, occurred_at
		FROM ledger_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var event domain.LedgerEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.ID, &event.Type, &event.PropertyID, &payload, &event.OccurredAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListOverdueRentals finds active rentals whose due date has passed at now.
func (r *PostgresRepository) ListOverdueRentals(ctx context.Context, now int64, limit int) ([]domain.Rental, error) {
	if limit <= 0 {
		limit = defaultOverdueScanSize
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+rentalColumns+`
		FROM rentals
		WHERE status = 'active' AND rent_due_date < $1
		ORDER BY rent_due_date, property_id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rentals []domain.Rental
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *rental)
	}
	return rentals, rows.Err()
}

// CountOverdueRentals counts every overdue rental, without the scan limit.
func (r *PostgresRepository) CountOverdueRentals(ctx context.Context, now int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)::int FROM rentals WHERE status = 'active' AND rent_due_date < $1
	`, now).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ClaimOutboxEvents leases a batch of unpublished events. A claimed row becomes
// claimable again after staleAfterSeconds if it is never marked.
func (r *PostgresRepository) ClaimOutboxEvents(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		WITH claimable AS (
			SELECT seq
			FROM ledger_events
			WHERE published_at IS NULL AND next_attempt_at <= NOW()
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ledger_events e
		SET attempts = e.attempts + 1,
			next_attempt_at = NOW() + ($2::int * INTERVAL '1 second')
		FROM claimable c
		WHERE e.seq = c.seq
		RETURNING e.seq, e.id, e.event_type, COALESCE(e.property_id, ''), e.payload, e.occurred_at, e.attempts
	`, limit, staleAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var claimed []OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.ID, &event.Type, &event.PropertyID, &payload, &event.OccurredAt, &event.Attempts); err != nil {
			return nil, err
		}
		event.Payload = payload
		claimed = append(claimed, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].Seq < claimed[j].Seq })
	return claimed, nil
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, seq int64) error {
	_, err := r.db.Exec(ctx, `UPDATE ledger_events SET published_at = NOW(), last_error = NULL WHERE seq = $1`, seq)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, seq int64, retryAfterSeconds int, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE ledger_events
		SET next_attempt_at = NOW() + ($2::int * INTERVAL '1 second'), last_error = $3
		WHERE seq = $1
	`, seq, retryAfterSeconds, reason)
	return err
}

// postgresTx implements LedgerTx on top of a pgx transaction holding the ledger_state lock.
type postgresTx struct {
	tx    pgx.Tx
	state domain.LedgerState
}

func (t *postgresTx) State() domain.LedgerState {
	return t.state
}

func (t *postgresTx) SetPaused(ctx context.Context, paused bool) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET paused = $1, updated_at = NOW() WHERE id = 1`, paused); err != nil {
		return fmt.Errorf("failed to update pause flag: %w", err)
	}
	t.state.Paused = paused
	return nil
}

func (t *postgresTx) SetCustodyBalance(ctx context.Context, balance int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_state SET custody_balance = $1, updated_at = NOW() WHERE id = 1`, balance); err != nil {
		return fmt.Errorf("failed to update custody balance: %w", err)
	}
	t.state.CustodyBalance = balance
	return nil
}

func (t *postgresTx) FindRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE property_id = $1 FOR UPDATE`, propertyID)
	return scanRental(row)
}

func (t *postgresTx) InsertRental(ctx context.Context, rental domain.Rental) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO rentals (`+rentalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (property_id) DO NOTHING
	`,
		rental.PropertyID,
		rental.Tenant,
		rental.RentAmount,
		rental.DepositAmount,
		rental.LateFee,
		rental.RentInterval,
		rental.RentDueDate,
		string(rental.Status),
		rental.StartTime,
		rental.EndTime,
	)
	if err != nil {
		return insertRentalResult(0, err)
	}
	return insertRentalResult(tag.RowsAffected(), nil)
}

// insertRentalResult maps an ON CONFLICT DO NOTHING insert, or a racing unique violation, to ErrAlreadyRented.
func insertRentalResult(rowsAffected int64, err error) error {
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyRented, pgErr.ConstraintName)
		}
		return fmt.Errorf("failed to insert rental: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrAlreadyRented
	}
	return nil
}

func (t *postgresTx) UpdateRental(ctx context.Context, rental domain.Rental) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE rentals
		SET rent_due_date = $2, status = $3, start_time = $4, end_time = $5, updated_at = NOW()
		WHERE property_id = $1
	`, rental.PropertyID, rental.RentDueDate, string(rental.Status), rental.StartTime, rental.EndTime)
	if err != nil {
		return fmt.Errorf("failed to update rental: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRentalNotFound
	}
	return nil
}

func (t *postgresTx) DepositBalance(ctx context.Context, account string) (int64, error) {
	return queryDepositBalance(ctx, t.tx, account)
}

func (t *postgresTx) SetDepositBalance(ctx context.Context, account string, balance int64) error {
	var err error
	if balance == 0 {
		_, err = t.tx.Exec(ctx, `DELETE FROM deposits WHERE account = $1`, account)
	} else {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO deposits (account, balance)
			VALUES ($1, $2)
			ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()
		`, account, balance)
	}
	if err != nil {
		return fmt.Errorf("failed to update deposit balance: %w", err)
	}
	return nil
}

func (t *postgresTx) TotalDeposits(ctx context.Context) (int64, error) {
	return queryTotalDeposits(ctx, t.tx)
}

func (t *postgresTx) AppendEvent(ctx context.Context, event domain.LedgerEvent) error {
	var propertyID *string
	if event.PropertyID != "" {
		propertyID = &event.PropertyID
	}
	// Payload goes over the wire as text; simple-protocol mode would otherwise send []byte as bytea.
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_events (id, event_type, property_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, event.ID, string(event.Type), propertyID, string(event.Payload), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryDepositBalance(ctx context.Context, q querier, account string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM deposits WHERE account = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

func queryTotalDeposits(ctx context.Context, q querier) (int64, error) {
	var total int64
	if err := q.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0)::bigint FROM deposits`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func scanRental(row pgx.Row) (*domain.Rental, error) {
	var rental domain.Rental
	var status string
	err := row.Scan(
		&rental.PropertyID,
		&rental.Tenant,
		&rental.RentAmount,
		&rental.DepositAmount,
		&rental.LateFee,
		&rental.RentInterval,
		&rental.RentDueDate,
		&status,
		&rental.StartTime,
		&rental.EndTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRentalNotFound
		}
		return nil, err
	}
	rental.Status = domain.RentalStatus(status)
	return &rental, nil
}
