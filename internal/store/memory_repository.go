package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transfa/rental-service/internal/domain"
)

const defaultEventPageSize = 100

type memoryOutboxEntry struct {
	attempts      int
	nextAttemptAt time.Time
	published     bool
	lastError     string
}

// MemoryRepository is an in-process Repository used when no database is configured, and in tests.
// txMu serializes ledger transactions; dataMu guards the committed maps so reads never wait on a
// transaction that is blocked in an outgoing transfer.
type MemoryRepository struct {
	txMu   sync.Mutex
	dataMu sync.RWMutex

	initialized bool
	state       domain.LedgerState
	rentals     map[string]domain.Rental
	deposits    map[string]int64
	events      []domain.LedgerEvent
	outbox      map[int64]*memoryOutboxEntry
	lastSeq     int64

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rentals:  make(map[string]domain.Rental),
		deposits: make(map[string]int64),
		outbox:   make(map[int64]*memoryOutboxEntry),
		now:      time.Now,
	}
}

func (r *MemoryRepository) EnsureLedgerState(ctx context.Context, owner string) (domain.LedgerState, error) {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.dataMu.Lock()
	defer r.dataMu.Unlock()

	if !r.initialized {
		r.state = domain.LedgerState{Owner: owner}
		r.initialized = true
	}
	return r.state, nil
}

func (r *MemoryRepository) WithinLedgerTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.dataMu.RLock()
	initialized, state := r.initialized, r.state
	r.dataMu.RUnlock()
	if !initialized {
		return ErrLedgerNotInitialized
	}

	tx := &memoryTx{
		repo:     r,
		state:    state,
		rentals:  make(map[string]domain.Rental),
		deposits: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.commit(tx)
	return nil
}

func (r *MemoryRepository) commit(tx *memoryTx) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()

	r.state = tx.state
	for id, rental := range tx.rentals {
		r.rentals[id] = rental
	}
	for account, balance := range tx.deposits {
		if balance == 0 {
			delete(r.deposits, account)
			continue
		}
		r.deposits[account] = balance
	}
	now := r.now()
	for _, event := range tx.events {
		r.lastSeq++
		event.Seq = r.lastSeq
		r.events = append(r.events, event)
		r.outbox[event.Seq] = &memoryOutboxEntry{nextAttemptAt: now}
	}
}

func (r *MemoryRepository) GetLedgerState(ctx context.Context) (domain.LedgerState, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	if !r.initialized {
		return domain.LedgerState{}, ErrLedgerNotInitialized
	}
	return r.state, nil
}

func (r *MemoryRepository) FindRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	rental, ok := r.rentals[propertyID]
	if !ok {
		return nil, domain.ErrRentalNotFound
	}
	return &rental, nil
}

func (r *MemoryRepository) DepositBalance(ctx context.Context, account string) (int64, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	return r.deposits[account], nil
}

func (r *MemoryRepository) TotalDeposits(ctx context.Context) (int64, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	var total int64
	for _, balance := range r.deposits {
		total += balance
	}
	return total, nil
}

func (r *MemoryRepository) ListEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error) {
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()

	start := sort.Search(len(r.events), func(i int) bool { return r.events[i].Seq > afterSeq })
	end := start + limit
	if end > len(r.events) {
		end = len(r.events)
	}
	page := make([]domain.LedgerEvent, end-start)
	copy(page, r.events[start:end])
	return page, nil
}

func (r *MemoryRepository) CountOverdueRentals(ctx context.Context, now int64) (int, error) {
	r.dataMu.RLock()
	defer r.dataMu.RUnlock()
	count := 0
	for _, rental := range r.rentals {
		if rental.IsOverdue(now) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) ListOverdueRentals(ctx context.Context, now int64, limit int) ([]domain.Rental, error) {
	r.dataMu.RLock()
	var overdue []domain.Rental
	for _, rental := range r.rentals {
		if rental.IsOverdue(now) {
			overdue = append(overdue, rental)
		}
	}
	r.dataMu.RUnlock()

	sort.Slice(overdue, func(i, j int) bool {
		if overdue[i].RentDueDate != overdue[j].RentDueDate {
			return overdue[i].RentDueDate < overdue[j].RentDueDate
		}
		return overdue[i].PropertyID < overdue[j].PropertyID
	})
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

func (r *MemoryRepository) ClaimOutboxEvents(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxEvent, error) {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()

	now := r.now()
	var claimed []OutboxEvent
	for _, event := range r.events {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		entry := r.outbox[event.Seq]
		if entry == nil || entry.published || entry.nextAttemptAt.After(now) {
			continue
		}
		entry.attempts++
		entry.nextAttemptAt = now.Add(time.Duration(staleAfterSeconds) * time.Second)
		claimed = append(claimed, OutboxEvent{LedgerEvent: event, Attempts: entry.attempts})
	}
	return claimed, nil
}

func (r *MemoryRepository) MarkOutboxPublished(ctx context.Context, seq int64) error {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	if entry, ok := r.outbox[seq]; ok {
		entry.published = true
		entry.lastError = ""
	}
	return nil
}

func (r *MemoryRepository) MarkOutboxFailed(ctx context.Context, seq int64, retryAfterSeconds int, reason string) error {
	r.dataMu.Lock()
	defer r.dataMu.Unlock()
	if entry, ok := r.outbox[seq]; ok {
		entry.nextAttemptAt = r.now().Add(time.Duration(retryAfterSeconds) * time.Second)
		entry.lastError = reason
	}
	return nil
}

// memoryTx stages writes over the committed maps. Reads fall through to the
// committed data when a key has not been touched in this transaction.
type memoryTx struct {
	repo     *MemoryRepository
	state    domain.LedgerState
	rentals  map[string]domain.Rental
	deposits map[string]int64
	events   []domain.LedgerEvent
}

func (t *memoryTx) State() domain.LedgerState {
	return t.state
}

func (t *memoryTx) SetPaused(ctx context.Context, paused bool) error {
	t.state.Paused = paused
	return nil
}

func (t *memoryTx) SetCustodyBalance(ctx context.Context, balance int64) error {
	t.state.CustodyBalance = balance
	return nil
}

func (t *memoryTx) lookupRental(propertyID string) (domain.Rental, bool) {
	if rental, ok := t.rentals[propertyID]; ok {
		return rental, true
	}
	t.repo.dataMu.RLock()
	defer t.repo.dataMu.RUnlock()
	rental, ok := t.repo.rentals[propertyID]
	return rental, ok
}

func (t *memoryTx) FindRental(ctx context.Context, propertyID string) (*domain.Rental, error) {
	rental, ok := t.lookupRental(propertyID)
	if !ok {
		return nil, domain.ErrRentalNotFound
	}
	return &rental, nil
}

func (t *memoryTx) InsertRental(ctx context.Context, rental domain.Rental) error {
	if _, ok := t.lookupRental(rental.PropertyID); ok {
		return domain.ErrAlreadyRented
	}
	t.rentals[rental.PropertyID] = rental
	return nil
}

func (t *memoryTx) UpdateRental(ctx context.Context, rental domain.Rental) error {
	if _, ok := t.lookupRental(rental.PropertyID); !ok {
		return domain.ErrRentalNotFound
	}
	t.rentals[rental.PropertyID] = rental
	return nil
}

func (t *memoryTx) DepositBalance(ctx context.Context, account string) (int64, error) {
	if balance, ok := t.deposits[account]; ok {
		return balance, nil
	}
	t.repo.dataMu.RLock()
	defer t.repo.dataMu.RUnlock()
	return t.repo.deposits[account], nil
}

func (t *memoryTx) SetDepositBalance(ctx context.Context, account string, balance int64) error {
	t.deposits[account] = balance
	return nil
}

func (t *memoryTx) TotalDeposits(ctx context.Context) (int64, error) {
	t.repo.dataMu.RLock()
	defer t.repo.dataMu.RUnlock()

	var total int64
	for account, balance := range t.repo.deposits {
		if _, staged := t.deposits[account]; staged {
			continue
		}
		total += balance
	}
	for _, balance := range t.deposits {
		total += balance
	}
	return total, nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, event domain.LedgerEvent) error {
	t.events = append(t.events, event)
	return nil
}
