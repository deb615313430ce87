package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// memStore is an in-memory ledger with per-account row locks that are held
// until the unit of work ends, like SELECT ... FOR UPDATE. A non-zero
// lockTimeout bounds the wait the way lock_timeout does.
type memStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*domain.Account
	order     []uuid.UUID
	balances  map[uuid.UUID]domain.Balance
	txns      map[uuid.UUID]domain.Transaction
	byKey     map[string]uuid.UUID
	reversals map[uuid.UUID]uuid.UUID
	entries   []domain.LedgerEntry
	rowLocks  map[uuid.UUID]chan struct{}
	subs      map[uuid.UUID]*domain.Subscription
	outbox    []store.OutboxMessage
	lockCalls int

	lockTimeout time.Duration
}

var (
	_ store.LedgerStore            = (*memStore)(nil)
	_ store.AccountRepository      = (*memStore)(nil)
	_ store.SubscriptionRepository = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[uuid.UUID]*domain.Account),
		balances:  make(map[uuid.UUID]domain.Balance),
		txns:      make(map[uuid.UUID]domain.Transaction),
		byKey:     make(map[string]uuid.UUID),
		reversals: make(map[uuid.UUID]uuid.UUID),
		rowLocks:  make(map[uuid.UUID]chan struct{}),
		subs:      make(map[uuid.UUID]*domain.Subscription),
	}
}

// addAccount creates an ACTIVE account with a zero balance.
func (m *memStore) addAccount(t *testing.T, userID, currency string) uuid.UUID {
	t.Helper()
	ab, err := m.CreateAccountWithBalance(context.Background(), &domain.Account{
		UserID:   userID,
		Type:     domain.AccountTypeChecking,
		Currency: currency,
		Status:   domain.AccountStatusActive,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return ab.Account.ID
}

func (m *memStore) balance(id uuid.UUID) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id].Amount
}

func (m *memStore) setStatus(id uuid.UUID, status domain.AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id].Status = status
}

func (m *memStore) transactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txns)
}

func (m *memStore) entriesFor(accountID uuid.UUID) []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

// rowLock returns the account's lock; sending acquires it, receiving releases it.
func (m *memStore) rowLock(id uuid.UUID) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.rowLocks[id] = l
	}
	return l
}

// ─── LedgerStore ────────────────────────────────────────────────────────────

func (m *memStore) RunInTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	tx := &memTx{store: m, balances: make(map[uuid.UUID]domain.Balance)}
	defer tx.releaseLocks()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *memStore) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	txn := m.txns[id]
	return &txn, nil
}

func (m *memStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &txn, nil
}

func (m *memStore) GetTransactionLedger(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entriesOfLocked(transactionID), nil
}

func (m *memStore) entriesOfLocked(transactionID uuid.UUID) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range m.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) GetAccountLedger(ctx context.Context, accountID uuid.UUID, limit int, before *time.Time) ([]domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.AccountID != accountID {
			continue
		}
		if before != nil && !e.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// memTx stages writes until commit. Row locks are taken on LockAccountBalance.
type memTx struct {
	store    *memStore
	held     []chan struct{}
	balances map[uuid.UUID]domain.Balance
	txns     []domain.Transaction
	entries  []domain.LedgerEntry
	events   []store.OutboxEvent
}

func (tx *memTx) releaseLocks() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		<-tx.held[i]
	}
	tx.held = nil
}

func (tx *memTx) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return tx.store.FindTransactionByIdempotencyKey(ctx, key)
}

func (tx *memTx) FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return tx.store.GetTransaction(ctx, id)
}

func (tx *memTx) FindLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return tx.store.GetTransactionLedger(ctx, transactionID)
}

func (tx *memTx) IsReversed(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	_, ok := tx.store.reversals[transactionID]
	return ok, nil
}

func (tx *memTx) LockAccountBalance(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error) {
	tx.store.mu.Lock()
	tx.store.lockCalls++
	_, exists := tx.store.accounts[accountID]
	tx.store.mu.Unlock()
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	var expired <-chan time.Time
	if tx.store.lockTimeout > 0 {
		timer := time.NewTimer(tx.store.lockTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	l := tx.store.rowLock(accountID)
	select {
	case l <- struct{}{}:
	case <-expired:
		return nil, fmt.Errorf("lock balance %s: %w", accountID, domain.ErrLockTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	tx.held = append(tx.held, l)

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	bal := tx.store.balances[accountID]
	tx.balances[accountID] = bal
	return &domain.AccountBalance{Account: *tx.store.accounts[accountID], Balance: bal}, nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if _, ok := tx.store.byKey[txn.IdempotencyKey]; ok {
		return domain.ErrDuplicateIdempotencyKey
	}
	if txn.ReversesTransactionID != nil {
		if _, ok := tx.store.reversals[*txn.ReversesTransactionID]; ok {
			return domain.ErrAlreadyReversed
		}
	}
	txn.CreatedAt = time.Now().UTC()
	tx.txns = append(tx.txns, *txn)
	return nil
}

func (tx *memTx) ApplyEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	bal, ok := tx.balances[entry.AccountID]
	if !ok {
		panic("ApplyEntry on an account that was not locked")
	}
	next := bal.Amount.Add(entry.Signed())
	if next.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	bal.Amount = next
	bal.Version++
	bal.UpdatedAt = time.Now().UTC()
	tx.balances[entry.AccountID] = bal
	entry.BalanceAfter = next
	entry.CreatedAt = bal.UpdatedAt
	tx.entries = append(tx.entries, *entry)
	return nil
}

func (tx *memTx) EnqueueEvent(ctx context.Context, event store.OutboxEvent) error {
	tx.events = append(tx.events, event)
	return nil
}

func (tx *memTx) commit() error {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, txn := range tx.txns {
		if _, ok := m.byKey[txn.IdempotencyKey]; ok {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	for _, txn := range tx.txns {
		m.txns[txn.ID] = txn
		m.byKey[txn.IdempotencyKey] = txn.ID
		if txn.ReversesTransactionID != nil {
			m.reversals[*txn.ReversesTransactionID] = txn.ID
		}
	}
	for id, bal := range tx.balances {
		m.balances[id] = bal
	}
	m.entries = append(m.entries, tx.entries...)
	for _, ev := range tx.events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		m.outbox = append(m.outbox, store.OutboxMessage{
			ID:         int64(len(m.outbox) + 1),
			Exchange:   ev.Exchange,
			RoutingKey: ev.RoutingKey,
			Payload:    payload,
		})
	}
	return nil
}

// ─── AccountRepository ──────────────────────────────────────────────────────

func (m *memStore) CreateAccountWithBalance(ctx context.Context, account *domain.Account, events ...store.OutboxEvent) (*domain.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}
	if account.IsDefault {
		for _, other := range m.accounts {
			if other.IsDefault && other.UserID == account.UserID && other.Currency == account.Currency {
				return nil, fmt.Errorf("insert account: %w", domain.ErrDefaultAccountExists)
			}
		}
	}
	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt = now, now
	stored := *account
	m.accounts[account.ID] = &stored
	m.order = append(m.order, account.ID)
	bal := domain.Balance{AccountID: account.ID, Amount: decimal.Zero, Version: 1, UpdatedAt: now}
	m.balances[account.ID] = bal
	for _, ev := range events {
		payload, _ := json.Marshal(ev.Payload)
		m.outbox = append(m.outbox, store.OutboxMessage{ID: int64(len(m.outbox) + 1), Exchange: ev.Exchange, RoutingKey: ev.RoutingKey, Payload: payload})
	}
	return &domain.AccountBalance{Account: stored, Balance: bal}, nil
}

func (m *memStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &domain.AccountBalance{Account: *acc, Balance: m.balances[id]}, nil
}

func (m *memStore) ListUserAccounts(ctx context.Context, userID string) ([]domain.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AccountBalance
	for _, id := range m.order {
		if acc := m.accounts[id]; acc.UserID == userID {
			out = append(out, domain.AccountBalance{Account: *acc, Balance: m.balances[id]})
		}
	}
	return out, nil
}

func (m *memStore) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	acc.Status = status
	out := *acc
	return &out, nil
}

func (m *memStore) FindUserAccount(ctx context.Context, userID string, accountType domain.AccountType, currency string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		acc := m.accounts[id]
		if acc.UserID == userID && acc.Type == accountType && acc.Currency == currency {
			out := *acc
			return &out, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (m *memStore) FindOldestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error) {
	return m.findActive(userID, currency, false)
}

func (m *memStore) FindNewestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error) {
	return m.findActive(userID, currency, true)
}

func (m *memStore) findActive(userID, currency string, newest bool) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *domain.Account
	for _, id := range m.order {
		acc := m.accounts[id]
		if acc.UserID != userID || acc.Currency != currency || acc.Status != domain.AccountStatusActive {
			continue
		}
		if found == nil || newest {
			found = acc
		}
	}
	if found == nil {
		return nil, domain.ErrAccountNotFound
	}
	out := *found
	return &out, nil
}

// ─── SubscriptionRepository ─────────────────────────────────────────────────

func (m *memStore) CreateSubscription(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	stored := *sub
	m.subs[sub.ID] = &stored
	return nil
}

func (m *memStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	out := *sub
	return &out, nil
}

func (m *memStore) ListSubscriptionsByPayer(ctx context.Context, userID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range m.subs {
		if sub.PayerUserID == userID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeactivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	sub.Active = false
	out := *sub
	return &out, nil
}

func (m *memStore) ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range m.subs {
		if !sub.Active {
			continue
		}
		if sub.NextDueAt == nil || !sub.NextDueAt.After(asOf) {
			out = append(out, *sub)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AdvanceNextDue(ctx context.Context, id uuid.UUID, previous *time.Time, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false, domain.ErrSubscriptionNotFound
	}
	switch {
	case previous == nil && sub.NextDueAt != nil:
		return false, nil
	case previous != nil && (sub.NextDueAt == nil || !sub.NextDueAt.Equal(*previous)):
		return false, nil
	}
	n := next
	sub.NextDueAt = &n
	return true, nil
}

// recordingPublisher captures events handed to the emitter.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	event domain.Event
}

func (p *recordingPublisher) Publish(topic string, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, event: event})
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
