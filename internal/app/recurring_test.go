package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/core-banking-service/internal/domain"
)

type stubPayers struct {
	mu       sync.Mutex
	inactive map[string]bool
	err      error
}

func (s *stubPayers) IsUserActive(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return !s.inactive[userID], nil
}

type recurringFixture struct {
	*engineFixture
	recurring *RecurringPayments
	payers    *stubPayers
}

func newRecurringFixture() *recurringFixture {
	f := newEngineFixture()
	payers := &stubPayers{inactive: map[string]bool{}}
	return &recurringFixture{
		engineFixture: f,
		payers:        payers,
		recurring:     NewRecurringPayments(f.store, f.store, f.engine, payers, 4, testLogger()),
	}
}

func (f *recurringFixture) subscribe(t *testing.T, payer, payee, amount string, next *time.Time) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		PayerUserID: payer,
		PayeeUserID: payee,
		Amount:      dec(t, amount),
		Currency:    "USD",
		Frequency:   domain.FrequencyMonthly,
		NextDueAt:   next,
		Active:      true,
	}
	if err := f.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (f *recurringFixture) nextDue(t *testing.T, id uuid.UUID) *time.Time {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), id)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return sub.NextDueAt
}

func TestProcessDueRetriesUntilPayerIsFunded(t *testing.T) {
	f := newRecurringFixture()
	ctx := context.Background()
	payer := f.store.addAccount(t, "payer", "USD")
	payee := f.store.addAccount(t, "payee", "USD")
	f.fund(t, payer, "5.00")

	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sub := f.subscribe(t, "payer", "payee", "10.00", &due)
	tickAt := due.Add(time.Minute)

	summary, err := f.recurring.ProcessDue(ctx, tickAt)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Failed != 1 || summary.Charged != 0 {
		t.Fatalf("expected one failure, got %+v", summary)
	}
	if got := f.nextDue(t, sub.ID); !got.Equal(due) {
		t.Fatalf("next due moved after a failed charge: %v", got)
	}
	assertBalance(t, f.store, payer, "5.00")

	// The next poll still sees the subscription as due and fails again.
	summary, _ = f.recurring.ProcessDue(ctx, tickAt.Add(time.Minute))
	if summary.Due != 1 || summary.Failed != 1 {
		t.Fatalf("expected a retry on the next poll, got %+v", summary)
	}

	f.fund(t, payer, "10.00")
	retryAt := tickAt.Add(2 * time.Minute)
	summary, err = f.recurring.ProcessDue(ctx, retryAt)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Charged != 1 {
		t.Fatalf("expected the charge to succeed after funding, got %+v", summary)
	}
	assertBalance(t, f.store, payer, "5.00")
	assertBalance(t, f.store, payee, "10.00")

	want := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if got := f.nextDue(t, sub.ID); got == nil || !got.Equal(want) {
		t.Fatalf("next due = %v, want %v", got, want)
	}

	key := sub.IdempotencyKeyAt(retryAt)
	if _, err := f.store.FindTransactionByIdempotencyKey(ctx, key); err != nil {
		t.Fatalf("expected a transfer under %s: %v", key, err)
	}
}

func TestProcessDueSameTickChargesOnce(t *testing.T) {
	f := newRecurringFixture()
	ctx := context.Background()
	payer := f.store.addAccount(t, "payer", "USD")
	f.store.addAccount(t, "payee", "USD")
	f.fund(t, payer, "100.00")
	sub := f.subscribe(t, "payer", "payee", "10.00", nil)
	tickAt := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	if _, err := f.recurring.ProcessDue(ctx, tickAt); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// Simulate a replica that loaded the same due row before the advance.
	res, err := f.engine.Transfer(ctx, domain.TransferRequest{
		FromAccountID:  payer,
		ToAccountID:    f.mustNewest(t, "payee"),
		Amount:         sub.Amount,
		Currency:       "USD",
		IdempotencyKey: sub.IdempotencyKeyAt(tickAt),
	})
	if err != nil || !res.Replayed {
		t.Fatalf("a repeated charge in the same tick must replay, got %+v err=%v", res, err)
	}
	assertBalance(t, f.store, payer, "90.00")

	next := f.nextDue(t, sub.ID)
	if next == nil || !next.Equal(time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next due %v", next)
	}
}

func (f *recurringFixture) mustNewest(t *testing.T, userID string) uuid.UUID {
	t.Helper()
	acc, err := f.store.FindNewestActiveAccount(context.Background(), userID, "USD")
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	return acc.ID
}

func TestProcessDueIsolatesFailures(t *testing.T) {
	f := newRecurringFixture()
	ctx := context.Background()
	rich := f.store.addAccount(t, "rich", "USD")
	f.store.addAccount(t, "poor", "USD")
	f.store.addAccount(t, "shop", "USD")
	f.fund(t, rich, "50.00")
	f.payers.inactive["ghost"] = true

	ok := f.subscribe(t, "rich", "shop", "20.00", nil)
	broke := f.subscribe(t, "poor", "shop", "20.00", nil)
	noAccount := f.subscribe(t, "nobody", "shop", "20.00", nil)
	inactive := f.subscribe(t, "ghost", "shop", "20.00", nil)

	summary, err := f.recurring.ProcessDue(ctx, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Due != 4 || summary.Charged != 1 || summary.Failed != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if f.nextDue(t, ok.ID) == nil {
		t.Fatal("charged subscription should have advanced")
	}
	for _, id := range []uuid.UUID{broke.ID, noAccount.ID, inactive.ID} {
		if f.nextDue(t, id) != nil {
			t.Fatalf("failed subscription %s must not advance", id)
		}
	}
}

func TestProcessDueUsesDesignatedAccounts(t *testing.T) {
	f := newRecurringFixture()
	ctx := context.Background()
	f.store.addAccount(t, "payer", "USD")
	designated := f.store.addAccount(t, "payer", "USD")
	target := f.store.addAccount(t, "payee", "USD")
	f.store.addAccount(t, "payee", "USD")
	f.fund(t, designated, "30.00")

	sub := f.subscribe(t, "payer", "payee", "30.00", nil)
	sub.SourceAccountID = &designated
	sub.TargetAccountID = &target
	f.store.subs[sub.ID].SourceAccountID = &designated
	f.store.subs[sub.ID].TargetAccountID = &target

	if summary, err := f.recurring.ProcessDue(ctx, time.Now().UTC()); err != nil || summary.Charged != 1 {
		t.Fatalf("expected one charge, got %+v err=%v", summary, err)
	}
	assertBalance(t, f.store, designated, "0")
	assertBalance(t, f.store, target, "30.00")
}

func TestProcessDueSkipsCancelledAndIdentityOutage(t *testing.T) {
	f := newRecurringFixture()
	ctx := context.Background()
	payer := f.store.addAccount(t, "payer", "USD")
	f.store.addAccount(t, "payee", "USD")
	f.fund(t, payer, "100.00")
	sub := f.subscribe(t, "payer", "payee", "10.00", nil)

	f.payers.err = errors.New("identity service unavailable")
	if summary, _ := f.recurring.ProcessDue(ctx, time.Now().UTC()); summary.Failed != 1 {
		t.Fatalf("identity outage should fail the tick, got %+v", summary)
	}
	assertBalance(t, f.store, payer, "100.00")

	if _, err := f.store.DeactivateSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	f.payers.err = nil
	if summary, _ := f.recurring.ProcessDue(ctx, time.Now().UTC()); summary.Due != 0 {
		t.Fatalf("cancelled subscriptions must not be picked up, got %+v", summary)
	}
}

type stubTickLock struct {
	acquired bool
	err      error
	released int
}

func (l *stubTickLock) TryAcquire(context.Context) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released++ }, true, nil
}

func TestSchedulerTickHonoursLockAndTruncates(t *testing.T) {
	f := newRecurringFixture()
	payer := f.store.addAccount(t, "payer", "USD")
	f.store.addAccount(t, "payee", "USD")
	f.fund(t, payer, "100.00")
	sub := f.subscribe(t, "payer", "payee", "10.00", nil)

	lock := &stubTickLock{}
	s := NewScheduler(f.recurring, lock, time.Minute, testLogger())
	s.now = func() time.Time { return time.Date(2026, 7, 1, 10, 30, 42, 0, time.UTC) }

	s.Tick()
	assertBalance(t, f.store, payer, "100.00")

	lock.acquired = true
	s.Tick()
	assertBalance(t, f.store, payer, "90.00")
	if lock.released != 1 {
		t.Fatalf("expected the tick lock to be released once, got %d", lock.released)
	}

	tickAt := time.Date(2026, 7, 1, 10, 30, 0, 0, time.UTC)
	if _, err := f.store.FindTransactionByIdempotencyKey(context.Background(), sub.IdempotencyKeyAt(tickAt)); err != nil {
		t.Fatalf("expected the key derived from the truncated tick: %v", err)
	}
}

// deadlineAfterTransfer expires the tick right after the transfer commits.
type deadlineAfterTransfer struct {
	transfers Transferer
	cancel    context.CancelFunc
}

func (d deadlineAfterTransfer) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.MovementResult, error) {
	res, err := d.transfers.Transfer(ctx, req)
	d.cancel()
	return res, err
}

// ctxSubscriptions fails writes on a finished context, as a database driver does.
type ctxSubscriptions struct {
	*memStore
}

func (s ctxSubscriptions) AdvanceNextDue(ctx context.Context, id uuid.UUID, previous *time.Time, next time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.memStore.AdvanceNextDue(ctx, id, previous, next)
}

func TestProcessDueAdvancesAfterTickDeadline(t *testing.T) {
	f := newRecurringFixture()
	payer := f.store.addAccount(t, "payer", "USD")
	f.store.addAccount(t, "payee", "USD")
	f.fund(t, payer, "50.00")

	due := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	sub := f.subscribe(t, "payer", "payee", "10.00", &due)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recurring := NewRecurringPayments(ctxSubscriptions{f.store}, f.store, deadlineAfterTransfer{transfers: f.engine, cancel: cancel}, nil, 1, testLogger())

	summary, err := recurring.ProcessDue(ctx, due)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if summary.Charged != 1 {
		t.Fatalf("expected the committed charge to count, got %+v", summary)
	}
	want := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	if got := f.nextDue(t, sub.ID); got == nil || !got.Equal(want) {
		t.Fatalf("next due = %v, want %v", got, want)
	}

	// A later tick finds nothing due and charges nothing more.
	summary, _ = f.recurring.ProcessDue(context.Background(), due.Add(time.Hour))
	if summary.Due != 0 {
		t.Fatalf("subscription still due after the advance: %+v", summary)
	}
	assertBalance(t, f.store, payer, "40.00")
}
