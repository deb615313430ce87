package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/domain"
)

type engineFixture struct {
	store  *memStore
	events *recordingPublisher
	engine *Engine
}

func newEngineFixture() *engineFixture {
	s := newMemStore()
	p := &recordingPublisher{}
	return &engineFixture{store: s, events: p, engine: NewEngine(s, p, testLogger())}
}

func (f *engineFixture) fund(t *testing.T, accountID uuid.UUID, amount string) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), domain.DepositRequest{
		AccountID:      accountID,
		Amount:         dec(t, amount),
		Currency:       "USD",
		IdempotencyKey: "fund-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("fund %s: %v", accountID, err)
	}
}

func assertBalance(t *testing.T, s *memStore, accountID uuid.UUID, want string) {
	t.Helper()
	if got := s.balance(accountID); !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("balance of %s = %s, want %s", accountID, got, want)
	}
}

func TestTransferScenarioReplaysSameKey(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "1000.00")
	before := f.store.transactionCount()

	req := domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "500.00"), Currency: "USD", IdempotencyKey: "k1"}
	first, err := f.engine.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if first.Replayed {
		t.Fatal("first transfer must not be a replay")
	}
	if len(first.Entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(first.Entries))
	}
	assertBalance(t, f.store, a, "500.00")
	assertBalance(t, f.store, b, "500.00")

	second, err := f.engine.Transfer(ctx, req)
	if err != nil {
		t.Fatalf("replayed transfer: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected replay on the same idempotency key")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay returned %s, want %s", second.Transaction.ID, first.Transaction.ID)
	}
	if len(second.Entries) != 2 {
		t.Fatalf("replay should carry the stored entries, got %d", len(second.Entries))
	}
	assertBalance(t, f.store, a, "500.00")
	assertBalance(t, f.store, b, "500.00")
	if got := f.store.transactionCount() - before; got != 1 {
		t.Fatalf("expected exactly one new transaction, got %d", got)
	}
	if got := len(f.events.ofType(domain.EventTransactionCompleted)); got != 2 {
		t.Fatalf("expected completed events for the deposit and the transfer only, got %d", got)
	}
}

func TestBalanceEqualsCreditsMinusDebits(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")

	steps := []func(i int) error{
		func(i int) error {
			_, err := f.engine.Deposit(ctx, domain.DepositRequest{AccountID: a, Amount: dec(t, "120.50"), Currency: "USD", IdempotencyKey: fmt.Sprintf("d-%d", i)})
			return err
		},
		func(i int) error {
			_, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "33.25"), Currency: "USD", IdempotencyKey: fmt.Sprintf("t-%d", i)})
			return err
		},
		func(i int) error {
			_, err := f.engine.Withdraw(ctx, domain.WithdrawalRequest{AccountID: b, Amount: dec(t, "10.01"), Currency: "USD", IdempotencyKey: fmt.Sprintf("w-%d", i)})
			return err
		},
	}
	for i := 0; i < 10; i++ {
		for _, step := range steps {
			if err := step(i); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
	}

	for _, id := range []uuid.UUID{a, b} {
		sum := decimal.Zero
		for _, e := range f.store.entriesFor(id) {
			sum = sum.Add(e.Signed())
		}
		if !f.store.balance(id).Equal(sum) {
			t.Fatalf("balance %s != ledger sum %s for %s", f.store.balance(id), sum, id)
		}
	}
	assertBalance(t, f.store, a, "872.50")
	assertBalance(t, f.store, b, "232.40")
}

func TestWithdrawInsufficientFundsBoundary(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	f.fund(t, a, "75.30")

	_, err := f.engine.Withdraw(ctx, domain.WithdrawalRequest{AccountID: a, Amount: dec(t, "75.31"), Currency: "USD", IdempotencyKey: "over"})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, f.store, a, "75.30")

	if _, err := f.store.FindTransactionByIdempotencyKey(ctx, "over"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("failed withdrawal must leave no transaction row, got %v", err)
	}
	failed := f.events.ofType(domain.EventTransactionFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one failure event, got %d", len(failed))
	}
	if payload := failed[0].event.Payload.(domain.TransactionEventPayload); payload.Reason != "INSUFFICIENT_FUNDS" || payload.IdempotencyKey != "over" {
		t.Fatalf("unexpected failure payload: %+v", payload)
	}

	if _, err := f.engine.Withdraw(ctx, domain.WithdrawalRequest{AccountID: a, Amount: dec(t, "75.30"), Currency: "USD", IdempotencyKey: "exact"}); err != nil {
		t.Fatalf("withdrawing the exact balance: %v", err)
	}
	assertBalance(t, f.store, a, "0")
}

func TestConcurrentOppositeTransfersDoNotDeadlock(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "100.00")
	f.fund(t, b, "100.00")

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: fmt.Sprintf("ab-%d", i)})
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: b, ToAccountID: a, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: fmt.Sprintf("ba-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
	}
	assertBalance(t, f.store, a, "100.00")
	assertBalance(t, f.store, b, "100.00")
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "50.00")

	const callers = 8
	ids := make(chan uuid.UUID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "20.00"), Currency: "USD", IdempotencyKey: "same"})
			if err != nil {
				t.Errorf("transfer: %v", err)
				return
			}
			ids <- res.Transaction.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		if id != first {
			t.Fatalf("callers observed different transactions: %s and %s", first, id)
		}
	}
	assertBalance(t, f.store, a, "30.00")
	assertBalance(t, f.store, b, "20.00")
}

func TestMovementValidation(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	eur := f.store.addAccount(t, "user-c", "EUR")
	frozen := f.store.addAccount(t, "user-d", "USD")
	f.fund(t, a, "10.00")
	f.store.setStatus(frozen, domain.AccountStatusFrozen)

	tests := []struct {
		name     string
		req      domain.TransferRequest
		wantErr  error
		lockFree bool
	}{
		{name: "zero amount", req: domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: decimal.Zero, Currency: "USD", IdempotencyKey: "v1"}, wantErr: domain.ErrInvalidAmount, lockFree: true},
		{name: "negative amount", req: domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "-1.00"), Currency: "USD", IdempotencyKey: "v2"}, wantErr: domain.ErrInvalidAmount, lockFree: true},
		{name: "sub-cent amount", req: domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "1.001"), Currency: "USD", IdempotencyKey: "v3"}, wantErr: domain.ErrInvalidAmount, lockFree: true},
		{name: "missing key", req: domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "  "}, wantErr: domain.ErrInvalidRequest, lockFree: true},
		{name: "bad currency", req: domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "1.00"), Currency: "US", IdempotencyKey: "v4"}, wantErr: domain.ErrInvalidRequest, lockFree: true},
		{name: "same account", req: domain.TransferRequest{FromAccountID: a, ToAccountID: a, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "v5"}, wantErr: domain.ErrInvalidRequest, lockFree: true},
		{name: "unknown account", req: domain.TransferRequest{FromAccountID: a, ToAccountID: uuid.New(), Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "v6"}, wantErr: domain.ErrAccountNotFound},
		{name: "currency mismatch", req: domain.TransferRequest{FromAccountID: a, ToAccountID: eur, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "v7"}, wantErr: domain.ErrCurrencyMismatch},
		{name: "frozen destination", req: domain.TransferRequest{FromAccountID: a, ToAccountID: frozen, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "v8"}, wantErr: domain.ErrAccountNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locksBefore := f.store.lockCalls
			_, err := f.engine.Transfer(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.lockFree && f.store.lockCalls != locksBefore {
				t.Fatalf("validation failure must not take locks")
			}
		})
	}
	assertBalance(t, f.store, a, "10.00")
}

func TestDepositRecordsProvenanceAndOwners(t *testing.T) {
	f := newEngineFixture()
	a := f.store.addAccount(t, "user-a", "USD")

	res, err := f.engine.Deposit(context.Background(), domain.DepositRequest{
		AccountID:      a,
		Amount:         dec(t, "25.00"),
		Currency:       "usd",
		IdempotencyKey: "dep-1",
		Provenance:     domain.Provenance{Provider: "anchor", ProviderTransactionID: "anc_123"},
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Transaction.Currency != "USD" {
		t.Fatalf("currency not normalised: %q", res.Transaction.Currency)
	}
	if res.Transaction.Metadata["provider"] != "anchor" || res.Transaction.Metadata["provider_transaction_id"] != "anc_123" {
		t.Fatalf("provenance not recorded: %+v", res.Transaction.Metadata)
	}
	if !res.Entries[0].BalanceAfter.Equal(dec(t, "25.00")) {
		t.Fatalf("unexpected balance_after %s", res.Entries[0].BalanceAfter)
	}

	completed := f.events.ofType(domain.EventTransactionCompleted)
	if len(completed) != 1 || completed[0].topic != domain.TopicTransactionEvents {
		t.Fatalf("expected one completed event on transaction-events, got %+v", completed)
	}
	payload := completed[0].event.Payload.(domain.TransactionEventPayload)
	if payload.ToUserID != "user-a" || payload.Amount != "25.00" || payload.TransactionID == nil || *payload.TransactionID != res.Transaction.ID {
		t.Fatalf("unexpected completed payload: %+v", payload)
	}
}

func TestReverseTransfer(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "100.00")

	original, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "40.00"), Currency: "USD", IdempotencyKey: "orig"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	rev, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "rev-1", Reason: "customer dispute"})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	assertBalance(t, f.store, a, "100.00")
	assertBalance(t, f.store, b, "0")
	if rev.Transaction.Type != domain.TransactionTypeReversal || *rev.Transaction.ReversesTransactionID != original.Transaction.ID {
		t.Fatalf("unexpected reversal row: %+v", rev.Transaction)
	}
	if *rev.Transaction.FromAccountID != b || *rev.Transaction.ToAccountID != a {
		t.Fatalf("reversal should swap parties: %+v", rev.Transaction)
	}
	if rev.Transaction.Metadata["reason"] != "customer dispute" {
		t.Fatalf("reason not recorded: %+v", rev.Transaction.Metadata)
	}

	replay, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "rev-1"})
	if err != nil || !replay.Replayed || replay.Transaction.ID != rev.Transaction.ID {
		t.Fatalf("expected replay of the reversal, got %+v err=%v", replay, err)
	}

	if _, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "rev-2"}); !errors.Is(err, domain.ErrAlreadyReversed) {
		t.Fatalf("expected ErrAlreadyReversed, got %v", err)
	}
	if _, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: rev.Transaction.ID, IdempotencyKey: "rev-3"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("reversing a reversal should be invalid, got %v", err)
	}
	if _, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: uuid.New(), IdempotencyKey: "rev-4"}); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestReverseRequiresFundsOnDebitedAccount(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "40.00")

	original, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "40.00"), Currency: "USD", IdempotencyKey: "orig"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.engine.Withdraw(ctx, domain.WithdrawalRequest{AccountID: b, Amount: dec(t, "15.00"), Currency: "USD", IdempotencyKey: "spend"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "rev"}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	assertBalance(t, f.store, a, "0")
	assertBalance(t, f.store, b, "25.00")
}

func TestReverseAllowsFrozenAccount(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "10.00")
	original, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "10.00"), Currency: "USD", IdempotencyKey: "orig"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	f.store.setStatus(b, domain.AccountStatusFrozen)

	if _, err := f.engine.Reverse(ctx, domain.ReversalRequest{TransactionID: original.Transaction.ID, IdempotencyKey: "rev"}); err != nil {
		t.Fatalf("reversal on a frozen account: %v", err)
	}
	assertBalance(t, f.store, a, "10.00")

	f.store.setStatus(a, domain.AccountStatusClosed)
	if _, err := f.engine.Deposit(ctx, domain.DepositRequest{AccountID: a, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "closed"}); !errors.Is(err, domain.ErrAccountNotActive) {
		t.Fatalf("expected ErrAccountNotActive on a closed account, got %v", err)
	}
}

func TestOutboxModeEnqueuesInsteadOfPublishing(t *testing.T) {
	f := newEngineFixture()
	f.engine.UseOutbox()
	a := f.store.addAccount(t, "user-a", "USD")

	if _, err := f.engine.Deposit(context.Background(), domain.DepositRequest{AccountID: a, Amount: dec(t, "5.00"), Currency: "USD", IdempotencyKey: "ob-1"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := len(f.events.ofType(domain.EventTransactionCompleted)); got != 0 {
		t.Fatalf("completed event must not be published directly in outbox mode, got %d", got)
	}
	if len(f.store.outbox) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(f.store.outbox))
	}
	msg := f.store.outbox[0]
	if msg.Exchange != domain.TopicTransactionEvents || msg.RoutingKey != domain.EventTransactionCompleted {
		t.Fatalf("unexpected outbox row: %+v", msg)
	}
}

func TestGetTransactionLedger(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	b := f.store.addAccount(t, "user-b", "USD")
	f.fund(t, a, "9.00")
	res, err := f.engine.Transfer(ctx, domain.TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec(t, "4.00"), Currency: "USD", IdempotencyKey: "led"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	entries, err := f.engine.GetTransactionLedger(ctx, res.Transaction.ID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 2 || entries[0].EntryType != domain.EntryTypeDebit || entries[1].EntryType != domain.EntryTypeCredit {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if _, err := f.engine.GetTransactionLedger(ctx, uuid.New()); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestLockOrderIsAscending(t *testing.T) {
	x := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")
	y := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	got := lockOrder([]leg{{accountID: x}, {accountID: y}, {accountID: x}})
	if len(got) != 2 || got[0] != y || got[1] != x {
		t.Fatalf("unexpected lock order %v", got)
	}
}

func TestLockTimeoutIsRetryableWithSameKey(t *testing.T) {
	f := newEngineFixture()
	f.store.lockTimeout = 50 * time.Millisecond
	ctx := context.Background()
	a := f.store.addAccount(t, "user-a", "USD")
	f.fund(t, a, "20.00")
	before := f.store.transactionCount()

	// Another unit of work holds the balance row.
	held := f.store.rowLock(a)
	held <- struct{}{}

	req := domain.WithdrawalRequest{AccountID: a, Amount: dec(t, "5.00"), Currency: "USD", IdempotencyKey: "wd-busy"}
	_, err := f.engine.Withdraw(ctx, req)
	if !errors.Is(err, domain.ErrLockTimeout) || !domain.IsRetryable(err) {
		t.Fatalf("expected a retryable ErrLockTimeout, got %v", err)
	}
	if got := f.store.transactionCount(); got != before {
		t.Fatalf("a timed out attempt must not persist a transaction, count %d -> %d", before, got)
	}
	if got := len(f.events.ofType(domain.EventTransactionFailed)); got != 1 {
		t.Fatalf("expected one TransactionFailed event, got %d", got)
	}

	<-held
	first, err := f.engine.Withdraw(ctx, req)
	if err != nil || first.Replayed {
		t.Fatalf("retry after release: res=%+v err=%v", first, err)
	}
	second, err := f.engine.Withdraw(ctx, req)
	if err != nil || !second.Replayed || second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("second retry must replay, res=%+v err=%v", second, err)
	}
	assertBalance(t, f.store, a, "15.00")
}

func TestLockWaitHonoursContext(t *testing.T) {
	f := newEngineFixture()
	a := f.store.addAccount(t, "user-a", "USD")
	f.fund(t, a, "20.00")

	held := f.store.rowLock(a)
	held <- struct{}{}
	defer func() { <-held }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.engine.Withdraw(ctx, domain.WithdrawalRequest{AccountID: a, Amount: dec(t, "1.00"), Currency: "USD", IdempotencyKey: "wd-ctx"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the lock wait to end with the context, got %v", err)
	}
}

func TestDepositCannotOverflowBalance(t *testing.T) {
	f := newEngineFixture()
	a := f.store.addAccount(t, "user-a", "USD")
	f.fund(t, a, "9999999999999999.00")

	_, err := f.engine.Deposit(context.Background(), domain.DepositRequest{
		AccountID:      a,
		Amount:         dec(t, "1.00"),
		Currency:       "USD",
		IdempotencyKey: "dep-overflow",
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	assertBalance(t, f.store, a, "9999999999999999.00")

	_, err = f.engine.Deposit(context.Background(), domain.DepositRequest{
		AccountID:      a,
		Amount:         dec(t, "100000000000000000"),
		Currency:       "USD",
		IdempotencyKey: "dep-huge",
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for an amount beyond the column range, got %v", err)
	}
}
