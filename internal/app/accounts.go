/**
 * @description
 * Account lifecycle operations. An account is created with a zero balance in a
 * single transaction; balances afterwards change only through the Engine.
 *
 * @dependencies
 * - internal/store: AccountRepository and LedgerStore (read side).
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/store"
)

const (
	defaultLedgerPageSize = 50
	maxLedgerPageSize     = 500
)

// AccountService manages accounts and exposes balance reads.
type AccountService struct {
	accounts      store.AccountRepository
	ledger        store.LedgerStore
	events        EventPublisher
	logger        *slog.Logger
	durableEvents bool
}

// NewAccountService creates a new AccountService.
func NewAccountService(accounts store.AccountRepository, ledger store.LedgerStore, events EventPublisher, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		ledger:   ledger,
		events:   events,
		logger:   logger,
	}
}

// UseOutbox writes AccountCreated to event_outbox in the creating transaction.
func (s *AccountService) UseOutbox() {
	s.durableEvents = true
}

// CreateAccount opens an ACTIVE account with a zero balance and emits AccountCreated.
func (s *AccountService) CreateAccount(ctx context.Context, ownerID, class, currency string) (*domain.AccountBalance, error) {
	return s.open(ctx, ownerID, class, currency, false)
}

// ProvisionDefaultAccount opens the user's default CHECKING account in
// currency. A user has at most one default account per currency; a second
// attempt returns domain.ErrDefaultAccountExists.
func (s *AccountService) ProvisionDefaultAccount(ctx context.Context, ownerID, currency string) (*domain.AccountBalance, error) {
	return s.open(ctx, ownerID, string(domain.AccountTypeChecking), currency, true)
}

func (s *AccountService) open(ctx context.Context, ownerID, class, currency string, isDefault bool) (*domain.AccountBalance, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidRequest)
	}
	accountType, err := domain.ParseAccountType(class)
	if err != nil {
		return nil, err
	}
	code, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:        uuid.New(),
		UserID:    ownerID,
		Type:      accountType,
		Currency:  code,
		Status:    domain.AccountStatusActive,
		IsDefault: isDefault,
	}
	event := domain.Event{
		Type: domain.EventAccountCreated,
		Payload: domain.AccountCreatedPayload{
			AccountID:   account.ID,
			UserID:      account.UserID,
			AccountType: account.Type,
			Currency:    account.Currency,
		},
	}

	var outbox []store.OutboxEvent
	if s.durableEvents {
		outbox = append(outbox, store.OutboxEvent{Exchange: domain.TopicAccountEvents, RoutingKey: event.Type, Payload: event})
	}
	created, err := s.accounts.CreateAccountWithBalance(ctx, account, outbox...)
	if err != nil {
		return nil, fmt.Errorf("create account for %s: %w", ownerID, err)
	}

	s.logger.Info("account created", "account_id", account.ID, "user_id", ownerID, "account_type", accountType, "currency", code, "default", isDefault)
	if !s.durableEvents && s.events != nil {
		s.events.Publish(domain.TopicAccountEvents, event)
	}
	return created, nil
}

// GetAccount returns an account with its balance.
func (s *AccountService) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error) {
	return s.accounts.GetAccount(ctx, accountID)
}

// GetBalance is a plain read; it takes no lock.
func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	ab, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &ab.Balance, nil
}

// ListUserAccounts returns every account owned by userID, oldest first.
func (s *AccountService) ListUserAccounts(ctx context.Context, userID string) ([]domain.AccountBalance, error) {
	return s.accounts.ListUserAccounts(ctx, userID)
}

// UpdateStatus changes the lifecycle status of an account.
func (s *AccountService) UpdateStatus(ctx context.Context, accountID uuid.UUID, status string) (*domain.Account, error) {
	parsed, err := domain.ParseAccountStatus(status)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.UpdateAccountStatus(ctx, accountID, parsed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account status updated", "account_id", accountID, "status", parsed)
	return account, nil
}

// GetAccountLedger returns the account's ledger entries, newest first. Each
// entry carries the balance right after it was applied.
func (s *AccountService) GetAccountLedger(ctx context.Context, accountID uuid.UUID, limit int, before *time.Time) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLedgerPageSize
	}
	if limit > maxLedgerPageSize {
		limit = maxLedgerPageSize
	}
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.ledger.GetAccountLedger(ctx, accountID, limit, before)
}
