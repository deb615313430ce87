package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/store"
)

// SubscriptionService manages recurring payment intents.
type SubscriptionService struct {
	subs     store.SubscriptionRepository
	accounts store.AccountRepository
	logger   *slog.Logger
}

func NewSubscriptionService(subs store.SubscriptionRepository, accounts store.AccountRepository, logger *slog.Logger) *SubscriptionService {
	return &SubscriptionService{subs: subs, accounts: accounts, logger: logger}
}

// CreateSubscription validates and stores a new active subscription. When no
// start time is given the subscription is due on the next scheduler tick.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	payer := strings.TrimSpace(req.PayerUserID)
	payee := strings.TrimSpace(req.PayeeUserID)
	if payer == "" || payee == "" {
		return nil, fmt.Errorf("%w: payer and payee are required", domain.ErrInvalidRequest)
	}
	if payer == payee {
		return nil, fmt.Errorf("%w: payer and payee must differ", domain.ErrInvalidRequest)
	}
	currency, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount, currency); err != nil {
		return nil, err
	}
	frequency, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		return nil, err
	}
	if req.SourceAccountID != nil {
		if err := s.checkDesignated(ctx, *req.SourceAccountID, payer, currency); err != nil {
			return nil, err
		}
	}
	if req.TargetAccountID != nil {
		if err := s.checkDesignated(ctx, *req.TargetAccountID, payee, currency); err != nil {
			return nil, err
		}
	}

	sub := &domain.Subscription{
		ID:              uuid.New(),
		PayerUserID:     payer,
		PayeeUserID:     payee,
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		Amount:          req.Amount,
		Currency:        currency,
		Frequency:       frequency,
		NextDueAt:       req.StartAt,
		Active:          true,
		Description:     strings.TrimSpace(req.Description),
	}
	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info("subscription created", "subscription_id", sub.ID, "user_id", payer, "provider_id", payee, "frequency", frequency)
	return sub, nil
}

// checkDesignated verifies that a designated account belongs to owner and holds currency.
func (s *SubscriptionService) checkDesignated(ctx context.Context, accountID uuid.UUID, owner, currency string) error {
	ab, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if ab.Account.UserID != owner {
		return fmt.Errorf("%w: account %s does not belong to %s", domain.ErrInvalidRequest, accountID, owner)
	}
	if ab.Account.Currency != currency {
		return fmt.Errorf("%w: account %s holds %s", domain.ErrCurrencyMismatch, accountID, ab.Account.Currency)
	}
	return nil
}

// ListSubscriptions returns the payer's subscriptions, newest first.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, payerID string) ([]domain.Subscription, error) {
	return s.subs.ListSubscriptionsByPayer(ctx, payerID)
}

// CancelSubscription deactivates a subscription owned by payerID. A cancelled
// subscription is never picked up by the scheduler again.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, id uuid.UUID, payerID string) (*domain.Subscription, error) {
	sub, err := s.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PayerUserID != payerID {
		return nil, domain.ErrSubscriptionNotFound
	}
	if !sub.Active {
		return sub, nil
	}
	cancelled, err := s.subs.DeactivateSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription cancelled", "subscription_id", id, "user_id", payerID)
	return cancelled, nil
}
